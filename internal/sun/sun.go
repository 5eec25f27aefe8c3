// Package sun provides the direction of the light source used to decide
// whether the satellite is illuminated.
package sun

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
)

// Source returns a unit vector pointing from the body centre toward the sun
// in the world frame.
type Source interface {
	Direction(t time.Time) r3.Vector
}

// Fixed is a light source with a constant direction.
type Fixed struct {
	dir r3.Vector
}

// DefaultDirection is the scene light position used with the circular orbit.
var DefaultDirection = r3.Vector{X: 5, Y: 3, Z: 5}

// NewFixed returns a fixed source pointing along dir.
func NewFixed(dir r3.Vector) Fixed {
	return Fixed{dir: dir.Normalize()}
}

// Direction implements Source.
func (f Fixed) Direction(time.Time) r3.Vector {
	return f.dir
}

// Ephemeris computes the apparent sun direction for a time, in the Earth-fixed
// Y-polar body frame used by orbit.TLE.
type Ephemeris struct{}

// Direction implements Source.
func (Ephemeris) Direction(t time.Time) r3.Vector {
	return geodesy.FromECEF(DirectionECEF(t))
}

// DirectionECEF returns the unit sun vector in ECEF (Z toward the north pole).
func DirectionECEF(t time.Time) r3.Vector {
	jd := julian.TimeToJD(t.UTC())

	// Apparent right ascension and declination, then into an inertial frame.
	ra, dec := solar.ApparentEquatorial(jd)
	cosDec := math.Cos(dec.Rad())
	x := cosDec * math.Cos(ra.Rad())
	y := cosDec * math.Sin(ra.Rad())
	z := math.Sin(dec.Rad())

	// Rotate by apparent sidereal time into the Earth-fixed frame.
	gst := sidereal.Apparent(jd).Angle().Rad()
	cosG, sinG := math.Cos(gst), math.Sin(gst)

	return r3.Vector{
		X: x*cosG + y*sinG,
		Y: -x*sinG + y*cosG,
		Z: z,
	}.Normalize()
}
