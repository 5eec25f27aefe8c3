// Package orbit supplies satellite positions and body orientation over time.
package orbit

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

// Sample is the satellite and body state at an instant.
type Sample struct {
	At time.Time
	// Position is the satellite position in the world frame, in the same
	// units as the source's body radius.
	Position r3.Vector
	Body     geodesy.BodyFrame
}

// Source produces samples for a point in time.
type Source interface {
	Sample(t time.Time) (Sample, error)
	// BodyRadius is the radius of the orbited body in position units.
	BodyRadius() float64
}

// Sentinel errors for orbit sources.
var (
	ErrInvalidTLE        = orbitError("invalid TLE")
	ErrPropagationFailed = orbitError("propagation failed")
)

type orbitError string

func (e orbitError) Error() string {
	return string(e)
}

// Circular is a uniform circular orbit around a spinning body. The orbit
// plane is tilted about the world Z axis, which places it close to polar for
// tilts near 90 degrees.
type Circular struct {
	Epoch              time.Time
	Radius             float64
	Tilt               float64 // radians
	Period             time.Duration
	BodyRotationPeriod time.Duration
	Body               float64
}

// CircularConfig configures NewCircular.
type CircularConfig struct {
	Epoch              time.Time
	OrbitRadius        float64
	TiltDeg            float64
	Period             time.Duration
	BodyRotationPeriod time.Duration
	BodyRadius         float64
}

// NewCircular builds a circular orbit. Zero fields fall back to a satellite
// at three body radii on a 98 degree orbit with a 10s period above a body
// spinning once a minute.
func NewCircular(cfg CircularConfig) *Circular {
	if cfg.BodyRadius == 0 {
		cfg.BodyRadius = 1
	}
	if cfg.OrbitRadius == 0 {
		cfg.OrbitRadius = 3 * cfg.BodyRadius
	}
	if cfg.TiltDeg == 0 {
		cfg.TiltDeg = 98
	}
	if cfg.Period == 0 {
		cfg.Period = 10 * time.Second
	}
	if cfg.BodyRotationPeriod == 0 {
		cfg.BodyRotationPeriod = 60 * time.Second
	}
	return &Circular{
		Epoch:              cfg.Epoch,
		Radius:             cfg.OrbitRadius,
		Tilt:               cfg.TiltDeg * math.Pi / 180,
		Period:             cfg.Period,
		BodyRotationPeriod: cfg.BodyRotationPeriod,
		Body:               cfg.BodyRadius,
	}
}

// BodyRadius implements Source.
func (c *Circular) BodyRadius() float64 {
	return c.Body
}

// Sample implements Source.
func (c *Circular) Sample(t time.Time) (Sample, error) {
	elapsed := t.Sub(c.Epoch).Seconds()

	orbitAngle := phase(elapsed, c.Period)
	bodyAngle := phase(elapsed, c.BodyRotationPeriod)

	// Revolve in the equatorial plane first, then tilt the whole plane:
	// Rz(tilt)·Ry(ωt). The reverse order would hold the satellite on a
	// single latitude circle.
	p := rotateY(r3.Vector{X: c.Radius}, orbitAngle)
	p = rotateZ(p, c.Tilt)

	return Sample{
		At:       t,
		Position: p,
		Body:     geodesy.BodyFrame{Rotation: bodyAngle},
	}, nil
}

func phase(elapsedSec float64, period time.Duration) float64 {
	if period <= 0 {
		return 0
	}
	return math.Mod(elapsedSec/period.Seconds(), 1) * 2 * math.Pi
}

func rotateY(v r3.Vector, a float64) r3.Vector {
	c, s := math.Cos(a), math.Sin(a)
	return r3.Vector{
		X: v.X*c + v.Z*s,
		Y: v.Y,
		Z: -v.X*s + v.Z*c,
	}
}

func rotateZ(v r3.Vector, a float64) r3.Vector {
	c, s := math.Cos(a), math.Sin(a)
	return r3.Vector{
		X: v.X*c - v.Y*s,
		Y: v.X*s + v.Y*c,
		Z: v.Z,
	}
}
