// Package geodesy converts between body-local direction vectors and
// geographic coordinates.
//
// The body frame is Y-up: latitude is measured from the XZ (equatorial) plane
// and longitude is measured about the Y (polar) axis, with atan2(z, x).
package geodesy

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// GeoCoordinate is a latitude/longitude pair in degrees.
type GeoCoordinate struct {
	LatitudeDeg  float64 `json:"lat"`
	LongitudeDeg float64 `json:"lon"`
}

// String implements fmt.Stringer using the hemisphere display format.
func (c GeoCoordinate) String() string {
	return Format(c)
}

// LatLng returns the coordinate as an s2.LatLng.
func (c GeoCoordinate) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(c.LatitudeDeg, c.LongitudeDeg)
}

// Sentinel errors for coordinate conversion.
var (
	ErrBodyNotReady = geodesyError("body frame not ready")
	ErrZeroVector   = geodesyError("position vector has no direction")
)

type geodesyError string

func (e geodesyError) Error() string {
	return string(e)
}

// ToGeodetic maps a body-local vector to a geographic coordinate.
// The vector is normalized first, so any non-zero length is accepted.
// It returns false for a zero or non-finite vector.
func ToGeodetic(local r3.Vector) (GeoCoordinate, bool) {
	n := local.Norm()
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return GeoCoordinate{}, false
	}
	u := local.Mul(1 / n)

	lat := math.Asin(clamp(u.Y, -1, 1))
	lon := math.Atan2(u.Z, u.X)

	return GeoCoordinate{
		LatitudeDeg:  lat * 180 / math.Pi,
		LongitudeDeg: lon * 180 / math.Pi,
	}, true
}

// ToDirection is the inverse of ToGeodetic. It returns the point at the
// given radius for the coordinate.
func ToDirection(c GeoCoordinate, radius float64) r3.Vector {
	lat := c.LatitudeDeg * math.Pi / 180
	lon := c.LongitudeDeg * math.Pi / 180
	cosLat := math.Cos(lat)

	return r3.Vector{
		X: radius * cosLat * math.Cos(lon),
		Y: radius * math.Sin(lat),
		Z: radius * cosLat * math.Sin(lon),
	}
}

// BodyFrame is the orientation of a body spinning about its polar (Y) axis.
type BodyFrame struct {
	// Rotation is the body's spin angle about +Y in radians.
	Rotation float64
}

// ToLocal transforms a world-frame vector into the body's local frame by
// undoing the body's rotation.
func (f BodyFrame) ToLocal(world r3.Vector) r3.Vector {
	c := math.Cos(f.Rotation)
	s := math.Sin(f.Rotation)

	return r3.Vector{
		X: world.X*c - world.Z*s,
		Y: world.Y,
		Z: world.X*s + world.Z*c,
	}
}

// ToWorld is the inverse of ToLocal.
func (f BodyFrame) ToWorld(local r3.Vector) r3.Vector {
	c := math.Cos(f.Rotation)
	s := math.Sin(f.Rotation)

	return r3.Vector{
		X: local.X*c + local.Z*s,
		Y: local.Y,
		Z: -local.X*s + local.Z*c,
	}
}

// SubSatellite returns the geographic coordinate directly beneath a
// world-frame position. A nil frame means the body has not been initialised
// yet and yields ErrBodyNotReady.
func SubSatellite(frame *BodyFrame, world r3.Vector) (GeoCoordinate, error) {
	if frame == nil {
		return GeoCoordinate{}, ErrBodyNotReady
	}
	c, ok := ToGeodetic(frame.ToLocal(world))
	if !ok {
		return GeoCoordinate{}, ErrZeroVector
	}
	return c, nil
}

// FromECEF maps an Earth-centred Earth-fixed vector (Z toward the north pole)
// into the Y-polar body frame with east-positive longitude.
func FromECEF(v r3.Vector) r3.Vector {
	return r3.Vector{X: v.X, Y: v.Z, Z: v.Y}
}

// AngularDistance returns the great-circle angle between two coordinates.
func AngularDistance(a, b GeoCoordinate) s1.Angle {
	return a.LatLng().Distance(b.LatLng())
}

// SunFacing reports whether a position lies on the lit side of the body for
// the given sun direction.
func SunFacing(position, sunDir r3.Vector) bool {
	return position.Dot(sunDir) > 0
}

// FormatLatitude renders an absolute latitude with a N/S suffix,
// e.g. "12.34° N".
func FormatLatitude(lat float64) string {
	hemi := "N"
	if lat < 0 {
		hemi = "S"
	}
	return fmt.Sprintf("%.2f° %s", math.Abs(lat), hemi)
}

// FormatLongitude renders an absolute longitude with an E/W suffix.
func FormatLongitude(lon float64) string {
	hemi := "E"
	if lon < 0 {
		hemi = "W"
	}
	return fmt.Sprintf("%.2f° %s", math.Abs(lon), hemi)
}

// Format renders a coordinate as "lat, lon" with hemisphere suffixes.
func Format(c GeoCoordinate) string {
	return FormatLatitude(c.LatitudeDeg) + ", " + FormatLongitude(c.LongitudeDeg)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
