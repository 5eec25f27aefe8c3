// Package footprint projects imaging swath polygons onto a spherical body.
//
// A pass is described by the sub-satellite points at its start and end. The
// swath is the strip within a fixed angular half-width of the great circle
// joining them. All geometry is done on unit vectors, so passes over a pole
// or across the antimeridian need no special handling.
package footprint

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
	"github.com/robert-malhotra/orbit-imager/pkg/geojson"
)

// axisEpsilon is the squared cross-product length below which the start and
// end points are treated as coincident or antipodal.
const axisEpsilon = 1e-12

// DefaultSurfaceOffset lifts corners slightly above the body surface.
const DefaultSurfaceOffset = 0.002

// Corner indices into Footprint.Corners.
const (
	StartLeft = iota
	StartRight
	EndRight
	EndLeft
)

// Footprint is a projected swath quadrilateral.
type Footprint struct {
	// Corners in body-local coordinates, ordered start-left, start-right,
	// end-right, end-left.
	Corners     [4]r3.Vector          `json:"corners"`
	CenterStart geodesy.GeoCoordinate `json:"center_start"`
	CenterEnd   geodesy.GeoCoordinate `json:"center_end"`
}

// HalfSwathAngle converts a swath half-width on the surface into the angle
// it subtends at the body centre, in radians.
func HalfSwathAngle(halfWidthKm, bodyRadiusKm float64) float64 {
	return halfWidthKm / bodyRadiusKm
}

// Projector holds the swath parameters used for every projection.
type Projector struct {
	HalfSwathRad  float64
	BodyRadius    float64
	SurfaceOffset float64
}

// NewProjector returns a Projector with the default surface offset.
func NewProjector(halfSwathRad, bodyRadius float64) Projector {
	return Projector{
		HalfSwathRad:  halfSwathRad,
		BodyRadius:    bodyRadius,
		SurfaceOffset: DefaultSurfaceOffset,
	}
}

// Project computes the footprint between two ground points. It returns false
// when the pass is degenerate (start and end coincide or are antipodal).
func (p Projector) Project(start, end geodesy.GeoCoordinate) (*Footprint, bool) {
	s := geodesy.ToDirection(start, 1)
	e := geodesy.ToDirection(end, 1)

	axis := s.Cross(e)
	if axis.Norm2() < axisEpsilon {
		return nil, false
	}
	axis = axis.Normalize()

	scale := p.BodyRadius * (1 + p.SurfaceOffset)
	sl, sr := p.offsets(axis, s)
	el, er := p.offsets(axis, e)

	fp := &Footprint{
		Corners: [4]r3.Vector{
			StartLeft:  sl.Mul(scale),
			StartRight: sr.Mul(scale),
			EndRight:   er.Mul(scale),
			EndLeft:    el.Mul(scale),
		},
	}
	fp.CenterStart, _ = geodesy.ToGeodetic(s)
	fp.CenterEnd, _ = geodesy.ToGeodetic(e)

	return fp, true
}

// offsets returns the unit left and right corner directions for a point on
// the pass.
func (p Projector) offsets(axis, point r3.Vector) (left, right r3.Vector) {
	along := axis.Cross(point).Normalize()
	cross := along.Cross(point).Normalize()

	cosA := math.Cos(p.HalfSwathRad)
	sinA := math.Sin(p.HalfSwathRad)

	left = point.Mul(cosA).Add(cross.Mul(sinA)).Normalize()
	right = point.Mul(cosA).Sub(cross.Mul(sinA)).Normalize()
	return left, right
}

// Project is a convenience wrapper around Projector with the default
// surface offset.
func Project(start, end geodesy.GeoCoordinate, halfSwathRad, bodyRadius float64) (*Footprint, bool) {
	return NewProjector(halfSwathRad, bodyRadius).Project(start, end)
}

// CornerCoordinates returns the geographic coordinates of the four corners
// in corner order.
func (f *Footprint) CornerCoordinates() []geodesy.GeoCoordinate {
	coords := make([]geodesy.GeoCoordinate, 0, len(f.Corners))
	for _, c := range f.Corners {
		if g, ok := geodesy.ToGeodetic(c); ok {
			coords = append(coords, g)
		}
	}
	return coords
}

// SamplePoints returns the points used to describe the area under the
// footprint: the four corners followed by the two centres.
func (f *Footprint) SamplePoints() []geodesy.GeoCoordinate {
	return append(f.CornerCoordinates(), f.CenterStart, f.CenterEnd)
}

// Geometry returns the footprint as a closed GeoJSON polygon. Longitudes are
// unwrapped vertex to vertex so the ring never jumps across the antimeridian.
func (f *Footprint) Geometry() (*geojson.Geometry, error) {
	coords := f.CornerCoordinates()
	if len(coords) != len(f.Corners) {
		return nil, fmt.Errorf("footprint has %d valid corners, want %d", len(coords), len(f.Corners))
	}

	ring := make([][]float64, 0, len(coords))
	prevLon := coords[0].LongitudeDeg
	for _, c := range coords {
		lon := c.LongitudeDeg
		for lon-prevLon > 180 {
			lon -= 360
		}
		for lon-prevLon < -180 {
			lon += 360
		}
		ring = append(ring, []float64{lon, c.LatitudeDeg})
		prevLon = lon
	}

	return geojson.NewPolygon(ring)
}

// Cone is the transform of a sensor cone drawn from the satellite to its
// ground target.
type Cone struct {
	Origin    r3.Vector `json:"origin"`
	Direction r3.Vector `json:"direction"`
	Length    float64   `json:"length"`
}

// SensorCone orients a cone from the satellite toward the target point.
// It returns false when the two positions coincide.
func SensorCone(satellite, target r3.Vector) (Cone, bool) {
	d := target.Sub(satellite)
	length := d.Norm()
	if length == 0 {
		return Cone{}, false
	}
	return Cone{
		Origin:    satellite,
		Direction: d.Mul(1 / length),
		Length:    length,
	}, true
}
