// Package geojson provides GeoJSON geometry types and utilities.
package geojson

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Geometry type names.
const (
	TypePoint      = "Point"
	TypeLineString = "LineString"
	TypePolygon    = "Polygon"
)

// Geometry represents a GeoJSON geometry object.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature is a GeoJSON Feature wrapping a single geometry.
type Feature struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Geometry   *Geometry      `json:"geometry"`
	BBox       []float64      `json:"bbox,omitempty"`
	Properties map[string]any `json:"properties"`
}

// NewFeature builds a Feature for the geometry, computing its bbox when possible.
func NewFeature(id string, g *Geometry, properties map[string]any) *Feature {
	if properties == nil {
		properties = make(map[string]any)
	}
	f := &Feature{
		Type:       "Feature",
		ID:         id,
		Geometry:   g,
		Properties: properties,
	}
	if bbox, err := ComputeBBox(g); err == nil {
		f.BBox = bbox
	}
	return f
}

// NewPoint creates a Point geometry from a longitude and latitude.
func NewPoint(lon, lat float64) (*Geometry, error) {
	return marshalGeometry(TypePoint, []float64{lon, lat})
}

// NewLineString creates a LineString geometry from [lon, lat] positions.
func NewLineString(positions [][]float64) (*Geometry, error) {
	if len(positions) < 2 {
		return nil, fmt.Errorf("LineString needs at least 2 positions, got %d", len(positions))
	}
	return marshalGeometry(TypeLineString, positions)
}

// NewPolygon creates a single-ring Polygon from [lon, lat] positions.
// The ring is closed if the last position does not repeat the first.
func NewPolygon(ring [][]float64) (*Geometry, error) {
	if len(ring) < 3 {
		return nil, fmt.Errorf("polygon ring needs at least 3 positions, got %d", len(ring))
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		closed := make([][]float64, len(ring), len(ring)+1)
		copy(closed, ring)
		ring = append(closed, []float64{first[0], first[1]})
	}
	return marshalGeometry(TypePolygon, [][][]float64{ring})
}

func marshalGeometry(typ string, coords any) (*Geometry, error) {
	coordsJSON, err := json.Marshal(coords)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s coordinates: %w", typ, err)
	}
	return &Geometry{
		Type:        typ,
		Coordinates: coordsJSON,
	}, nil
}

// Point returns the coordinates as a Point [lon, lat].
// Returns error if geometry is not a Point.
func (g *Geometry) Point() ([]float64, error) {
	if g.Type != TypePoint {
		return nil, fmt.Errorf("geometry is not a Point, got %s", g.Type)
	}
	var coords []float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Point coordinates: %w", err)
	}
	if len(coords) < 2 {
		return nil, fmt.Errorf("invalid Point coordinates: expected at least 2 values, got %d", len(coords))
	}
	return coords, nil
}

// LineString returns the coordinates as a LineString [][lon, lat].
// Returns error if geometry is not a LineString.
func (g *Geometry) LineString() ([][]float64, error) {
	if g.Type != TypeLineString {
		return nil, fmt.Errorf("geometry is not a LineString, got %s", g.Type)
	}
	var coords [][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LineString coordinates: %w", err)
	}
	return coords, nil
}

// Polygon returns the coordinates as a Polygon [][][lon, lat].
// Returns error if geometry is not a Polygon.
func (g *Geometry) Polygon() ([][][]float64, error) {
	if g.Type != TypePolygon {
		return nil, fmt.Errorf("geometry is not a Polygon, got %s", g.Type)
	}
	var coords [][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Polygon coordinates: %w", err)
	}
	return coords, nil
}

// BBox computes the bounding box of the geometry.
// Returns [west, south, east, north].
func (g *Geometry) BBox() ([]float64, error) {
	return ComputeBBox(g)
}

// ComputeBBox computes the bounding box of a geometry.
// Returns [west, south, east, north]. Longitudes outside [-180, 180], as
// produced by rings unwrapped across the antimeridian, are folded back into
// range, in which case west is greater than east.
func ComputeBBox(g *Geometry) ([]float64, error) {
	if g == nil {
		return nil, fmt.Errorf("geometry is nil")
	}

	minLon, minLat := math.Inf(1), math.Inf(1)
	maxLon, maxLat := math.Inf(-1), math.Inf(-1)

	extend := func(point []float64) {
		if len(point) < 2 {
			return
		}
		minLon = math.Min(minLon, point[0])
		maxLon = math.Max(maxLon, point[0])
		minLat = math.Min(minLat, point[1])
		maxLat = math.Max(maxLat, point[1])
	}

	switch g.Type {
	case TypePoint:
		coords, err := g.Point()
		if err != nil {
			return nil, err
		}
		lon := WrapLongitude(coords[0])
		return []float64{lon, coords[1], lon, coords[1]}, nil

	case TypeLineString:
		coords, err := g.LineString()
		if err != nil {
			return nil, err
		}
		for _, point := range coords {
			extend(point)
		}

	case TypePolygon:
		coords, err := g.Polygon()
		if err != nil {
			return nil, err
		}
		for _, ring := range coords {
			for _, point := range ring {
				extend(point)
			}
		}

	default:
		return nil, fmt.Errorf("unsupported geometry type: %s", g.Type)
	}

	if math.IsInf(minLon, 0) || math.IsInf(minLat, 0) {
		return nil, fmt.Errorf("failed to compute bounding box: no valid coordinates found")
	}

	if maxLon-minLon >= 360 {
		return []float64{-180, minLat, 180, maxLat}, nil
	}

	return []float64{WrapLongitude(minLon), minLat, WrapLongitude(maxLon), maxLat}, nil
}

// WrapLongitude folds a longitude into [-180, 180].
func WrapLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	wrapped := math.Mod(lon+180, 360)
	if wrapped < 0 {
		wrapped += 360
	}
	return wrapped - 180
}

// ToWKT converts a GeoJSON geometry to WKT format.
// Supports Point, LineString, and Polygon.
func ToWKT(g *Geometry) (string, error) {
	if g == nil {
		return "", fmt.Errorf("geometry is nil")
	}

	switch g.Type {
	case TypePoint:
		coords, err := g.Point()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("POINT(%s %s)", formatFloat(coords[0]), formatFloat(coords[1])), nil

	case TypeLineString:
		coords, err := g.LineString()
		if err != nil {
			return "", err
		}
		positions, err := joinPositions(coords)
		if err != nil {
			return "", err
		}
		return "LINESTRING(" + positions + ")", nil

	case TypePolygon:
		coords, err := g.Polygon()
		if err != nil {
			return "", err
		}
		rings := make([]string, 0, len(coords))
		for _, ring := range coords {
			positions, err := joinPositions(ring)
			if err != nil {
				return "", err
			}
			rings = append(rings, "("+positions+")")
		}
		return "POLYGON(" + strings.Join(rings, ",") + ")", nil

	default:
		return "", fmt.Errorf("unsupported geometry type for WKT conversion: %s", g.Type)
	}
}

func joinPositions(positions [][]float64) (string, error) {
	points := make([]string, len(positions))
	for i, point := range positions {
		if len(point) < 2 {
			return "", fmt.Errorf("invalid position: expected at least 2 coordinates")
		}
		points[i] = formatFloat(point[0]) + " " + formatFloat(point[1])
	}
	return strings.Join(points, ","), nil
}

// formatFloat formats a float64 for WKT output
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
