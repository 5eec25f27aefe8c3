package orbit

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

// EarthRadiusKm is the mean Earth radius used for the TLE source.
const EarthRadiusKm = 6371.0

// TLE propagates a two-line element set with SGP4. Positions are Earth-fixed
// and expressed in the Y-polar body frame, so the body rotation is always
// zero.
type TLE struct {
	sat satellite.Satellite
}

// NewTLE parses a two-line element set. The lines are checked before they
// reach go-satellite, which exits the process on malformed input.
func NewTLE(line1, line2 string) (*TLE, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTLE, err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init code=%d %s", ErrInvalidTLE, sat.Error, sat.ErrorStr)
	}
	return &TLE{sat: sat}, nil
}

func validateTLELines(line1, line2 string) error {
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// BodyRadius implements Source.
func (s *TLE) BodyRadius() float64 {
	return EarthRadiusKm
}

// Sample implements Source.
func (s *TLE) Sample(t time.Time) (Sample, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(s.sat, year, int(month), day, hour, min, sec)
	if !finite(posECI) {
		return Sample{}, fmt.Errorf("%w: output is NaN/Inf", ErrPropagationFailed)
	}

	mag := math.Sqrt(posECI.X*posECI.X + posECI.Y*posECI.Y + posECI.Z*posECI.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return Sample{}, fmt.Errorf("%w: unreasonable position magnitude %.1f km", ErrPropagationFailed, mag)
	}

	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	ecef := satellite.ECIToECEF(posECI, gmst)

	return Sample{
		At:       t,
		Position: geodesy.FromECEF(r3.Vector{X: ecef.X, Y: ecef.Y, Z: ecef.Z}),
	}, nil
}

func finite(v satellite.Vector3) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
