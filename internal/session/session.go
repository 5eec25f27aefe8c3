// Package session implements the imaging session lifecycle.
//
// Gestures, frame ticks and long-press timers are all expressed as events fed
// through Step, a pure transition function. Manager is the imperative shell
// that owns the machine, runs timers, records finished sessions and resolves
// their locations.
package session

import (
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

// PendingLocation is the location text shown until resolution completes.
const PendingLocation = "Resolving location…"

// LocationStatus describes whether a session's location has been resolved.
type LocationStatus string

const (
	LocationPending  LocationStatus = "pending"
	LocationResolved LocationStatus = "resolved"
)

// Session is an imaging session, live or finished.
type Session struct {
	ID             string                `json:"id"`
	StartedAt      time.Time             `json:"started_at"`
	EndedAt        *time.Time            `json:"ended_at,omitempty"`
	StartCoords    geodesy.GeoCoordinate `json:"start"`
	EndCoords      geodesy.GeoCoordinate `json:"end"`
	Footprint      *footprint.Footprint  `json:"footprint,omitempty"`
	Location       string                `json:"location"`
	LocationStatus LocationStatus        `json:"location_status,omitempty"`
}

// Active reports whether the session has not ended yet.
func (s Session) Active() bool {
	return s.EndedAt == nil
}

// Duration returns how long the session ran, or zero while it is active.
func (s Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	if s.Footprint != nil {
		fp := *s.Footprint
		s.Footprint = &fp
	}
	return s
}

// Status is the satellite status label shown to the user.
type Status string

const (
	StatusCharging Status = "charging"
	StatusImaging  Status = "imaging"
	StatusEclipse  Status = "eclipse"
)

// StatusFor picks the label for the current state. Imaging takes precedence
// over illumination.
func StatusFor(active, sunFacing bool) Status {
	switch {
	case active:
		return StatusImaging
	case sunFacing:
		return StatusCharging
	default:
		return StatusEclipse
	}
}
