package session

import (
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

// TimeLayout is the layout used for displayed timestamps.
const TimeLayout = "2006-01-02 15:04:05 MST"

// Summary is the display form of a session.
type Summary struct {
	ID       string `json:"id"`
	Started  string `json:"started"`
	Ended    string `json:"ended,omitempty"`
	Duration string `json:"duration,omitempty"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location,omitempty"`
	Active   bool   `json:"active"`
}

// Summarize formats a session for display with timestamps in loc.
func Summarize(s Session, loc *time.Location) Summary {
	if loc == nil {
		loc = time.Local
	}
	sum := Summary{
		ID:       s.ID,
		Started:  s.StartedAt.In(loc).Format(TimeLayout),
		Start:    geodesy.Format(s.StartCoords),
		End:      geodesy.Format(s.EndCoords),
		Location: s.Location,
		Active:   s.Active(),
	}
	if s.EndedAt != nil {
		sum.Ended = s.EndedAt.In(loc).Format(TimeLayout)
		sum.Duration = s.Duration().Round(100 * time.Millisecond).String()
	}
	return sum
}
