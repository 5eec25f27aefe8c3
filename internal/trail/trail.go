// Package trail keeps recent footprint polygons that fade out over time.
package trail

import (
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/robert-malhotra/orbit-imager/internal/footprint"
)

// DefaultFade is how long a trail polygon stays visible.
const DefaultFade = 10 * time.Second

// Segment is a trail polygon with its current opacity.
type Segment struct {
	Corners [4]r3.Vector `json:"corners"`
	Opacity float64      `json:"opacity"`
}

type entry struct {
	corners [4]r3.Vector
	addedAt time.Time
}

// Trail is a time-ordered set of past footprints. It is safe for concurrent use.
type Trail struct {
	mu             sync.Mutex
	fade           time.Duration
	sampleInterval time.Duration
	entries        []entry
	lastAdded      time.Time
}

// New creates a trail whose polygons fade over fade. Add calls closer together
// than sampleInterval are dropped.
func New(fade, sampleInterval time.Duration) *Trail {
	if fade <= 0 {
		fade = DefaultFade
	}
	return &Trail{
		fade:           fade,
		sampleInterval: sampleInterval,
	}
}

// Add records a footprint at the given time. It reports whether the footprint
// was kept.
func (t *Trail) Add(fp *footprint.Footprint, at time.Time) bool {
	if fp == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastAdded.IsZero() && at.Sub(t.lastAdded) < t.sampleInterval {
		return false
	}
	t.entries = append(t.entries, entry{corners: fp.Corners, addedAt: at})
	t.lastAdded = at
	return true
}

// Snapshot drops expired polygons and returns the rest, oldest first, with
// opacity falling linearly from 1 to 0 across the fade duration.
func (t *Trail) Snapshot(now time.Time) []Segment {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	for _, e := range t.entries {
		if now.Sub(e.addedAt) < t.fade {
			kept = append(kept, e)
		}
	}
	t.entries = kept

	segments := make([]Segment, 0, len(kept))
	for _, e := range kept {
		segments = append(segments, Segment{
			Corners: e.corners,
			Opacity: Opacity(now.Sub(e.addedAt), t.fade),
		})
	}
	return segments
}

// Len returns the number of polygons currently held, including any that
// have expired since the last Snapshot.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Opacity returns the linear fade value for a polygon of the given age.
func Opacity(age, fade time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if age >= fade {
		return 0
	}
	return 1 - float64(age)/float64(fade)
}
