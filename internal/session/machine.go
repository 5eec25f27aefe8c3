package session

import (
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

// Phase is the state of the session machine.
type Phase int

const (
	Idle Phase = iota
	Active
)

func (p Phase) String() string {
	if p == Active {
		return "active"
	}
	return "idle"
}

// Rules are the fixed parameters of the state machine.
type Rules struct {
	// LongPress is how long a pointer must be held to start imaging.
	LongPress time.Duration
	// MoveTolerance is the distance in pixels a held pointer may drift
	// before the press is treated as a drag.
	MoveTolerance float64
	Projector     footprint.Projector
}

// DefaultRules returns rules for a body of radius 1 with a 50 km half swath
// on an Earth-sized body.
func DefaultRules() Rules {
	return Rules{
		LongPress:     500 * time.Millisecond,
		MoveTolerance: 8,
		Projector:     footprint.NewProjector(footprint.HalfSwathAngle(50, 6371), 1),
	}
}

// Press is the pointer currently tracked by the machine.
type Press struct {
	PointerID int
	OriginX   float64
	OriginY   float64
	StartedAt time.Time
	// Seq identifies the long-press timer scheduled for this press.
	Seq uint64
	// TimerPending is true until the long-press timer fires or is cancelled.
	TimerPending bool
}

// Machine is the complete state of the session lifecycle. It is a value;
// Step never modifies the machine or sessions it is given.
type Machine struct {
	Phase Phase
	Press *Press
	Live  *Session
	Seq   uint64
}

// Observation is what the frame source knows about the satellite at an
// instant. Coords is nil when the body is not ready.
type Observation struct {
	Coords    *geodesy.GeoCoordinate
	SunFacing bool
}

// Event is an input to Step.
type Event interface {
	isEvent()
}

// PointerDown is a press starting at screen coordinates X, Y.
type PointerDown struct {
	PointerID int
	X, Y      float64
	At        time.Time
}

// PointerMove reports the pointer's new screen position.
type PointerMove struct {
	PointerID int
	X, Y      float64
}

// PointerUp is a pointer release.
type PointerUp struct {
	PointerID int
	At        time.Time
}

// PointerCancel is a pointer cancelled by the host.
type PointerCancel struct {
	PointerID int
	At        time.Time
}

// FocusLost means the input surface lost focus.
type FocusLost struct {
	At time.Time
}

// LongPressElapsed is delivered when the timer for press Seq fires.
// SessionID is used if the press starts a session.
type LongPressElapsed struct {
	Seq         uint64
	At          time.Time
	SessionID   string
	Observation Observation
}

// Frame is a render tick.
type Frame struct {
	At          time.Time
	Observation Observation
}

func (PointerDown) isEvent()      {}
func (PointerMove) isEvent()      {}
func (PointerUp) isEvent()        {}
func (PointerCancel) isEvent()    {}
func (FocusLost) isEvent()        {}
func (LongPressElapsed) isEvent() {}
func (Frame) isEvent()            {}

// Effect is an action requested by Step.
type Effect interface {
	isEffect()
}

// ScheduleLongPress asks for a LongPressElapsed with Seq after the delay.
type ScheduleLongPress struct {
	Seq   uint64
	After time.Duration
}

// CancelLongPress cancels the timer for Seq.
type CancelLongPress struct {
	Seq uint64
}

// SessionStarted carries a copy of a newly started session.
type SessionStarted struct {
	Session Session
}

// SessionUpdated carries a copy of the live session after a frame.
type SessionUpdated struct {
	Session Session
}

// SessionCompleted carries the finalized session.
type SessionCompleted struct {
	Session Session
}

func (ScheduleLongPress) isEffect() {}
func (CancelLongPress) isEffect()   {}
func (SessionStarted) isEffect()    {}
func (SessionUpdated) isEffect()    {}
func (SessionCompleted) isEffect()  {}

// Step applies one event and returns the next machine and the effects the
// caller must carry out, in order.
func Step(m Machine, ev Event, r Rules) (Machine, []Effect) {
	switch e := ev.(type) {
	case PointerDown:
		// First pointer wins.
		if m.Press != nil {
			return m, nil
		}
		m.Seq++
		m.Press = &Press{
			PointerID:    e.PointerID,
			OriginX:      e.X,
			OriginY:      e.Y,
			StartedAt:    e.At,
			Seq:          m.Seq,
			TimerPending: true,
		}
		return m, []Effect{ScheduleLongPress{Seq: m.Seq, After: r.LongPress}}

	case PointerMove:
		if !m.tracks(e.PointerID) || !m.Press.TimerPending {
			return m, nil
		}
		dx := e.X - m.Press.OriginX
		dy := e.Y - m.Press.OriginY
		if dx*dx+dy*dy <= r.MoveTolerance*r.MoveTolerance {
			return m, nil
		}
		seq := m.Press.Seq
		m.Press = nil
		return m, []Effect{CancelLongPress{Seq: seq}}

	case LongPressElapsed:
		if m.Press == nil || m.Press.Seq != e.Seq || !m.Press.TimerPending {
			return m, nil
		}
		press := *m.Press
		press.TimerPending = false
		m.Press = &press

		coords := e.Observation.Coords
		if m.Phase == Active || !e.Observation.SunFacing || coords == nil {
			return m, nil
		}
		live := &Session{
			ID:          e.SessionID,
			StartedAt:   e.At,
			StartCoords: *coords,
			EndCoords:   *coords,
		}
		m.Phase = Active
		m.Live = live
		return m, []Effect{SessionStarted{Session: live.Clone()}}

	case Frame:
		if m.Phase != Active || m.Live == nil || e.Observation.Coords == nil {
			return m, nil
		}
		live := m.Live.Clone()
		live.EndCoords = *e.Observation.Coords
		live.Footprint = nil
		if fp, ok := r.Projector.Project(live.StartCoords, live.EndCoords); ok {
			live.Footprint = fp
		}
		m.Live = &live
		return m, []Effect{SessionUpdated{Session: live.Clone()}}

	case PointerUp:
		if !m.tracks(e.PointerID) {
			return m, nil
		}
		return release(m, e.At)

	case PointerCancel:
		if !m.tracks(e.PointerID) {
			return m, nil
		}
		return release(m, e.At)

	case FocusLost:
		return release(m, e.At)
	}

	return m, nil
}

func (m Machine) tracks(pointerID int) bool {
	return m.Press != nil && m.Press.PointerID == pointerID
}

// release ends the tracked press and completes any live session.
func release(m Machine, at time.Time) (Machine, []Effect) {
	var effects []Effect

	if m.Press != nil && m.Press.TimerPending {
		effects = append(effects, CancelLongPress{Seq: m.Press.Seq})
	}
	m.Press = nil

	if m.Phase == Active && m.Live != nil {
		done := m.Live.Clone()
		ended := at
		done.EndedAt = &ended
		done.Location = PendingLocation
		done.LocationStatus = LocationPending
		effects = append(effects, SessionCompleted{Session: done})
	}
	m.Phase = Idle
	m.Live = nil

	return m, effects
}
