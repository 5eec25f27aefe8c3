// Package engine runs the frame loop that connects the orbit model, the sun,
// the session manager and the fading trail, and publishes a snapshot of the
// scene after every frame.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
	"github.com/robert-malhotra/orbit-imager/internal/orbit"
	"github.com/robert-malhotra/orbit-imager/internal/session"
	"github.com/robert-malhotra/orbit-imager/internal/sun"
	"github.com/robert-malhotra/orbit-imager/internal/trail"
)

// DefaultInterval is the frame period.
const DefaultInterval = 100 * time.Millisecond

// Snapshot is everything a renderer needs to draw one frame.
type Snapshot struct {
	Time         time.Time              `json:"time"`
	Satellite    r3.Vector              `json:"satellite"`
	BodyRotation float64                `json:"body_rotation"`
	SubSatellite *geodesy.GeoCoordinate `json:"sub_satellite"`
	Coordinates  string                 `json:"coordinates,omitempty"`
	SunFacing    bool                   `json:"sun_facing"`
	Status       session.Status         `json:"status"`
	Footprint    *footprint.Footprint   `json:"footprint,omitempty"`
	Cone         *footprint.Cone        `json:"cone,omitempty"`
	Trail        []trail.Segment        `json:"trail"`
	Active       *session.Summary       `json:"active,omitempty"`
	Last         *session.Summary       `json:"last,omitempty"`
}

// Recorder receives per-frame metrics.
type Recorder interface {
	FrameProcessed(d time.Duration)
	FrameFailed()
	SetListeners(n int)
}

// Config configures an Engine. Orbit, Sun and Sessions are required.
type Config struct {
	Orbit    orbit.Source
	Sun      sun.Source
	Sessions *session.Manager
	Trail    *trail.Trail
	Interval time.Duration
	Clock    session.Clock
	Location *time.Location
	Recorder Recorder
	Logger   *slog.Logger
}

// Engine drives frames and fans snapshots out to subscribers.
type Engine struct {
	orbit    orbit.Source
	sun      sun.Source
	sessions *session.Manager
	trail    *trail.Trail
	interval time.Duration
	clock    session.Clock
	loc      *time.Location
	recorder Recorder
	logger   *slog.Logger

	hub *Hub

	mu     sync.RWMutex
	latest *Snapshot
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Orbit == nil {
		return nil, errors.New("engine: orbit source is required")
	}
	if cfg.Sun == nil {
		return nil, errors.New("engine: sun source is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("engine: session manager is required")
	}
	if cfg.Trail == nil {
		cfg.Trail = trail.New(trail.DefaultFade, 0)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = session.RealClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		orbit:    cfg.Orbit,
		sun:      cfg.Sun,
		sessions: cfg.Sessions,
		trail:    cfg.Trail,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		loc:      cfg.Location,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
	}
	e.hub = NewHub(e.onListeners)
	return e, nil
}

// Observe reports the satellite's coordinates and illumination at an instant
// without advancing the session machine. Coords is nil when the position
// cannot be converted.
func (e *Engine) Observe(at time.Time) session.Observation {
	s, err := e.orbit.Sample(at)
	if err != nil {
		return session.Observation{}
	}
	return e.observation(s, at)
}

func (e *Engine) observation(s orbit.Sample, at time.Time) session.Observation {
	obs := session.Observation{
		SunFacing: geodesy.SunFacing(s.Position, e.sun.Direction(at)),
	}
	if c, err := geodesy.SubSatellite(&s.Body, s.Position); err == nil {
		obs.Coords = &c
	}
	return obs
}

// Step computes one frame at the given time, publishes it and returns it.
func (e *Engine) Step(ctx context.Context, at time.Time) (Snapshot, error) {
	started := time.Now()

	sample, err := e.orbit.Sample(at)
	if err != nil {
		if e.recorder != nil {
			e.recorder.FrameFailed()
		}
		return Snapshot{}, fmt.Errorf("failed to sample orbit: %w", err)
	}

	obs := e.observation(sample, at)
	live, active := e.sessions.Frame(at, obs)

	snap := Snapshot{
		Time:         at,
		Satellite:    sample.Position,
		BodyRotation: sample.Body.Rotation,
		SubSatellite: obs.Coords,
		SunFacing:    obs.SunFacing,
		Status:       session.StatusFor(active, obs.SunFacing),
	}

	if obs.Coords != nil {
		snap.Coordinates = geodesy.Format(*obs.Coords)
		target := sample.Body.ToWorld(geodesy.ToDirection(*obs.Coords, e.orbit.BodyRadius()))
		if cone, ok := footprint.SensorCone(sample.Position, target); ok {
			snap.Cone = &cone
		}
	}

	if active {
		snap.Footprint = live.Footprint
		e.trail.Add(live.Footprint, at)
		sum := session.Summarize(live, e.loc)
		snap.Active = &sum
	}
	snap.Trail = e.trail.Snapshot(at)

	if last, ok := e.sessions.LastSession(); ok {
		sum := session.Summarize(last, e.loc)
		snap.Last = &sum
	}

	e.mu.Lock()
	e.latest = &snap
	e.mu.Unlock()

	e.hub.Publish(snap)

	if e.recorder != nil {
		e.recorder.FrameProcessed(time.Since(started))
	}
	return snap, nil
}

// Run steps a frame every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "frame loop started", slog.Duration("interval", e.interval))

	for {
		if _, err := e.Step(ctx, e.clock.Now()); err != nil {
			e.logger.WarnContext(ctx, "frame skipped", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			e.hub.Close()
			e.logger.InfoContext(ctx, "frame loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Latest returns the most recent snapshot.
func (e *Engine) Latest() (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.latest == nil {
		return Snapshot{}, false
	}
	return *e.latest, true
}

// Subscribe registers for snapshots. See Hub.Subscribe.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	return e.hub.Subscribe()
}

// Location returns the display time zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Sessions returns the session manager the engine drives.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

func (e *Engine) onListeners(n int) {
	if e.recorder != nil {
		e.recorder.SetListeners(n)
	}
}
