package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

// HistoryStore records finished sessions.
type HistoryStore interface {
	Append(ctx context.Context, s Session) error
	// AttachLocation sets the location of a recorded session. It reports
	// whether the label was applied; it is not applied when the entry is
	// unknown or already resolved.
	AttachLocation(ctx context.Context, id, label string) (bool, error)
}

// Resolver turns session geometry into a place label.
type Resolver interface {
	ResolveArea(ctx context.Context, fp *footprint.Footprint) string
	ResolvePoints(ctx context.Context, points []geodesy.GeoCoordinate) string
}

// Metrics receives session lifecycle counts.
type Metrics interface {
	SessionStarted()
	SessionCompleted(d time.Duration)
	LocationResolved(applied bool)
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()                {}
func (noopMetrics) SessionCompleted(time.Duration) {}
func (noopMetrics) LocationResolved(bool)          {}

// ObserveFunc reports the satellite's state at the given instant.
type ObserveFunc func(at time.Time) Observation

// Options configure a Manager. History and Resolver are required.
type Options struct {
	Rules    Rules
	Clock    Clock
	History  HistoryStore
	Resolver Resolver
	Metrics  Metrics
	Logger   *slog.Logger
	// Observe is consulted when a long-press timer fires. When nil the
	// observation from the most recent Frame is used.
	Observe ObserveFunc
	// NewID generates session ids. Defaults to random UUIDs.
	NewID func() string
}

// Manager owns the session machine and carries out the effects Step asks for.
// All methods are safe for concurrent use. Finished sessions are appended to
// history in completion order, outside the lock that guards the machine, so
// a slow store never holds up frames or gestures.
type Manager struct {
	rules    Rules
	clock    Clock
	history  HistoryStore
	resolver Resolver
	metrics  Metrics
	logger   *slog.Logger
	observe  ObserveFunc
	newID    func() string

	mu        sync.Mutex
	machine   Machine
	timers    map[uint64]Timer
	lastObs   Observation
	displayed *Session
	completed []Session

	// recordMu is taken before mu is released and held across Append.
	recordMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager in the Idle phase.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Rules.LongPress == 0 && opts.Rules.Projector.BodyRadius == 0 {
		opts.Rules = DefaultRules()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		rules:    opts.Rules,
		clock:    opts.Clock,
		history:  opts.History,
		resolver: opts.Resolver,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		observe:  opts.Observe,
		newID:    opts.NewID,
		timers:   make(map[uint64]Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// PointerDown starts tracking a press at screen position x, y.
func (m *Manager) PointerDown(pointerID int, x, y float64) {
	m.Dispatch(PointerDown{PointerID: pointerID, X: x, Y: y, At: m.clock.Now()})
}

// PointerMove reports movement of a pointer.
func (m *Manager) PointerMove(pointerID int, x, y float64) {
	m.Dispatch(PointerMove{PointerID: pointerID, X: x, Y: y})
}

// PointerUp releases a pointer.
func (m *Manager) PointerUp(pointerID int) {
	m.Dispatch(PointerUp{PointerID: pointerID, At: m.clock.Now()})
}

// PointerCancel cancels a pointer.
func (m *Manager) PointerCancel(pointerID int) {
	m.Dispatch(PointerCancel{PointerID: pointerID, At: m.clock.Now()})
}

// FocusLost ends any press and any active session.
func (m *Manager) FocusLost() {
	m.Dispatch(FocusLost{At: m.clock.Now()})
}

// Frame feeds a render tick and returns the live session, if any.
func (m *Manager) Frame(at time.Time, obs Observation) (Session, bool) {
	m.mu.Lock()
	m.lastObs = obs
	m.stepLocked(Frame{At: at, Observation: obs})
	live, ok := m.liveLocked()
	m.unlockAndRecord()
	return live, ok
}

// Dispatch feeds an arbitrary event through the machine.
func (m *Manager) Dispatch(ev Event) {
	m.mu.Lock()
	m.stepLocked(ev)
	m.unlockAndRecord()
}

// Live returns a copy of the active session.
func (m *Manager) Live() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked()
}

// Phase returns the current machine phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Phase
}

// Status returns the status label for the given illumination.
func (m *Manager) Status(sunFacing bool) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusFor(m.machine.Phase == Active, sunFacing)
}

// LastSession returns the most recently completed session as displayed,
// including its location once resolved.
func (m *Manager) LastSession() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.displayed == nil {
		return Session{}, false
	}
	return m.displayed.Clone(), true
}

// Close stops pending timers, cancels outstanding location lookups and waits
// for them to return.
func (m *Manager) Close() {
	m.mu.Lock()
	for seq, t := range m.timers {
		t.Stop()
		delete(m.timers, seq)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) liveLocked() (Session, bool) {
	if m.machine.Live == nil {
		return Session{}, false
	}
	return m.machine.Live.Clone(), true
}

func (m *Manager) stepLocked(ev Event) {
	next, effects := Step(m.machine, ev, m.rules)
	m.machine = next
	for _, eff := range effects {
		m.applyLocked(eff)
	}
}

func (m *Manager) applyLocked(eff Effect) {
	switch e := eff.(type) {
	case ScheduleLongPress:
		seq := e.Seq
		m.timers[seq] = m.clock.AfterFunc(e.After, func() { m.fire(seq) })

	case CancelLongPress:
		if t, ok := m.timers[e.Seq]; ok {
			t.Stop()
			delete(m.timers, e.Seq)
		}

	case SessionStarted:
		m.metrics.SessionStarted()
		m.logger.InfoContext(m.ctx, "imaging session started",
			slog.String("session_id", e.Session.ID),
			slog.String("start", geodesy.Format(e.Session.StartCoords)))

	case SessionCompleted:
		shown := e.Session.Clone()
		m.displayed = &shown
		m.completed = append(m.completed, e.Session.Clone())
	}
}

// fire delivers an elapsed long-press timer.
func (m *Manager) fire(seq uint64) {
	m.mu.Lock()
	defer m.unlockAndRecord()

	delete(m.timers, seq)

	at := m.clock.Now()
	obs := m.lastObs
	if m.observe != nil {
		obs = m.observe(at)
	}

	m.stepLocked(LongPressElapsed{
		Seq:         seq,
		At:          at,
		SessionID:   m.newID(),
		Observation: obs,
	})

	if m.machine.Phase != Active && m.machine.Press != nil && m.machine.Press.Seq == seq {
		m.logger.DebugContext(m.ctx, "long press ignored",
			slog.Bool("sun_facing", obs.SunFacing),
			slog.Bool("has_coords", obs.Coords != nil))
	}
}

// unlockAndRecord releases mu and appends the sessions completed while it was
// held. Must be called with mu held.
func (m *Manager) unlockAndRecord() {
	done := m.completed
	m.completed = nil
	if len(done) == 0 {
		m.mu.Unlock()
		return
	}

	m.recordMu.Lock()
	m.mu.Unlock()

	var failed []string
	for _, s := range done {
		if !m.record(s) {
			failed = append(failed, s.ID)
		}
	}
	m.recordMu.Unlock()

	if len(failed) == 0 {
		return
	}
	// Unrecorded sessions are not shown as the last result.
	m.mu.Lock()
	for _, id := range failed {
		if m.displayed != nil && m.displayed.ID == id {
			m.displayed = nil
		}
	}
	m.mu.Unlock()
}

// record appends a finished session to history and starts resolving its
// location. It reports whether the session was recorded.
func (m *Manager) record(s Session) bool {
	if err := m.history.Append(context.WithoutCancel(m.ctx), s); err != nil {
		m.logger.ErrorContext(m.ctx, "failed to record imaging session",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
		return false
	}

	m.metrics.SessionCompleted(s.Duration())

	m.logger.InfoContext(m.ctx, "imaging session completed",
		slog.String("session_id", s.ID),
		slog.Duration("duration", s.Duration()),
		slog.Bool("has_footprint", s.Footprint != nil))

	if m.resolver == nil || m.ctx.Err() != nil {
		return true
	}
	m.wg.Add(1)
	go m.resolve(s.Clone())
	return true
}

// resolve looks up the session's location and applies it only if the history
// entry is still pending. The live session is never touched.
func (m *Manager) resolve(s Session) {
	defer m.wg.Done()

	var label string
	if s.Footprint != nil {
		label = m.resolver.ResolveArea(m.ctx, s.Footprint)
	} else {
		label = m.resolver.ResolvePoints(m.ctx, []geodesy.GeoCoordinate{s.StartCoords, s.EndCoords})
	}
	if m.ctx.Err() != nil {
		return
	}

	applied, err := m.history.AttachLocation(m.ctx, s.ID, label)
	if err != nil {
		m.logger.WarnContext(m.ctx, "failed to attach session location",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
		return
	}
	m.metrics.LocationResolved(applied)
	if !applied {
		return
	}

	m.mu.Lock()
	if m.displayed != nil && m.displayed.ID == s.ID {
		m.displayed.Location = label
		m.displayed.LocationStatus = LocationResolved
	}
	m.mu.Unlock()

	m.logger.DebugContext(m.ctx, "session location resolved",
		slog.String("session_id", s.ID),
		slog.String("location", label))
}
