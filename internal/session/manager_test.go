package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions []Session
}

func (s *fakeStore) Append(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess.Clone())
	return nil
}

func (s *fakeStore) AttachLocation(_ context.Context, id, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			if s.sessions[i].LocationStatus != LocationPending {
				return false, nil
			}
			s.sessions[i].Location = label
			s.sessions[i].LocationStatus = LocationResolved
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) all() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Session(nil), s.sessions...)
}

// gatedResolver blocks each lookup until the test releases the session it
// belongs to. Sessions are told apart by the longitude their pass ended at.
type gatedResolver struct {
	label string

	mu    sync.Mutex
	gates map[int]chan struct{}
}

func newGatedResolver(label string) *gatedResolver {
	return &gatedResolver{label: label, gates: make(map[int]chan struct{})}
}

func (r *gatedResolver) gate(lonDeg float64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := int(math.Round(lonDeg))
	g, ok := r.gates[key]
	if !ok {
		g = make(chan struct{})
		r.gates[key] = g
	}
	return g
}

func (r *gatedResolver) wait(ctx context.Context, lonDeg float64) {
	select {
	case <-r.gate(lonDeg):
	case <-ctx.Done():
	}
}

func (r *gatedResolver) ResolveArea(ctx context.Context, fp *footprint.Footprint) string {
	r.wait(ctx, fp.CenterEnd.LongitudeDeg)
	return r.label
}

func (r *gatedResolver) ResolvePoints(ctx context.Context, points []geodesy.GeoCoordinate) string {
	r.wait(ctx, points[len(points)-1].LongitudeDeg)
	return r.label
}

// release lets the lookup for the pass ending at lonDeg finish.
func (r *gatedResolver) release(lonDeg float64) {
	g := r.gate(lonDeg)
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-g:
	default:
		close(g)
	}
}

func storedSession(store *fakeStore, id string) (Session, bool) {
	for _, s := range store.all() {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}

type countingMetrics struct {
	mu                           sync.Mutex
	started, completed, resolved int
}

func (c *countingMetrics) SessionStarted() {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

func (c *countingMetrics) SessionCompleted(time.Duration) {
	c.mu.Lock()
	c.completed++
	c.mu.Unlock()
}

func (c *countingMetrics) LocationResolved(applied bool) {
	c.mu.Lock()
	if applied {
		c.resolved++
	}
	c.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type harness struct {
	clock    *FakeClock
	store    *fakeStore
	resolver *gatedResolver
	metrics  *countingMetrics
	mgr      *Manager
}

func newHarness(t *testing.T, sunFacing func() bool) *harness {
	t.Helper()
	h := &harness{
		clock:    NewFakeClock(t0),
		store:    &fakeStore{},
		resolver: newGatedResolver("Bavaria, Germany"),
		metrics:  &countingMetrics{},
	}
	n := 0
	h.mgr = NewManager(Options{
		Rules:    DefaultRules(),
		Clock:    h.clock,
		History:  h.store,
		Resolver: h.resolver,
		Metrics:  h.metrics,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observe: func(time.Time) Observation {
			return Observation{Coords: &geodesy.GeoCoordinate{}, SunFacing: sunFacing()}
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("session-%d", n)
		},
	})
	t.Cleanup(h.mgr.Close)
	return h
}

// image runs one full session: hold, one frame moving east, release.
func (h *harness) image(t *testing.T, lonDeg float64) {
	t.Helper()
	h.mgr.PointerDown(1, 10, 10)
	h.clock.Advance(500 * time.Millisecond)
	if h.mgr.Phase() != Active {
		t.Fatalf("phase = %v, want active after long press", h.mgr.Phase())
	}
	h.clock.Advance(time.Second)
	h.mgr.Frame(h.clock.Now(), lit(0, lonDeg))
	h.mgr.PointerUp(1)
}

func TestManager_LongPressTimer(t *testing.T) {
	h := newHarness(t, func() bool { return true })

	h.mgr.PointerDown(1, 0, 0)
	if h.clock.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.clock.Pending())
	}

	h.clock.Advance(499 * time.Millisecond)
	if h.mgr.Phase() != Idle {
		t.Fatal("activated before the long-press threshold")
	}
	if got := h.mgr.Status(true); got != StatusCharging {
		t.Errorf("status = %s, want charging", got)
	}

	h.clock.Advance(time.Millisecond)
	live, ok := h.mgr.Live()
	if !ok || live.ID != "session-1" {
		t.Fatalf("Live() = %+v, %v, want session-1", live, ok)
	}
	if got := h.mgr.Status(false); got != StatusImaging {
		t.Errorf("status = %s, want imaging", got)
	}
	if h.metrics.started != 1 {
		t.Errorf("started = %d, want 1", h.metrics.started)
	}
}

func TestManager_ReleaseCancelsTimer(t *testing.T) {
	h := newHarness(t, func() bool { return true })

	h.mgr.PointerDown(1, 0, 0)
	h.mgr.PointerUp(1)
	if h.clock.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", h.clock.Pending())
	}
	h.clock.Advance(time.Second)
	if h.mgr.Phase() != Idle {
		t.Error("released press still activated")
	}
}

func TestManager_EclipseAtFire(t *testing.T) {
	sun := true
	h := newHarness(t, func() bool { return sun })

	h.mgr.PointerDown(1, 0, 0)
	sun = false
	h.clock.Advance(time.Second)
	if h.mgr.Phase() != Idle {
		t.Fatal("activated in eclipse")
	}
	if got := h.mgr.Status(false); got != StatusEclipse {
		t.Errorf("status = %s, want eclipse", got)
	}
	h.mgr.PointerUp(1)
	if len(h.store.all()) != 0 {
		t.Error("history recorded a session that never started")
	}
}

func TestManager_HistoryAppendOnly(t *testing.T) {
	h := newHarness(t, func() bool { return true })

	const n = 4
	for i := 0; i < n; i++ {
		h.image(t, float64(10+i))
		h.resolver.release(float64(10 + i))
	}

	waitFor(t, func() bool {
		h.metrics.mu.Lock()
		defer h.metrics.mu.Unlock()
		return h.metrics.resolved == n
	})

	got := h.store.all()
	if len(got) != n {
		t.Fatalf("history length = %d, want %d", len(got), n)
	}
	for i, s := range got {
		if want := fmt.Sprintf("session-%d", i+1); s.ID != want {
			t.Errorf("history[%d].ID = %s, want %s", i, s.ID, want)
		}
		if s.EndedAt == nil || s.EndedAt.Before(s.StartedAt) {
			t.Errorf("history[%d] has bad timestamps: %v .. %v", i, s.StartedAt, s.EndedAt)
		}
		if i > 0 {
			prev := got[i-1]
			if s.StartedAt.Before(prev.StartedAt) || s.EndedAt.Before(*prev.EndedAt) {
				t.Errorf("history[%d] out of order relative to history[%d]", i, i-1)
			}
		}
		if s.Location != "Bavaria, Germany" {
			t.Errorf("history[%d].Location = %q", i, s.Location)
		}
	}
}

func TestManager_CompletionShowsPendingThenResolved(t *testing.T) {
	h := newHarness(t, func() bool { return true })

	h.image(t, 10)

	last, ok := h.mgr.LastSession()
	if !ok || last.Location != PendingLocation || last.LocationStatus != LocationPending {
		t.Fatalf("LastSession() = %+v, want pending location", last)
	}
	if last.Footprint == nil {
		t.Error("completed session lost its footprint")
	}

	h.resolver.release(10)
	waitFor(t, func() bool {
		s, _ := h.mgr.LastSession()
		return s.LocationStatus == LocationResolved
	})
	last, _ = h.mgr.LastSession()
	if last.Location != "Bavaria, Germany" {
		t.Errorf("location = %q", last.Location)
	}
}

func TestManager_StaleResolutionDoesNotTouchDisplayOrLive(t *testing.T) {
	h := newHarness(t, func() bool { return true })

	h.image(t, 10) // session-1, lookup blocked
	h.image(t, 20) // session-2, now displayed

	// Leave session-3 active.
	h.mgr.PointerDown(1, 0, 0)
	h.clock.Advance(500 * time.Millisecond)
	live, ok := h.mgr.Live()
	if !ok || live.ID != "session-3" {
		t.Fatalf("Live() = %+v, want session-3", live)
	}

	h.resolver.release(10) // session-1 finishes
	waitFor(t, func() bool {
		s, _ := storedSession(h.store, "session-1")
		return s.LocationStatus == LocationResolved
	})
	if s, _ := storedSession(h.store, "session-2"); s.LocationStatus != LocationPending {
		t.Errorf("session-2 in history = %+v, want still pending", s)
	}

	last, _ := h.mgr.LastSession()
	if last.ID != "session-2" || last.Location != PendingLocation {
		t.Errorf("LastSession() = %+v, want pending session-2", last)
	}
	live, _ = h.mgr.Live()
	if live.Location != "" || live.LocationStatus != "" {
		t.Errorf("live session modified by resolution: %+v", live)
	}

	applied, err := h.store.AttachLocation(context.Background(), "session-1", "elsewhere")
	if err != nil || applied {
		t.Errorf("second AttachLocation = %v, %v, want not applied", applied, err)
	}

	h.resolver.release(20) // session-2 finishes
	waitFor(t, func() bool {
		s, _ := h.mgr.LastSession()
		return s.LocationStatus == LocationResolved
	})
	h.mgr.PointerUp(1)
	h.resolver.release(0) // session-3 never moved
}

func TestManager_CloseCancelsLookups(t *testing.T) {
	h := newHarness(t, func() bool { return true })
	h.image(t, 10)

	done := make(chan struct{})
	go func() {
		h.mgr.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a lookup was blocked")
	}

	if s := h.store.all()[0]; s.LocationStatus != LocationPending {
		t.Errorf("cancelled lookup still attached a location: %+v", s)
	}
}

// stalledStore holds every Append until unblock is closed.
type stalledStore struct {
	*fakeStore
	entered chan struct{}
	unblock chan struct{}
}

func (s *stalledStore) Append(ctx context.Context, sess Session) error {
	s.entered <- struct{}{}
	<-s.unblock
	return s.fakeStore.Append(ctx, sess)
}

type failingStore struct {
	*fakeStore
}

func (failingStore) Append(context.Context, Session) error {
	return errors.New("disk full")
}

func newTestManager(t *testing.T, store HistoryStore, metrics Metrics) (*Manager, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(t0)
	n := 0
	mgr := NewManager(Options{
		Rules:    DefaultRules(),
		Clock:    clock,
		History:  store,
		Resolver: newGatedResolver("Bavaria, Germany"),
		Metrics:  metrics,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observe: func(time.Time) Observation {
			return Observation{Coords: &geodesy.GeoCoordinate{}, SunFacing: true}
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("session-%d", n)
		},
	})
	t.Cleanup(mgr.Close)
	return mgr, clock
}

func TestManager_SlowHistoryDoesNotBlockFrames(t *testing.T) {
	store := &stalledStore{
		fakeStore: &fakeStore{},
		entered:   make(chan struct{}, 1),
		unblock:   make(chan struct{}),
	}
	mgr, clock := newTestManager(t, store, nil)
	var once sync.Once
	unblock := func() { once.Do(func() { close(store.unblock) }) }
	t.Cleanup(unblock)

	mgr.PointerDown(1, 10, 10)
	clock.Advance(500 * time.Millisecond)
	clock.Advance(time.Second)
	mgr.Frame(clock.Now(), lit(0, 10))

	released := make(chan struct{})
	go func() {
		mgr.PointerUp(1)
		close(released)
	}()
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("completed session was never appended")
	}

	done := make(chan struct{})
	go func() {
		mgr.Frame(clock.Now(), lit(0, 11))
		mgr.PointerDown(2, 0, 0)
		mgr.Phase()
		mgr.LastSession()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("frames and gestures blocked behind a history append")
	}

	if last, ok := mgr.LastSession(); !ok || last.ID != "session-1" || last.LocationStatus != LocationPending {
		t.Errorf("LastSession() = %+v, %v, want pending session-1", last, ok)
	}
	select {
	case <-released:
		t.Fatal("PointerUp returned before the session was recorded")
	default:
	}

	unblock()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("PointerUp did not return after the append finished")
	}
	if got := store.all(); len(got) != 1 || got[0].ID != "session-1" {
		t.Errorf("history = %+v, want session-1", got)
	}
	mgr.PointerUp(2)
}

func TestManager_FailedAppendIsNotDisplayed(t *testing.T) {
	metrics := &countingMetrics{}
	mgr, clock := newTestManager(t, failingStore{&fakeStore{}}, metrics)

	mgr.PointerDown(1, 10, 10)
	clock.Advance(500 * time.Millisecond)
	clock.Advance(time.Second)
	mgr.Frame(clock.Now(), lit(0, 10))
	mgr.PointerUp(1)

	if last, ok := mgr.LastSession(); ok {
		t.Errorf("LastSession() = %+v, want none after a failed append", last)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.completed != 0 {
		t.Errorf("completed = %d, want 0", metrics.completed)
	}
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	c := NewFakeClock(t0)
	fired := 0
	timer := c.AfterFunc(time.Second, func() { fired++ })
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if timer.Stop() {
		t.Error("Stop() after fire = true, want false")
	}
	c.Advance(time.Hour)
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}
