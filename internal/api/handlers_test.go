package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/geo/r3"
	ogcapi "github.com/planetlabs/go-ogc/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robert-malhotra/orbit-imager/internal/config"
	"github.com/robert-malhotra/orbit-imager/internal/engine"
	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
	"github.com/robert-malhotra/orbit-imager/internal/history"
	"github.com/robert-malhotra/orbit-imager/internal/observability"
	"github.com/robert-malhotra/orbit-imager/internal/orbit"
	"github.com/robert-malhotra/orbit-imager/internal/session"
	"github.com/robert-malhotra/orbit-imager/internal/stac"
	"github.com/robert-malhotra/orbit-imager/internal/sun"
	"github.com/robert-malhotra/orbit-imager/internal/translate"
)

const testBaseURL = "https://stac.example.com"

var epoch = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type stubResolver struct{}

func (stubResolver) ResolveArea(context.Context, *footprint.Footprint) string { return "Test Region" }

func (stubResolver) ResolvePoints(context.Context, []geodesy.GeoCoordinate) string {
	return "Test Region"
}

type testAPI struct {
	clock  *session.FakeClock
	store  *history.MemoryStore
	mgr    *session.Manager
	engine *engine.Engine
	router chi.Router
}

// newTestAPI wires the API over a circular orbit that is sunlit at the epoch.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a := &testAPI{
		clock: session.NewFakeClock(epoch),
		store: history.NewMemoryStore(),
	}

	ids := 0
	var eng *engine.Engine
	a.mgr = session.NewManager(session.Options{
		Clock:    a.clock,
		History:  a.store,
		Resolver: stubResolver{},
		Logger:   logger,
		Observe:  func(at time.Time) session.Observation { return eng.Observe(at) },
		NewID: func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		},
	})
	t.Cleanup(a.mgr.Close)

	eng, err := engine.New(engine.Config{
		Orbit:    orbit.NewCircular(orbit.CircularConfig{Epoch: epoch}),
		Sun:      sun.NewFixed(r3.Vector{Y: 1}),
		Sessions: a.mgr,
		Clock:    a.clock,
		Location: time.UTC,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	a.engine = eng

	collector, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	cfg := &config.Config{
		STAC: config.STACConfig{
			Version:      "1.0.0",
			BaseURL:      testBaseURL,
			Title:        "Orbit Imager",
			Description:  "Test sessions",
			DefaultLimit: 2,
			MaxLimit:     5,
		},
	}
	h := NewHandlers(cfg, eng, a.store, translate.NewTranslator(testBaseURL, "1.0.0"), logger)
	a.router = NewRouter(h, logger, collector)
	return a
}

func (a *testAPI) step(t *testing.T, d time.Duration) {
	t.Helper()
	a.clock.Advance(d)
	if _, err := a.engine.Step(context.Background(), a.clock.Now()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
}

func (a *testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}
	return v
}

func (a *testAPI) seed(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		start := epoch.Add(time.Duration(i) * time.Minute)
		end := start.Add(5 * time.Second)
		err := a.store.Append(context.Background(), session.Session{
			ID:             fmt.Sprintf("seed-%d", i),
			StartedAt:      start,
			EndedAt:        &end,
			StartCoords:    geodesy.GeoCoordinate{LatitudeDeg: float64(i), LongitudeDeg: 10},
			EndCoords:      geodesy.GeoCoordinate{LatitudeDeg: float64(i) + 1, LongitudeDeg: 11},
			Location:       session.PendingLocation,
			LocationStatus: session.LocationPending,
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decode[map[string]string](t, w); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestLandingPage(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	landing := decode[stac.LandingPage](t, w)
	if landing.Type != "Catalog" || landing.StacVersion != "1.0.0" {
		t.Errorf("landing = %+v", landing)
	}
	rels := map[string]string{}
	for _, l := range landing.Links {
		rels[l.Rel] = l.Href
	}
	if rels["data"] != testBaseURL+"/collections" || rels["items"] != testBaseURL+"/sessions" {
		t.Errorf("links = %v", rels)
	}
}

func TestConformance(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/conformance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	conf := decode[ogcapi.Conformance](t, w)
	if len(conf.ConformsTo) != len(stac.DefaultConformance()) {
		t.Errorf("conformsTo = %v, want %v", conf.ConformsTo, stac.DefaultConformance())
	}
	classes := map[string]bool{}
	for _, c := range conf.ConformsTo {
		classes[c] = true
	}
	for _, want := range []string{stac.ConformanceCore, stac.ConformanceOGCFeatGeoJSON} {
		if !classes[want] {
			t.Errorf("conformsTo missing %s", want)
		}
	}

	rels := map[string]string{}
	for _, l := range conf.Links {
		rels[l.Rel] = l.Href
	}
	if rels["self"] != testBaseURL+"/conformance" || rels["root"] != testBaseURL+"/" {
		t.Errorf("links = %v", rels)
	}
}

func TestCollections(t *testing.T) {
	a := newTestAPI(t)
	a.seed(t, 3)

	tests := []struct {
		path string
		want int
	}{
		{"/collections", http.StatusOK},
		{"/collections/imaging-sessions", http.StatusOK},
		{"/collections/imaging-sessions/items", http.StatusOK},
		{"/collections/imaging-sessions/items/seed-1", http.StatusOK},
		{"/collections/imaging-sessions/items/missing", http.StatusNotFound},
		{"/collections/sentinel-1", http.StatusNotFound},
		{"/collections/sentinel-1/items", http.StatusNotFound},
		{"/conformance", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if w := a.do(t, http.MethodGet, tt.path, ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := a.do(t, http.MethodGet, "/collections/imaging-sessions", "")
	var coll struct {
		Extent struct {
			Temporal struct {
				Interval [][]any `json:"interval"`
			} `json:"temporal"`
		} `json:"extent"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &coll); err != nil {
		t.Fatal(err)
	}
	if got := coll.Extent.Temporal.Interval[0][0]; got != "2026-06-01T00:00:00Z" {
		t.Errorf("temporal start = %v", got)
	}
}

func TestStatus_BeforeFirstFrame(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/status", "")
	status := decode[StatusResponse](t, w)
	if status.Status != session.StatusEclipse || status.Phase != "idle" || status.SunFacing {
		t.Errorf("status = %+v", status)
	}

	if w := a.do(t, http.MethodGet, "/frame", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("/frame status = %d, want 503", w.Code)
	}
}

func TestImagingFlow(t *testing.T) {
	a := newTestAPI(t)
	a.step(t, 0)

	w := a.do(t, http.MethodPost, "/input/pointer/down", `{"pointer_id":1,"x":100,"y":100}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("down status = %d, want 202", w.Code)
	}
	if s := decode[StatusResponse](t, w); s.Status != session.StatusCharging || s.Phase != "idle" {
		t.Errorf("status after down = %+v", s)
	}

	a.clock.Advance(500 * time.Millisecond)
	for i := 0; i < 3; i++ {
		a.step(t, 200*time.Millisecond)
	}

	status := decode[StatusResponse](t, a.do(t, http.MethodGet, "/status", ""))
	if status.Status != session.StatusImaging || status.Active == nil {
		t.Fatalf("status while imaging = %+v", status)
	}

	w = a.do(t, http.MethodGet, "/sessions/active", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/sessions/active status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("content type = %q", ct)
	}
	active := decode[map[string]any](t, w)
	if active["id"] != "session-1" {
		t.Errorf("active id = %v", active["id"])
	}

	w = a.do(t, http.MethodGet, "/sessions/session-1/footprint", "")
	if w.Code != http.StatusOK {
		t.Fatalf("footprint status = %d: %s", w.Code, w.Body.String())
	}
	if geom := decode[map[string]any](t, w); geom["type"] != "Polygon" {
		t.Errorf("footprint type = %v", geom["type"])
	}

	w = a.do(t, http.MethodPost, "/input/pointer/up", `{"pointer_id":1}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("up status = %d", w.Code)
	}
	status = decode[StatusResponse](t, w)
	if status.Status != session.StatusCharging || status.Last == nil || status.Last.ID != "session-1" {
		t.Errorf("status after up = %+v", status)
	}

	if w := a.do(t, http.MethodGet, "/sessions/active", ""); w.Code != http.StatusNotFound {
		t.Errorf("/sessions/active after release = %d, want 404", w.Code)
	}

	w = a.do(t, http.MethodGet, "/sessions/session-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/sessions/session-1 status = %d", w.Code)
	}
	item := decode[map[string]any](t, w)
	props := item["properties"].(map[string]any)
	if props["end_datetime"] == nil || props[translate.PropActive] != false {
		t.Errorf("properties = %v", props)
	}

	page := decode[stac.ItemCollection](t, a.do(t, http.MethodGet, "/sessions", ""))
	if page.NumberMatched == nil || *page.NumberMatched != 1 || page.NumberReturned != 1 {
		t.Errorf("page = %+v", page)
	}
}

func TestBlurEndsSession(t *testing.T) {
	a := newTestAPI(t)
	a.step(t, 0)

	a.do(t, http.MethodPost, "/input/pointer/down", `{"pointer_id":7,"x":0,"y":0}`)
	a.clock.Advance(time.Second)
	a.step(t, 200*time.Millisecond)

	w := a.do(t, http.MethodPost, "/input/blur", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("blur status = %d", w.Code)
	}
	if s := decode[StatusResponse](t, w); s.Phase != "idle" || s.Last == nil {
		t.Errorf("status after blur = %+v", s)
	}
	if n, _ := a.store.Len(context.Background()); n != 1 {
		t.Errorf("history length = %d, want 1", n)
	}
}

func TestPointer_BadRequests(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown action", "/input/pointer/wiggle", `{}`, http.StatusNotFound},
		{"malformed body", "/input/pointer/down", `{"pointer_id":`, http.StatusBadRequest},
		{"empty body", "/input/pointer/cancel", "", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := a.do(t, http.MethodPost, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	if w := a.do(t, http.MethodGet, "/input/blur", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /input/blur = %d, want 405", w.Code)
	}
}

func TestSessions_Pagination(t *testing.T) {
	a := newTestAPI(t)
	a.seed(t, 5)

	var seen []string
	target := "/sessions"
	for pages := 0; target != ""; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		w := a.do(t, http.MethodGet, target, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d: %s", target, w.Code, w.Body.String())
		}
		page := decode[stac.ItemCollection](t, w)
		if *page.NumberMatched != 5 {
			t.Errorf("numberMatched = %d, want 5", *page.NumberMatched)
		}
		for _, f := range page.Features {
			seen = append(seen, f.Id)
		}

		target = ""
		for _, l := range page.Links {
			if l.Rel == "next" {
				u, err := url.Parse(l.Href)
				if err != nil {
					t.Fatal(err)
				}
				target = u.RequestURI()
			}
		}
	}

	want := []string{"seed-0", "seed-1", "seed-2", "seed-3", "seed-4"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("paged ids = %v, want %v", seen, want)
	}
}

func TestSessions_InvalidParameters(t *testing.T) {
	a := newTestAPI(t)

	for _, target := range []string{"/sessions?limit=0", "/sessions?limit=abc", "/sessions?cursor=%25%25"} {
		w := a.do(t, http.MethodGet, target, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", target, w.Code)
			continue
		}
		if e := decode[STACError](t, w); e.Code != ErrCodeInvalidParameter {
			t.Errorf("GET %s code = %s", target, e.Code)
		}
	}

	w := a.do(t, http.MethodGet, "/sessions?limit=100", "")
	page := decode[stac.ItemCollection](t, w)
	if page.NumberReturned != 0 {
		t.Errorf("numberReturned = %d, want 0", page.NumberReturned)
	}
}

func TestSession_NotFound(t *testing.T) {
	a := newTestAPI(t)
	a.seed(t, 1)

	if w := a.do(t, http.MethodGet, "/sessions/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	// Seeded sessions have no footprint.
	if w := a.do(t, http.MethodGet, "/sessions/seed-0/footprint", ""); w.Code != http.StatusNotFound {
		t.Errorf("footprint status = %d, want 404", w.Code)
	}
}

func TestFrameAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	a.step(t, 0)

	w := a.do(t, http.MethodGet, "/frame", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/frame status = %d", w.Code)
	}
	frame := decode[map[string]any](t, w)
	if frame["sub_satellite"] == nil || frame["status"] != string(session.StatusCharging) {
		t.Errorf("frame = %v", frame)
	}

	w = a.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `http_requests_total{code="200",method="GET",route="/frame"} 1`) {
		t.Errorf("metrics missing /frame request:\n%s", w.Body.String())
	}
}

func TestNotFoundRoute(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/search", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if e := decode[STACError](t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %s", e.Code)
	}
}
