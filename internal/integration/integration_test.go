// Package integration provides live integration tests against a Nominatim
// reverse geocoder.
// Run with: go test -v ./internal/integration -tags=integration
//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robert-malhotra/orbit-imager/internal/config"
	"github.com/robert-malhotra/orbit-imager/internal/engine"
	"github.com/robert-malhotra/orbit-imager/internal/geocode"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
	"github.com/robert-malhotra/orbit-imager/internal/observability"
	"github.com/robert-malhotra/orbit-imager/internal/translate"
	"github.com/robert-malhotra/orbit-imager/pkg/server"
)

func geocoderURL() string {
	if u := os.Getenv("GEOCODE_BASE_URL"); u != "" {
		return u
	}
	return "https://nominatim.openstreetmap.org"
}

// setupTestServer runs the full imager with a short long press against the
// live geocoder.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	t.Setenv("STAC_BASE_URL", "http://test.local")
	t.Setenv("GEOCODE_BASE_URL", geocoderURL())
	t.Setenv("IMAGING_LONG_PRESS", "50ms")
	t.Setenv("FRAME_INTERVAL", "20ms")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	collector, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create collector: %v", err)
	}

	imager, err := server.NewFromConfig(context.Background(), cfg, collector, logger)
	if err != nil {
		t.Fatalf("failed to create imager: %v", err)
	}
	t.Cleanup(func() { imager.Close() })

	ts := httptest.NewServer(imager.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postPointer(t *testing.T, base, action string) {
	t.Helper()
	body := bytes.NewBufferString(`{"pointer_id":1,"x":200,"y":200}`)
	resp, err := http.Post(base+"/input/pointer/"+action, "application/json", body)
	if err != nil {
		t.Fatalf("POST pointer %s: %v", action, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST pointer %s = %d, want 202", action, resp.StatusCode)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// TestReverseGeocode checks labels returned by the live service.
func TestReverseGeocode(t *testing.T) {
	client := geocode.NewClient(geocoderURL(), 30*time.Second).
		WithUserAgent("orbit-imager-integration/1.0")
	resolver := geocode.NewResolver(client)

	tests := []struct {
		name    string
		coord   geodesy.GeoCoordinate
		country string
	}{
		{"paris", geodesy.GeoCoordinate{LatitudeDeg: 48.8566, LongitudeDeg: 2.3522}, "France"},
		{"anchorage", geodesy.GeoCoordinate{LatitudeDeg: 61.2181, LongitudeDeg: -149.9003}, "United States"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			label := resolver.Resolve(ctx, tt.coord)
			t.Logf("%s: %q", tt.name, label)
			if !strings.Contains(label, tt.country) {
				t.Errorf("label %q does not name %s", label, tt.country)
			}
			// Nominatim's usage policy allows one request per second.
			time.Sleep(time.Second)
		})
	}

	t.Run("open ocean", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		label := resolver.Resolve(ctx, geodesy.GeoCoordinate{LatitudeDeg: -40, LongitudeDeg: -120})
		t.Logf("south pacific: %q", label)
		if label != "" && label != geocode.FallbackLabel {
			t.Errorf("mid-ocean label = %q, want empty or fallback", label)
		}
	})
}

// TestImagingSessionEndToEnd images a short pass through the HTTP API and
// waits for its location to be attached.
func TestImagingSessionEndToEnd(t *testing.T) {
	ts := setupTestServer(t)

	// The circular orbit has a 10s period, so the satellite comes into the
	// light within one revolution.
	waitFor(t, 15*time.Second, "sunlight", func() bool {
		var status map[string]any
		if getJSON(t, ts.URL+"/status", &status) != http.StatusOK {
			return false
		}
		return status["sun_facing"] == true
	})

	postPointer(t, ts.URL, "down")
	waitFor(t, 2*time.Second, "session start", func() bool {
		var status map[string]any
		getJSON(t, ts.URL+"/status", &status)
		return status["phase"] == "active"
	})
	time.Sleep(300 * time.Millisecond)
	postPointer(t, ts.URL, "up")

	var id string
	waitFor(t, 30*time.Second, "location", func() bool {
		var page struct {
			Features []struct {
				ID         string         `json:"id"`
				Properties map[string]any `json:"properties"`
			} `json:"features"`
		}
		if getJSON(t, ts.URL+"/sessions", &page) != http.StatusOK || len(page.Features) == 0 {
			return false
		}
		f := page.Features[0]
		id = f.ID
		return f.Properties[translate.PropLocationStatus] == "resolved"
	})

	var item map[string]any
	if code := getJSON(t, fmt.Sprintf("%s/collections/%s/items/%s", ts.URL, translate.CollectionID, id), &item); code != http.StatusOK {
		t.Fatalf("GET item = %d, want 200", code)
	}
	props := item["properties"].(map[string]any)
	t.Logf("session %s imaged %q", id, props[translate.PropLocation])
	if props["end_datetime"] == nil {
		t.Error("finished session has no end_datetime")
	}

	if code := getJSON(t, ts.URL+"/sessions/"+id+"/footprint", nil); code != http.StatusOK {
		t.Errorf("GET footprint = %d, want 200", code)
	}
}

// TestStream checks that frames arrive over the websocket.
func TestStream(t *testing.T) {
	ts := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last time.Time
	for i := 0; i < 3; i++ {
		var snap engine.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if snap.SubSatellite == nil {
			t.Errorf("frame %d has no sub-satellite point", i)
		}
		if snap.Time.Before(last) {
			t.Errorf("frame %d time %s before %s", i, snap.Time, last)
		}
		last = snap.Time
	}
}
