package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/art-injener/satscan-go/internal/celestrak"
	"github.com/art-injener/satscan-go/internal/config"
	"github.com/art-injener/satscan-go/internal/metrics"
	"github.com/art-injener/satscan-go/internal/simulation"
	"github.com/art-injener/satscan-go/internal/tracker"
)

const (
	issName  = "ISS (ZARYA)"
	issLine1 = "1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9997"
	issLine2 = "2 25544  51.6400 247.4627 0006703 130.5360 325.0288 15.49815571423401"
)

// issEpoch эпоха issLine1.
var issEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeSource отдаёт TLE из памяти.
type fakeSource map[int]*tracker.TLE

func (f fakeSource) Fetch(_ context.Context, noradID int) (*tracker.TLE, celestrak.Origin, error) {
	if tle, ok := f[noradID]; ok {
		return tle, celestrak.OriginCache, nil
	}

	return nil, "", fmt.Errorf("%w: NORAD ID %d: %w", celestrak.ErrLoadFailed, noradID, celestrak.ErrNotFound)
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	tle, err := tracker.ParseTLELines(issName, issLine1, issLine2)
	if err != nil {
		t.Fatalf("ParseTLELines() error = %v", err)
	}

	cfg := config.Default()
	m := metrics.New(false)
	runner := simulation.NewRunner(
		simulation.WithLogger(testLogger()),
		simulation.WithRecorder(m),
		simulation.WithClock(func() time.Time { return issEpoch.Add(10 * time.Minute) }),
	)

	base := []Option{
		WithLogger(testLogger()),
		WithMetrics(m),
		WithSource(fakeSource{25544: tle}),
	}

	return NewServer(cfg.Server, runner, cfg.BaseRequest(), append(base, opts...)...)
}

func issBody() map[string]any {
	return map[string]any{
		"name":           issName,
		"line1":          issLine1,
		"line2":          issLine2,
		"from_epoch":     true,
		"interval":       1,
		"rate_unit":      "min",
		"duration_hours": 1,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

type trackResponse struct {
	Samples []tracker.GroundSample `json:"samples"`
}

type reportResponse struct {
	NoradID    int                 `json:"norad_id"`
	Summary    string              `json:"summary"`
	Track      trackResponse       `json:"track"`
	Footprints []tracker.Footprint `json:"footprints"`
	Scan       *tracker.ScanResult `json:"scan"`
	PassReport []map[string]any    `json:"pass_report"`
}

func decodeReport(t *testing.T, w *httptest.ResponseRecorder) reportResponse {
	t.Helper()

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp reportResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	return resp
}

func TestTrack(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	body := issBody()
	body["target"] = map[string]float64{"lat": 0, "lon": 0}

	resp := decodeReport(t, do(t, srv.Handler(), http.MethodPost, trackPath, body))

	if resp.NoradID != 25544 {
		t.Errorf("norad_id = %d", resp.NoradID)
	}
	if len(resp.Track.Samples) != 61 || len(resp.Footprints) != 61 {
		t.Errorf("samples = %d, footprints = %d, want 61", len(resp.Track.Samples), len(resp.Footprints))
	}
	if !resp.Track.Samples[0].Time.Equal(issEpoch) {
		t.Errorf("first sample at %v, want epoch", resp.Track.Samples[0].Time)
	}
	if resp.Scan != nil {
		t.Error("track must ignore the target point")
	}

	want := "Orbit data calculated successfully. Total propagated points: 61."
	if resp.Summary != want {
		t.Errorf("summary = %q, want %q", resp.Summary, want)
	}
}

func TestTrack_StartDate(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	body := issBody()
	body["start_date"] = "01-01-2024"

	resp := decodeReport(t, do(t, srv.Handler(), http.MethodPost, trackPath, body))

	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := resp.Track.Samples[0].Time; !got.Equal(want) {
		t.Errorf("first sample at %v, want %v", got, want)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	track := decodeReport(t, do(t, srv.Handler(), http.MethodPost, trackPath, issBody()))
	target := track.Track.Samples[20]

	body := issBody()
	body["target"] = map[string]float64{"lat": target.Lat, "lon": target.Lon}

	resp := decodeReport(t, do(t, srv.Handler(), http.MethodPost, scanPath, body))

	if resp.Scan == nil || resp.Scan.Count() == 0 {
		t.Fatalf("scan = %+v, want matches", resp.Scan)
	}

	found := false
	for _, m := range resp.Scan.Matches {
		if m.Footprint.Index == 20 {
			found = true
		}
	}
	if !found {
		t.Error("footprint of sample 20 must contain its own sub-satellite point")
	}
	if len(resp.PassReport) == 0 {
		t.Error("pass_report must not be empty")
	}
	if !strings.Contains(resp.Summary, "Satellite can scan target point") {
		t.Errorf("summary = %q", resp.Summary)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	with := func(key string, value any) map[string]any {
		b := issBody()
		if value == nil {
			delete(b, key)
		} else {
			b[key] = value
		}
		return b
	}

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantReason string
	}{
		{
			name:       "bad checksum",
			path:       trackPath,
			body:       with("line1", issLine1[:68]+"0"),
			wantStatus: http.StatusBadRequest,
			wantReason: "malformed_tle",
		},
		{
			name:       "no start",
			path:       trackPath,
			body:       with("from_epoch", nil),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad start date",
			path:       trackPath,
			body:       with("start_date", "2024-01-01"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			path:       trackPath,
			body:       with("step", 5),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "broken JSON",
			path:       trackPath,
			body:       `{"line1": `,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown rate unit",
			path:       trackPath,
			body:       with("rate_unit", "days"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "zero interval",
			path:       trackPath,
			body:       with("interval", 0),
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_window",
		},
		{
			name:       "scan without target",
			path:       scanPath,
			body:       issBody(),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "target out of range",
			path:       scanPath,
			body:       with("target", map[string]float64{"lat": 91, "lon": 0}),
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_point",
		},
		{
			name:       "unknown satellite",
			path:       trackPath,
			body:       map[string]any{"norad_id": 11111, "from_epoch": true},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := do(t, srv.Handler(), http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}

			var resp map[string]any
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if resp["error"] == nil {
				t.Error("expected error field in response")
			}
			if tt.wantReason != "" && resp["reason"] != tt.wantReason {
				t.Errorf("reason = %v, want %q", resp["reason"], tt.wantReason)
			}
		})
	}
}

func TestSampleBudget(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	body := issBody()
	body["interval"] = 1
	body["rate_unit"] = "s"
	body["duration_hours"] = 48

	w := do(t, srv.Handler(), http.MethodPost, trackPath, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["reason"] != "too_many_samples" || resp["max_samples"] != float64(config.DefaultMaxSamples) {
		t.Errorf("response = %v", resp)
	}
}

func TestNoradLookup(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	body := map[string]any{"norad_id": 25544, "from_epoch": true, "interval": 1, "rate_unit": "min", "duration_hours": 1}
	resp := decodeReport(t, do(t, srv.Handler(), http.MethodPost, trackPath, body))
	if resp.NoradID != 25544 || len(resp.Track.Samples) != 61 {
		t.Errorf("norad_id = %d, samples = %d", resp.NoradID, len(resp.Track.Samples))
	}

	// Без источника TLE поиск по номеру недоступен.
	bare := newTestServer(t, WithSource(nil))
	w := do(t, bare.Handler(), http.MethodPost, trackPath, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestLive(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	w := do(t, srv.Handler(), http.MethodPost, livePath, map[string]any{"norad_id": 25544})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var fix simulation.LiveFix
	if err := json.NewDecoder(w.Body).Decode(&fix); err != nil {
		t.Fatal(err)
	}

	if fix.NoradID != 25544 || fix.Name != issName {
		t.Errorf("fix = %+v", fix)
	}
	if fix.TLEAge != 10*time.Minute {
		t.Errorf("tle age = %v, want 10m", fix.TLEAge)
	}
	if !fix.Sample.Time.Equal(issEpoch.Add(10 * time.Minute)) {
		t.Errorf("sample time = %v", fix.Sample.Time)
	}

	w = do(t, srv.Handler(), http.MethodPost, livePath, map[string]any{"line1": issLine1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing line 2", w.Code)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	w := do(t, srv.Handler(), http.MethodPost, exportPath+"?format=csv&data=samples", issBody())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "25544_samples.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 62 || lines[0] != "index,time,lat,lon,alt_km" {
		t.Errorf("got %d lines, header %q", len(lines), lines[0])
	}

	w = do(t, srv.Handler(), http.MethodPost, exportPath+"?data=segments", issBody())
	if w.Code != http.StatusOK {
		t.Fatalf("segments status = %d", w.Code)
	}
	var segments []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&segments); err != nil || len(segments) < 61 {
		t.Errorf("segments = %d rows, err = %v", len(segments), err)
	}

	tests := []struct {
		name  string
		query string
	}{
		{name: "unknown format", query: "?format=xml"},
		{name: "unknown data", query: "?data=orbits"},
		{name: "passes without target", query: "?data=passes"},
	}
	for _, tt := range tests {
		if w := do(t, srv.Handler(), http.MethodPost, exportPath+tt.query, issBody()); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, w.Code)
		}
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	h := srv.Handler()

	w := do(t, h, http.MethodGet, healthzPath, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("healthz: %d %s", w.Code, w.Body.String())
	}

	if w := do(t, h, http.MethodPost, trackPath, issBody()); w.Code != http.StatusOK {
		t.Fatalf("track status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, trackPath, nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET track status = %d, want 405", w.Code)
	}

	w = do(t, h, http.MethodGet, metricsPath, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`satscan_http_requests_total{code="200",method="POST",path="/api/v1/track"} 1`,
		`satscan_http_requests_total{code="405",method="GET",path="/api/v1/track"} 1`,
		`satscan_runs_total{status="ok"} 1`,
		`satscan_samples_total 61`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
