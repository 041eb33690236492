package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cashflowsim/internal/config"
	"cashflowsim/internal/core"
	"cashflowsim/internal/events"
	"cashflowsim/internal/log"
	"cashflowsim/internal/simulation"
	"cashflowsim/internal/storage"
)

type fakeSource struct{ evts []core.Event }

func (f fakeSource) Load(ctx context.Context) ([]core.Event, error) { return f.evts, nil }

type errSource struct{}

func (errSource) Load(ctx context.Context) ([]core.Event, error) {
	return nil, context.DeadlineExceeded
}

type fakePublisher struct{ lastID string }

func (f *fakePublisher) EnqueueSimulation(ctx context.Context, req simulation.Request) (string, error) {
	f.lastID = req.Fingerprint()
	return f.lastID, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:            "0",
		CacheSize:       16,
		CacheTTL:        time.Minute,
		MaxRequestBytes: 1 << 20,
	}
}

func newTestServer(t *testing.T, store *storage.RunStore, source events.Source, publisher SimulationJobPublisher) *Server {
	t.Helper()
	srv := NewServer(testConfig(), log.New(log.DefaultConfig()), store, source, publisher)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func newTestStore(t *testing.T) *storage.RunStore {
	t.Helper()
	store, err := storage.NewRunStore(filepath.Join(t.TempDir(), "runs.db"), nil)
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

const simulateBody = `{
	"events": [
		{"name": "Salary", "start_date": "2024-01-25", "frequency": "monthly", "value": 300000},
		{"name": "Rent", "start_date": "2024-01-05", "frequency": "monthly", "value": -130000}
	],
	"initial_balance": 100000,
	"sim_start": "2024-02-01",
	"sim_end": "2024-02-29"
}`

func TestIndexAndHealth(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != 200 {
		t.Fatalf("index status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cashflowsim") {
		t.Fatalf("index body missing service name: %s", rr.Body.String())
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != 200 {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown path status=%d, want 404", rr.Code)
	}
}

func TestSimulateEndpoint(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), nil, nil)

	// Wrong method
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/simulate", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}

	// Malformed JSON
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate", strings.NewReader("{")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rr.Code)
	}

	// Window inverted
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate", strings.NewReader(
		`{"events": [], "initial_balance": 0, "sim_start": "2024-03-01", "sim_end": "2024-02-01"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted window, got %d", rr.Code)
	}
	var errResp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if errResp.Error != "invalid_request" {
		t.Errorf("error code = %q, want invalid_request", errResp.Error)
	}

	// Success
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate", strings.NewReader(simulateBody)))
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Errorf("first run X-Cache = %q, want MISS", rr.Header().Get("X-Cache"))
	}

	var resp simulation.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	// Synthetic opening entry plus the two February occurrences.
	if len(resp.Cashflows) != 3 {
		t.Fatalf("got %d cashflows, want 3", len(resp.Cashflows))
	}
	if resp.FinalBalance() != 100000-130000+300000 {
		t.Errorf("final balance = %d, want %d", resp.FinalBalance(), 100000-130000+300000)
	}

	// Identical request is served from the cache.
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate", strings.NewReader(simulateBody)))
	if rr.Code != 200 {
		t.Fatalf("expected 200 on repeat, got %d", rr.Code)
	}
	if rr.Header().Get("X-Cache") != "HIT" {
		t.Errorf("repeat run X-Cache = %q, want HIT", rr.Header().Get("X-Cache"))
	}
}

func TestSimulateSheetEndpoint(t *testing.T) {
	window := `{"initial_balance": 50000, "sim_start": "2024-02-01", "sim_end": "2024-02-29"}`

	t.Run("no source configured", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate/sheet", strings.NewReader(window)))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	})

	t.Run("source error", func(t *testing.T) {
		srv := newTestServer(t, nil, errSource{}, nil)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate/sheet", strings.NewReader(window)))
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rr.Code)
		}
	})

	t.Run("success", func(t *testing.T) {
		source := fakeSource{evts: []core.Event{
			{Name: "Salary", StartDate: core.NewDate(2024, 1, 25), Frequency: core.FreqMonthly, Value: 300000},
		}}
		srv := newTestServer(t, nil, source, nil)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate/sheet", strings.NewReader(window)))
		if rr.Code != 200 {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp simulation.Response
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("response is not JSON: %v", err)
		}
		if resp.FinalBalance() != 350000 {
			t.Errorf("final balance = %d, want 350000", resp.FinalBalance())
		}
	})
}

func TestSimulateAsyncEndpoint(t *testing.T) {
	t.Run("no queue configured", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate/async", strings.NewReader(simulateBody)))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	})

	t.Run("enqueues job", func(t *testing.T) {
		pub := &fakePublisher{}
		srv := newTestServer(t, nil, nil, pub)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate/async", strings.NewReader(simulateBody)))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var body map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not JSON: %v", err)
		}
		if body["job_id"] != pub.lastID || body["job_id"] == "" {
			t.Errorf("job_id = %q, want %q", body["job_id"], pub.lastID)
		}
	})

	t.Run("invalid request is rejected before enqueue", func(t *testing.T) {
		pub := &fakePublisher{}
		srv := newTestServer(t, nil, nil, pub)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate/async", strings.NewReader(
			`{"events": [{"name": "", "start_date": "2024-01-01", "value": 1}], "sim_start": "2024-01-01", "sim_end": "2024-02-01"}`)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if pub.lastID != "" {
			t.Error("invalid request must not reach the publisher")
		}
	})
}

func TestRecentRunsEndpoint(t *testing.T) {
	t.Run("no store configured", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/runs/recent", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	})

	t.Run("lists recorded runs", func(t *testing.T) {
		srv := newTestServer(t, newTestStore(t), nil, nil)

		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate", strings.NewReader(simulateBody)))
		if rr.Code != 200 {
			t.Fatalf("simulate status=%d", rr.Code)
		}

		rr = httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/runs/recent", nil))
		if rr.Code != 200 {
			t.Fatalf("recent runs status=%d: %s", rr.Code, rr.Body.String())
		}

		var body struct {
			Runs []runSummary `json:"runs"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not JSON: %v", err)
		}
		if len(body.Runs) != 1 {
			t.Fatalf("got %d runs, want 1", len(body.Runs))
		}
		if body.Runs[0].EntryCount != 3 || body.Runs[0].Hits != 1 {
			t.Errorf("run summary = %+v", body.Runs[0])
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		srv := newTestServer(t, newTestStore(t), nil, nil)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/runs/recent?limit=zero", nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate", strings.NewReader(simulateBody)))
	if rr.Code != 200 {
		t.Fatalf("simulate status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("metrics status=%d", rr.Code)
	}

	body := rr.Body.String()
	for _, metric := range []string{
		"simulations_total 1",
		"http_requests_total",
		"result_cache_misses_total 1",
		"uptime_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %q", metric)
		}
	}
}

func TestRequestBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequestBytes = 64
	srv := NewServer(cfg, log.New(log.DefaultConfig()), nil, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/simulate", strings.NewReader(simulateBody)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rr.Code)
	}
}
