package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"cashflowsim/internal/core"
	"cashflowsim/internal/log"
	"cashflowsim/internal/simulation"
)

// handleIndex describes the service. Anything other than the exact root
// path is a 404 so requests for random paths do not look like the API.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", "unknown path")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "cashflowsim",
		"endpoints": []string{
			"POST /api/v1/simulate",
			"POST /api/v1/simulate/sheet",
			"POST /api/v1/simulate/async",
			"GET /api/v1/runs/recent",
			"GET /healthz",
			"GET /readyz",
			"GET /metrics",
		},
	})
}

// handleSimulate runs a simulation synchronously for the request body.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)

	var req simulation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	resp, cached, err := s.runSimulation(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, resp)
}

// sheetSimulateRequest is the body of /api/v1/simulate/sheet: the window
// and starting balance come from the caller, the events from the
// configured source.
type sheetSimulateRequest struct {
	InitialBalance int64     `json:"initial_balance"`
	SimStart       core.Date `json:"sim_start"`
	SimEnd         core.Date `json:"sim_end"`
}

// handleSimulateSheet runs a simulation over events loaded from the
// configured event source (Google Sheets or a local file).
func (s *Server) handleSimulateSheet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "source_unavailable", "no event source configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)

	var body sheetSimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	evts, err := s.source.Load(ctx)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Event source load failed",
			"error", err)
		writeError(w, http.StatusBadGateway, "source_error", "failed to load events")
		return
	}

	req := simulation.Request{
		Events:         evts,
		InitialBalance: body.InitialBalance,
		SimStart:       body.SimStart,
		SimEnd:         body.SimEnd,
	}

	resp, cached, err := s.runSimulation(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSimulateAsync enqueues a simulation job instead of running it
// inline. The response carries the job ID; the result lands in the run
// store once a worker picks it up.
func (s *Server) handleSimulateAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if s.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "no job queue configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)

	var req simulation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	jobID, err := s.publisher.EnqueueSimulation(r.Context(), req)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Job enqueue failed",
			"error", err)
		writeError(w, http.StatusServiceUnavailable, "queue_error", "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// runSimulation validates and executes a request, consulting the result
// cache first and recording the run afterwards.
func (s *Server) runSimulation(ctx context.Context, req simulation.Request) (simulation.Response, bool, error) {
	if err := req.Validate(); err != nil {
		return simulation.Response{}, false, err
	}

	if unknown := simulation.UnknownFrequencies(req.Events); len(unknown) > 0 {
		s.logger.WarnContext(ctx, "Events with unrecognized frequency produce no occurrences",
			"events", strings.Join(unknown, ", "))
	}

	fingerprint := req.Fingerprint()
	if resp, found := s.resultCache.Get(fingerprint); found {
		s.logger.DebugContext(ctx, "Result cache hit", log.FieldFingerprint, fingerprint)
		return resp, true, nil
	}

	resp, err := simulation.Run(req)
	if err != nil {
		return simulation.Response{}, false, err
	}

	atomic.AddInt64(&s.metrics.totalSimulations, 1)
	s.resultCache.Set(fingerprint, resp)

	if s.runStore != nil {
		if err := s.runStore.SaveRun(ctx, req, resp); err != nil {
			// Recording is best-effort; the response is still valid.
			s.logger.ErrorContext(ctx, "Failed to record run",
				log.FieldFingerprint, fingerprint,
				"error", err)
		}
	}

	s.logger.InfoContext(ctx, "Simulation completed",
		log.FieldOperation, log.OpSimulate,
		log.FieldFingerprint, fingerprint,
		log.FieldEventCount, len(req.Events),
		log.FieldEntryCount, len(resp.Cashflows),
		"final_balance_cents", resp.FinalBalance())

	return resp, false, nil
}

// runSummary is the wire shape of one entry in /api/v1/runs/recent.
type runSummary struct {
	Fingerprint  string    `json:"fingerprint"`
	EventCount   int       `json:"event_count"`
	EntryCount   int       `json:"entry_count"`
	FinalBalance int64     `json:"final_balance_cents"`
	Hits         int64     `json:"hits"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// handleRecentRuns lists the most recently seen simulation runs.
func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if s.runStore == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "no run store configured")
		return
	}

	limit := 20
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	runs, err := s.runStore.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Recent runs query failed",
			"error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to list runs")
		return
	}

	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, runSummary{
			Fingerprint:  run.Fingerprint,
			EventCount:   run.EventCount,
			EntryCount:   run.EntryCount,
			FinalBalance: run.FinalBalance,
			Hits:         run.Hits,
			CreatedAt:    run.CreatedAt,
			LastSeenAt:   run.LastSeenAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

// handleHealth performs basic liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.startedAt).String(),
	})
}

// handleReady performs readiness check with dependency verification.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.runStore != nil {
		if _, err := s.runStore.CountRuns(ctx); err != nil {
			checks["run_store"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["run_store"] = "ok"
		}
	} else {
		checks["run_store"] = "not_configured"
	}

	if s.source != nil {
		checks["event_source"] = "configured"
	} else {
		checks["event_source"] = "not_configured"
	}

	checks["result_cache"] = map[string]any{
		"entries": s.resultCache.Size(),
		"status":  "ok",
	}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.activeClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	totalRequests := atomic.LoadInt64(&s.metrics.totalRequests)
	totalSimulations := atomic.LoadInt64(&s.metrics.totalSimulations)
	cacheHits, cacheMisses := s.resultCache.Stats()
	rateLimitHits := atomic.LoadInt64(&s.secMetrics.rateLimitHits)
	suspiciousRequests := atomic.LoadInt64(&s.secMetrics.suspiciousRequests)
	uptime := time.Since(s.metrics.startedAt)

	var storedRuns int64 = -1
	if s.runStore != nil {
		if n, err := s.runStore.CountRuns(r.Context()); err == nil {
			storedRuns = n
		}
	}

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", totalRequests)

	fmt.Fprintf(w, "# HELP simulations_total Total number of simulations executed\n")
	fmt.Fprintf(w, "# TYPE simulations_total counter\n")
	fmt.Fprintf(w, "simulations_total %d\n\n", totalSimulations)

	fmt.Fprintf(w, "# HELP result_cache_hits_total Total result cache hits\n")
	fmt.Fprintf(w, "# TYPE result_cache_hits_total counter\n")
	fmt.Fprintf(w, "result_cache_hits_total %d\n\n", cacheHits)

	fmt.Fprintf(w, "# HELP result_cache_misses_total Total result cache misses\n")
	fmt.Fprintf(w, "# TYPE result_cache_misses_total counter\n")
	fmt.Fprintf(w, "result_cache_misses_total %d\n\n", cacheMisses)

	fmt.Fprintf(w, "# HELP result_cache_entries Current result cache entries\n")
	fmt.Fprintf(w, "# TYPE result_cache_entries gauge\n")
	fmt.Fprintf(w, "result_cache_entries %d\n\n", s.resultCache.Size())

	if storedRuns >= 0 {
		fmt.Fprintf(w, "# HELP simulation_runs_stored Total distinct runs recorded\n")
		fmt.Fprintf(w, "# TYPE simulation_runs_stored gauge\n")
		fmt.Fprintf(w, "simulation_runs_stored %d\n\n", storedRuns)
	}

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitHits)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", suspiciousRequests)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", s.rateLimiter.activeClients())

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", uptime.Seconds())
}
