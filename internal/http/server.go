package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cashflowsim/internal/cache"
	"cashflowsim/internal/config"
	"cashflowsim/internal/events"
	"cashflowsim/internal/log"
	"cashflowsim/internal/simulation"
	"cashflowsim/internal/storage"
)

// appMetrics tracks application-level counters exposed on /metrics.
type appMetrics struct {
	totalRequests    int64
	totalSimulations int64
	startedAt        time.Time
}

type Server struct {
	http.Server
	logger    *log.Logger
	runStore  *storage.RunStore
	source    events.Source
	publisher SimulationJobPublisher

	// Result cache keyed by request fingerprint. The engine is a pure
	// function of the request, so identical fingerprints always map to
	// identical responses.
	resultCache  *cache.LRUCache[simulation.Response]
	cacheManager *cache.Manager

	rateLimiter *rateLimiter
	secMetrics  securityMetrics
	metrics     appMetrics

	maxRequestBytes int64
	shutdownOnce    sync.Once
}

// SimulationJobPublisher enqueues simulation jobs for asynchronous
// processing by a worker.
type SimulationJobPublisher interface {
	EnqueueSimulation(ctx context.Context, req simulation.Request) (jobID string, err error)
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. The run store, event source, and publisher may be nil; the
// endpoints depending on them answer 503 in that case.
func NewServer(cfg *config.Config, logger *log.Logger, store *storage.RunStore, source events.Source, publisher SimulationJobPublisher) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:          logger.WithComponent(log.ComponentHTTP),
		runStore:        store,
		source:          source,
		publisher:       publisher,
		resultCache:     cache.NewLRUCache[simulation.Response](cfg.CacheSize, cfg.CacheTTL),
		cacheManager:    cache.NewManager(),
		rateLimiter:     newRateLimiter(),
		metrics:         appMetrics{startedAt: time.Now()},
		maxRequestBytes: cfg.MaxRequestBytes,
	}

	s.cacheManager.Register(s.resultCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/", s.withSecurityHeaders(s.handleIndex))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/api/v1/simulate", s.withSecurityHeaders(s.handleSimulate))
	mux.HandleFunc("/api/v1/simulate/sheet", s.withSecurityHeaders(s.handleSimulateSheet))
	mux.HandleFunc("/api/v1/simulate/async", s.withSecurityHeaders(s.handleSimulateAsync))
	mux.HandleFunc("/api/v1/runs/recent", s.withSecurityHeaders(s.handleRecentRuns))

	return s
}

// Shutdown stops the background cleanup goroutines and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request
// logging to responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&s.metrics.totalRequests, 1)

		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		if detectSuspiciousRequest(r, &s.secMetrics) {
			s.logger.WarnContext(ctx, "Suspicious request detected",
				log.FieldRequestID, requestID,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, clientIP,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}

		// Rate limit simulation submissions, not reads.
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP, &s.secMetrics) {
			s.logger.WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Please try again later.")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Request-ID", requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		s.logger.InfoContext(ctx, "Request completed",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, duration.Milliseconds(),
			log.FieldClientIP, clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
