// Package server implements the HTTP server that exposes the retrieval
// facade via a small REST API: query answering, health and readiness
// probes, and Prometheus metrics. The server is started by the
// `crag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/query"
	"github.com/54b3r/crag-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics. If nil, a private
	// registry is created; pass prometheus.DefaultRegisterer in production.
	Registry *prometheus.Registry
}

// retriever is the interface handleQuery calls to answer a query.
// *query.Service satisfies it; tests inject a fake.
type retriever interface {
	// Retrieve answers a query with a formatted context block and the
	// selected chunks.
	Retrieve(ctx context.Context, queryText string, opts query.Options) (*query.Answer, error)
}

// Server is the HTTP server that wraps the retrieval facade.
type Server struct {
	// retriever answers /api/query requests.
	retriever retriever
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the registered Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the search query text.
	Query string `json:"query"`
	// TopK caps the number of returned chunks (default FINAL_CHUNKS_MAX).
	TopK int `json:"top_k,omitempty"`
	// UseRerank toggles reranking; nil means the server default (on when
	// a reranker is configured).
	UseRerank *bool `json:"use_rerank,omitempty"`
	// MaxTokens overrides the context token budget.
	MaxTokens int `json:"max_tokens,omitempty"`
	// MetadataFilter restricts vector-side candidates.
	MetadataFilter map[string]string `json:"metadata_filter,omitempty"`
}

// chunkSummary is the per-chunk inspection data in a query response.
type chunkSummary struct {
	// ChunkID is the stable chunk identifier.
	ChunkID string `json:"chunk_id"`
	// Score is the fused or reranked relevance score.
	Score float64 `json:"score"`
	// VectorRank is the vector-side rank, 0 when absent.
	VectorRank int `json:"vector_rank,omitempty"`
	// LexicalRank is the lexical-side rank, 0 when absent.
	LexicalRank int `json:"lexical_rank,omitempty"`
}

// queryResponse is the JSON body returned by POST /api/query.
type queryResponse struct {
	// Context is the formatted context block.
	Context string `json:"context"`
	// Chunks summarizes the selected chunks.
	Chunks []chunkSummary `json:"chunks"`
	// ElapsedMs is the server-side processing time.
	ElapsedMs int64 `json:"elapsed_ms"`
}

// New constructs a Server over the retrieval facade.
func New(svc *query.Service, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: query service must not be nil")
	}
	return newServer(svc, cfg)
}

// newServer is the injectable constructor used by New and by tests.
func newServer(r retriever, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		retriever: r,
		cfg:       cfg,
		log:       log,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(registry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("server: CRAG_API_KEY not set, API authentication disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/query", s.protect(rl, "query", http.HandlerFunc(s.handleQuery)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// protect wraps a handler with auth, rate limiting, and instrumentation.
func (s *Server) protect(rl *rateLimiter, name string, next http.Handler) http.Handler {
	return authMiddleware(s.cfg.APIKey, rl.middleware(s.instrument(name, next)))
}

// instrument records request counts and latency for one logical handler.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, fmt.Sprintf("%d", rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleQuery handles POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	opts := query.Options{
		TopK:           req.TopK,
		MaxTokens:      req.MaxTokens,
		MetadataFilter: req.MetadataFilter,
	}
	if req.UseRerank != nil && !*req.UseRerank {
		opts.DisableRerank = true
	}

	answer, err := s.retriever.Retrieve(r.Context(), req.Query, opts)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case errors.Is(err, query.ErrIndexNotReady):
		outcome = "not_ready"
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		outcome = "error"
		log.Error("query failed", slog.Any("error", err))
		http.Error(w, "query failed", http.StatusInternalServerError)
	}
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if err != nil {
		return
	}

	resp := queryResponse{
		Context:   answer.Context,
		Chunks:    summarize(answer.Chunks),
		ElapsedMs: elapsed.Milliseconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("query encode error", slog.Any("error", err))
	}
}

// summarize converts retrieved chunks to their inspection form.
func summarize(chunks []rag.RetrievedChunk) []chunkSummary {
	out := make([]chunkSummary, len(chunks))
	for i, c := range chunks {
		out[i] = chunkSummary{
			ChunkID:     c.ChunkID,
			Score:       c.Score,
			VectorRank:  c.VectorRank,
			LexicalRank: c.LexicalRank,
		}
	}
	return out
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck // liveness response
}
