// Package server exposes the generation pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/orchestrator"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/book-expert/murmur-tts/internal/voice"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerRequestID     = "X-Request-ID"
	headerOrigin        = "Origin"
	headerVary          = "Vary"
	headerAllowOrigin   = "Access-Control-Allow-Origin"
	headerAllowMethods  = "Access-Control-Allow-Methods"
	headerAllowHeaders  = "Access-Control-Allow-Headers"
	contentTypeJSON     = "application/json"
	corsAllowedMethods  = "GET, POST, OPTIONS"
	corsAllowedHeaders  = "Content-Type, X-Request-ID"
	corsWildcard        = "*"
	instrumentationName = "murmur-tts"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

const (
	logFmtListening   = "HTTP server listening on %s"
	logFmtShutdown    = "HTTP server shutting down"
	logFmtAccess      = "%s %s -> %d in %s (request_id=%s)"
	logFmtEncodeError = "Failed to encode response (request_id=%s): %v"
)

// Generator runs a generate request.
type Generator interface {
	Generate(ctx context.Context, req api.GenerateRequest) (orchestrator.Result, error)
}

// HealthSource produces the health document.
type HealthSource interface {
	Report() api.HealthResponse
}

// Reloader starts a background load for one tier.
type Reloader interface {
	Reload(which tier.Tier) error
}

// Dependencies are the collaborators the handlers call into. Metrics may be
// nil to disable the metrics endpoint.
type Dependencies struct {
	Generator Generator
	Health    HealthSource
	Reloader  Reloader
	Catalog   *voice.Catalog
	Metrics   http.Handler
}

// Server owns the HTTP listener.
type Server struct {
	cfg  *config.Config
	deps Dependencies
	log  *logger.Logger
}

// New creates a server. Nothing listens until Run.
func New(cfg *config.Config, deps Dependencies, log *logger.Logger) *Server {
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Handler returns the full handler chain: request IDs, CORS and OpenTelemetry
// instrumentation around the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("POST /tiers/{tier}/reload", s.handleReload)

	if s.cfg.Metrics.Enabled && s.deps.Metrics != nil {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.deps.Metrics)
	}

	return otelhttp.NewHandler(s.withRequestID(s.withCORS(mux)), instrumentationName)
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout(),
		WriteTimeout:      s.cfg.Server.WriteTimeout(),
		IdleTimeout:       s.cfg.Server.IdleTimeout(),
	}

	serveErr := make(chan error, 1)

	go func() {
		s.log.Info(logFmtListening, srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info(logFmtShutdown)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout())
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID propagates or assigns X-Request-ID and writes one access log
// line per request.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestID := request.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
			request.Header.Set(headerRequestID, requestID)
		}

		writer.Header().Set(headerRequestID, requestID)

		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
		started := time.Now()

		next.ServeHTTP(recorder, request)

		s.log.Info(logFmtAccess, request.Method, request.URL.Path, recorder.status,
			time.Since(started).Round(time.Millisecond), requestID)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	origins := s.cfg.Server.CORSAllowedOrigins
	wildcard := slices.Contains(origins, corsWildcard)

	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		origin := request.Header.Get(headerOrigin)

		switch {
		case origin == "":
		case wildcard:
			writer.Header().Set(headerAllowOrigin, corsWildcard)
		case slices.Contains(origins, origin):
			writer.Header().Set(headerAllowOrigin, origin)
			writer.Header().Add(headerVary, headerOrigin)
		}

		if request.Method == http.MethodOptions && origin != "" {
			writer.Header().Set(headerAllowMethods, corsAllowedMethods)
			writer.Header().Set(headerAllowHeaders, corsAllowedHeaders)
			writer.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(writer, request)
	})
}
