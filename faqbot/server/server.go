package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
	"github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness"
	"github.com/ZanzyTHEbar/faqbot/faqbot/memory/service"
	"github.com/oklog/ulid/v2"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

// Deps are the pipeline pieces the HTTP layer talks to. Index and Metrics may be nil.
type Deps struct {
	Orchestrator *harness.RequestOrchestrator
	Index        service.VectorIndex
	Metrics      *service.MetricsCollector
}

// Server is the HTTP front of the FAQ pipeline.
type Server struct {
	config    config.ServerConfig
	deps      Deps
	validator *harness.JSONValidator
	handler   http.Handler
	httpSrv   *http.Server
	logger    zerolog.Logger
}

// New creates a new Server with the given config.
func New(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}

	validator, err := harness.NewJSONValidator([]byte(askSchema))
	if err != nil {
		return nil, fmt.Errorf("ask schema: %w", err)
	}

	s := &Server{
		config:    cfg,
		deps:      deps,
		validator: validator,
		logger:    logger.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /sessions/{id}/history", s.handleGetHistory)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodOptions, http.MethodHead,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{sessionHeader, requestIDHeader},
		AllowCredentials: true,
	})

	s.handler = s.requestLogger(c.Handler(mux))
	return s, nil
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on the configured address until ctx is done, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Listening")
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

const requestIDHeader = "X-Request-ID"

// statusRecorder captures the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger stamps each request with a ULID and logs it once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := ulid.Make().String()
		w.Header().Set(requestIDHeader, id)

		logger := s.logger.With().Str("request_id", id).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
