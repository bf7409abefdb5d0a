package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"speakerline/internal/config"
	"speakerline/internal/jobs"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Minute
	writeTimeout      = 15 * time.Minute
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Submitter accepts uploads.
type Submitter interface {
	Submit(ctx context.Context, filename string, body io.Reader) (jobs.Handle, error)
}

// StatusReader reports job status.
type StatusReader interface {
	Status(ctx context.Context, taskID string) (jobs.Result, error)
}

// Cleaner removes job working directories.
type Cleaner interface {
	Cleanup(ctx context.Context, jobID string) (jobs.CleanupStatus, error)
}

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the collaborators behind the HTTP routes.
type Services struct {
	Submitter Submitter
	Status    StatusReader
	Cleaner   Cleaner
	Queue     Pinger
	Metrics   *metrics.Metrics
}

// Server serves the HTTP API.
type Server struct {
	bind      string
	apiKey    string
	maxUpload int64
	services  Services
	logger    *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer creates a server bound to server.bind.
func NewServer(cfg *config.Config, services Services, logger *slog.Logger) *Server {
	s := &Server{
		bind:      strings.TrimSpace(cfg.Server.Bind),
		apiKey:    cfg.Server.APIKey,
		maxUpload: cfg.MaxUploadBytes(),
		services:  services,
		logger:    logging.NewComponentLogger(logger, "api-server"),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", authMiddleware(s.apiKey, s.handleTranscribe))
	mux.HandleFunc("GET /result/{task_id}", authMiddleware(s.apiKey, s.handleResult))
	mux.HandleFunc("DELETE /job/{job_id}", authMiddleware(s.apiKey, s.handleCleanup))
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.services.Metrics != nil {
		mux.Handle("GET /metrics", s.services.Metrics.Handler())
	}
	return s.withRequestID(mux)
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.WithRequestID(r.Context(), id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("request served",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
