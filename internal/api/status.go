package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fencewatch/fencewatch/internal/recording"
)

// StatusSource aggregates the live state the endpoint reports. Any field may
// be nil; the corresponding section is omitted.
type StatusSource struct {
	Recorders  func() []recording.RecorderStatus
	Buffers    func() []recording.RecorderStatus
	QueueDepth func() int
	Disk       func() recording.DiskStatus
	DBHealth   func(ctx context.Context) error
}

// Server is the recorder's small HTTP surface: a liveness probe and a
// status snapshot.
type Server struct {
	addr   string
	source StatusSource
	logger *slog.Logger
}

// NewServer builds the status server.
func NewServer(addr string, source StatusSource) *Server {
	return &Server{
		addr:   addr,
		source: source,
		logger: slog.Default().With("component", "api"),
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("Status server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.source.DBHealth != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.source.DBHealth(ctx); err != nil {
			ServiceUnavailable(w, "database unreachable")
			return
		}
	}
	OK(w, map[string]string{"status": "ok"})
}

type statusPayload struct {
	Recorders  []recording.RecorderStatus `json:"recorders,omitempty"`
	Buffers    []recording.RecorderStatus `json:"buffers,omitempty"`
	QueueDepth *int                       `json:"clip_queue_depth,omitempty"`
	Disk       *recording.DiskStatus      `json:"disk,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var payload statusPayload
	if s.source.Recorders != nil {
		payload.Recorders = s.source.Recorders()
	}
	if s.source.Buffers != nil {
		payload.Buffers = s.source.Buffers()
	}
	if s.source.QueueDepth != nil {
		depth := s.source.QueueDepth()
		payload.QueueDepth = &depth
	}
	if s.source.Disk != nil {
		disk := s.source.Disk()
		payload.Disk = &disk
	}
	OK(w, payload)
}
