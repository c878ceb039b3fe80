// Package server exposes the queue over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/voyagen/crowdqueue/internal/models"
	"github.com/voyagen/crowdqueue/internal/service"
	"go.uber.org/zap"
)

// Queue is the service surface the HTTP layer needs.
type Queue interface {
	Submit(ctx context.Context, raw, submitterID string) (*models.QueueEntry, error)
	Upvote(ctx context.Context, entryID, participantID string) (models.VoteResponse, error)
	Downvote(ctx context.Context, entryID, participantID string) (models.VoteResponse, error)
	Finished(ctx context.Context, id string) (service.Transition, error)
	Remove(ctx context.Context, id string) (service.Transition, error)
	Snapshot(ctx context.Context, participantID string) (*models.Snapshot, error)
	NowPlaying(ctx context.Context) (models.NowPlayingResponse, error)
	ListBySubmitter(ctx context.Context, submitterID string) ([]models.QueueEntry, error)
	Ping(ctx context.Context) error
	PollInterval() time.Duration
}

// Server holds dependencies for the HTTP API.
type Server struct {
	queue Queue
	port  string
	log   *zap.Logger
	mux   *http.ServeMux
}

// New creates a Server listening on port and registers routes.
func New(q Queue, port string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &Server{queue: q, port: port, log: log.Named("http"), mux: http.NewServeMux()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Reads
	s.mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /api/now-playing", s.handleNowPlaying)
	s.mux.HandleFunc("GET /api/entries", s.handleListEntries)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	// Mutations
	s.mux.HandleFunc("POST /api/entries", s.handleSubmit)
	s.mux.HandleFunc("DELETE /api/entries/{id}", s.handleRemove)
	s.mux.HandleFunc("POST /api/entries/{id}/votes", s.handleUpvote)
	s.mux.HandleFunc("DELETE /api/entries/{id}/votes", s.handleDownvote)
	s.mux.HandleFunc("POST /api/entries/{id}/finished", s.handleFinished)

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
	s.mux.HandleFunc("GET /api/docs/openapi.json", s.handleOpenAPIJSON)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the routed handler wrapped in CORS and access logging.
func (s *Server) Handler() http.Handler {
	return withCORS(s.withLogging(s))
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown", zap.Error(err))
		}
	}()

	s.log.Info("listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}
