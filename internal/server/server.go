// Package server exposes the query engine over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lindqvist/mapfold/internal/db"
	"github.com/lindqvist/mapfold/internal/metrics"
	"github.com/lindqvist/mapfold/internal/models"
	"github.com/lindqvist/mapfold/internal/service"
)

// QueryAPI is the routing front door the server delegates queries to.
type QueryAPI interface {
	Ask(ctx context.Context, req service.AskRequest) (*service.AskResponse, error)
}

// JobAPI exposes job polling and cancellation.
type JobAPI interface {
	GetJobStatus(ctx context.Context, jobID, userID string) (*models.QueryJob, error)
	ListJobs(ctx context.Context, userID string, opts db.ListJobsOptions) ([]models.QueryJob, error)
	CancelJob(ctx context.Context, jobID, userID string) error
}

// ConversationAPI exposes conversation management.
type ConversationAPI interface {
	CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]models.Message, error)
}

// Config holds the server's dependencies and listen address.
type Config struct {
	Addr          string
	Query         QueryAPI
	Jobs          JobAPI
	Conversations ConversationAPI
	Collector     *metrics.Collector
	Logger        *slog.Logger
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg  Config
	http *http.Server
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestLogger(cfg.Logger), gin.Recovery())

	r.GET("/health", s.health)

	api := r.Group("/api/v1", requireUser())
	{
		api.POST("/query", s.ask)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)
		api.DELETE("/jobs/:id", s.cancelJob)
		api.POST("/conversations", s.createConversation)
		api.GET("/conversations/:id", s.getConversation)
		api.GET("/conversations/:id/messages", s.listMessages)
		api.GET("/stats", s.stats)
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.cfg.Logger.Info("http server shutting down")
	return s.http.Shutdown(shutdownCtx)
}
