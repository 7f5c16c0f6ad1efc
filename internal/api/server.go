// Package api exposes session operations over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"devsession_mon/internal/logging"
	"devsession_mon/internal/report"
	"devsession_mon/internal/session"
	"devsession_mon/internal/store"
	"devsession_mon/internal/summarize"
)

// Service is the session surface the handlers call
type Service interface {
	Start(ctx context.Context, projectName, projectPath string, opts session.Options) (*session.StartResult, error)
	Stop(ctx context.Context, sessionID string, force bool) (*store.Session, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	ListSessions(ctx context.Context, status store.SessionStatus) ([]*store.Session, error)
	GetSessionEvents(ctx context.Context, sessionID string, kinds []store.EventKind, limit int) ([]store.Event, error)
	GetSessionStats(ctx context.Context, sessionID string) (*store.SessionStats, error)
	GetAnalyses(ctx context.Context, sessionID string) ([]*store.AnalysisResult, error)
	GenerateReport(ctx context.Context, sessionID string, opts report.Options) (*report.Report, error)
	RecordCommand(ctx context.Context, sessionID string, rec session.CommandRecord) (*store.CommandEvent, error)
	AnalyzeLog(ctx context.Context, text string, lc summarize.LogContext) (summarize.Analysis, error)
	Purge(ctx context.Context, sessionID string) error
	ListReports(ctx context.Context, sessionID string) ([]*store.Report, error)
	Status() session.Status
}

// Server is the HTTP front end
type Server struct {
	svc    Service
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a server over svc
func NewServer(svc Service) *Server {
	router := gin.New()

	s := &Server{
		svc:    svc,
		router: router,
		logger: logging.For("api"),
	}
	router.Use(gin.Recovery(), s.logRequests)

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/sessions", s.handleListSessions)
		api.POST("/sessions", s.handleStartSession)
		api.GET("/sessions/:id", s.handleGetSession)
		api.DELETE("/sessions/:id", s.handlePurgeSession)
		api.POST("/sessions/:id/stop", s.handleStopSession)
		api.GET("/sessions/:id/events", s.handleSessionEvents)
		api.GET("/sessions/:id/stats", s.handleSessionStats)
		api.GET("/sessions/:id/analyses", s.handleSessionAnalyses)
		api.GET("/sessions/:id/reports", s.handleListReports)
		api.POST("/sessions/:id/reports", s.handleGenerateReport)
		api.POST("/sessions/:id/commands", s.handleRecordCommand)
		api.POST("/analyze", s.handleAnalyze)
	}

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}
