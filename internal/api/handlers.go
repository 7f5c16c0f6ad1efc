package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"devsession_mon/internal/report"
	"devsession_mon/internal/session"
	"devsession_mon/internal/store"
	"devsession_mon/internal/summarize"
)

const (
	maxLogSize    = 1 << 20 // 1MB
	maxEventLimit = 10000
)

type startRequest struct {
	ProjectName    string         `json:"project_name"`
	ProjectPath    string         `json:"project_path" binding:"required"`
	WatchFiles     *bool          `json:"watch_files"`
	TrackWindows   *bool          `json:"track_windows"`
	RecordCommands *bool          `json:"record_commands"`
	Metadata       map[string]any `json:"metadata"`
}

func (r startRequest) options() session.Options {
	opts := session.DefaultOptions()
	if r.WatchFiles != nil {
		opts.WatchFiles = *r.WatchFiles
	}
	if r.TrackWindows != nil {
		opts.TrackWindows = *r.TrackWindows
	}
	if r.RecordCommands != nil {
		opts.RecordCommands = *r.RecordCommands
	}
	opts.Metadata = r.Metadata
	return opts
}

type analyzeRequest struct {
	Text    string                `json:"text"`
	Context summarize.LogContext `json:"context"`
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidPath),
		errors.Is(err, report.ErrUnknownType),
		errors.Is(err, report.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.svc.Status()})
}

func (s *Server) handleListSessions(c *gin.Context) {
	status := store.SessionStatus(c.Query("status"))
	switch status {
	case "", store.StatusActive, store.StatusCompleted:
	default:
		badRequest(c, "status must be active or completed")
		return
	}

	sessions, err := s.svc.ListSessions(c.Request.Context(), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "project_path is required")
		return
	}

	res, err := s.svc.Start(c.Request.Context(), req.ProjectName, req.ProjectPath, req.options())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"session":  res.Session,
		"warnings": res.Warnings,
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.svc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": sess,
	})
}

func (s *Server) handleStopSession(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	sess, err := s.svc.Stop(c.Request.Context(), c.Param("id"), force)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": sess,
	})
}

func (s *Server) handlePurgeSession(c *gin.Context) {
	if err := s.svc.Purge(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSessionEvents(c *gin.Context) {
	var kinds []store.EventKind
	for _, raw := range c.QueryArray("type") {
		for _, part := range strings.Split(raw, ",") {
			kind, ok := store.ParseEventKind(strings.TrimSpace(part))
			if !ok {
				badRequest(c, "type must be file, window or command")
				return
			}
			kinds = append(kinds, kind)
		}
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.svc.GetSessionEvents(c.Request.Context(), c.Param("id"), kinds, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"events":  events,
		"count":   len(events),
	})
}

func (s *Server) handleSessionStats(c *gin.Context) {
	stats, err := s.svc.GetSessionStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

func (s *Server) handleSessionAnalyses(c *gin.Context) {
	results, err := s.svc.GetAnalyses(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"analyses": results,
		"count":    len(results),
	})
}

func (s *Server) handleListReports(c *gin.Context) {
	reports, err := s.svc.ListReports(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"reports": reports,
		"count":   len(reports),
	})
}

func (s *Server) handleGenerateReport(c *gin.Context) {
	// an empty body, chunked or not, selects the defaults
	var opts report.Options
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "invalid report options")
			return
		}
	}

	r, err := s.svc.GenerateReport(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		s.fail(c, err)
		return
	}

	switch strings.ToLower(opts.Format) {
	case report.FormatMarkdown, "md":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.ExportMarkdown(r)))
	case report.FormatHTML:
		out, err := report.ExportHTML(r)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"report":    r,
			"stored_id": r.StoredID,
		})
	}
}

func (s *Server) handleRecordCommand(c *gin.Context) {
	var rec session.CommandRecord
	if err := c.ShouldBindJSON(&rec); err != nil || strings.TrimSpace(rec.Command) == "" {
		badRequest(c, "command is required")
		return
	}

	ev, err := s.svc.RecordCommand(c.Request.Context(), c.Param("id"), rec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"event":   ev,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxLogSize+4096)

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(c, "text is required")
		return
	}
	if len(req.Text) > maxLogSize {
		badRequest(c, "text exceeds maximum size of 1MB")
		return
	}

	analysis, err := s.svc.AnalyzeLog(c.Request.Context(), req.Text, req.Context)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"analysis": analysis,
	})
}
