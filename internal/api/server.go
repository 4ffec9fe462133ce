// Package api is a thin HTTP transposition of internal/engine.Engine: it
// adds no behavior of its own, exposing the exact same command surface
// over REST for a desktop shell or test harness that would rather not
// link the engine in as a Go library.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hydra-run/hydra/internal/common/httpmw"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/engine"
	"github.com/hydra-run/hydra/internal/orchestrator"
	"github.com/hydra-run/hydra/internal/session"
)

// Server is the HTTP API surface over one Engine.
type Server struct {
	engine engine.Engine
	log    *logger.Logger
	router *gin.Engine
}

// NewServer wires every command-surface route to eng.
func NewServer(eng engine.Engine, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{engine: eng, log: log, router: gin.New()}
	s.router.Use(gin.Recovery(), httpmw.CorrelationID(), httpmw.OtelTracing("hydra-api"), httpmw.RequestLogger(log, "hydra-api"))
	s.setupRoutes()
	return s
}

// Router returns the HTTP handler to mount or serve.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	{
		v1.GET("/doctor", s.handleDoctor)
		v1.GET("/adapters", s.handleListAdapters)

		v1.POST("/races", s.handleStartRace)
		v1.GET("/races/:run_id", s.handleGetRaceResult)
		v1.GET("/races/:run_id/events", s.handlePollRaceEvents)
		v1.GET("/races/:run_id/candidates/:agent_key/diff", s.handleGetCandidateDiff)
		v1.POST("/races/:run_id/candidates/:agent_key/merge/preview", s.handlePreviewMerge)
		v1.POST("/races/:run_id/candidates/:agent_key/merge/execute", s.handleExecuteMerge)

		v1.GET("/working-tree", s.handleWorkingTreeStatus)

		v1.POST("/sessions", s.handleStartInteractiveSession)
		v1.GET("/sessions", s.handleListInteractiveSessions)
		v1.GET("/sessions/:session_id/events", s.handlePollInteractiveEvents)
		v1.POST("/sessions/:session_id/input", s.handleWriteInteractiveInput)
		v1.POST("/sessions/:session_id/resize", s.handleResizeInteractiveSession)
		v1.POST("/sessions/:session_id/stop", s.handleStopInteractiveSession)
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleDoctor(c *gin.Context) {
	repoRoot := c.Query("repo_root")
	report := s.engine.RunPreflight(c.Request.Context(), repoRoot)
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListAdapters(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ListAdapters(c.Request.Context()))
}

func (s *Server) handleStartRace(c *gin.Context) {
	var req orchestrator.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpmw.ErrorEnvelope{Code: "invalid_request", Message: err.Error()})
		return
	}
	run, err := s.engine.StartRace(c.Request.Context(), req)
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleGetRaceResult(c *gin.Context) {
	result, err := s.engine.GetRaceResult(c.Param("run_id"))
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handlePollRaceEvents(c *gin.Context) {
	cursor, _ := strconv.ParseInt(c.Query("cursor"), 10, 64)
	events, next, err := s.engine.PollRaceEvents(c.Request.Context(), c.Param("run_id"), cursor)
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "cursor": next})
}

func (s *Server) handleGetCandidateDiff(c *gin.Context) {
	diff, err := s.engine.GetCandidateDiff(c.Param("run_id"), c.Param("agent_key"), c.Query("cwd"))
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/x-diff; charset=utf-8", diff)
}

type mergeActionRequest struct {
	Unsafe bool `json:"unsafe"`
}

func (s *Server) handlePreviewMerge(c *gin.Context) {
	var req mergeActionRequest
	_ = c.ShouldBindJSON(&req)
	result, err := s.engine.PreviewMerge(c.Request.Context(), c.Param("run_id"), c.Param("agent_key"), req.Unsafe)
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleExecuteMerge(c *gin.Context) {
	var req mergeActionRequest
	_ = c.ShouldBindJSON(&req)
	result, err := s.engine.ExecuteMerge(c.Request.Context(), c.Param("run_id"), c.Param("agent_key"), req.Unsafe)
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleWorkingTreeStatus(c *gin.Context) {
	status, err := s.engine.GetWorkingTreeStatus(c.Request.Context(), c.Query("cwd"))
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleStartInteractiveSession(c *gin.Context) {
	var req session.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpmw.ErrorEnvelope{Code: "invalid_request", Message: err.Error()})
		return
	}
	sess, err := s.engine.StartInteractiveSession(c.Request.Context(), req)
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListInteractiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ListInteractiveSessions())
}

func (s *Server) handlePollInteractiveEvents(c *gin.Context) {
	cursor, _ := strconv.ParseInt(c.Query("cursor"), 10, 64)
	events, next, err := s.engine.PollInteractiveEvents(c.Param("session_id"), cursor)
	if err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "cursor": next})
}

type writeInputRequest struct {
	Data string `json:"data"` // raw bytes to write, as UTF-8 text
}

func (s *Server) handleWriteInteractiveInput(c *gin.Context) {
	var req writeInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpmw.ErrorEnvelope{Code: "invalid_request", Message: err.Error()})
		return
	}
	if err := s.engine.WriteInteractiveInput(c.Param("session_id"), []byte(req.Data)); err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleResizeInteractiveSession(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpmw.ErrorEnvelope{Code: "invalid_request", Message: err.Error()})
		return
	}
	if err := s.engine.ResizeInteractiveSession(c.Param("session_id"), req.Cols, req.Rows); err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStopInteractiveSession(c *gin.Context) {
	if err := s.engine.StopInteractiveSession(c.Param("session_id")); err != nil {
		httpmw.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
