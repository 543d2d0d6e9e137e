package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acescout/acescout/internal/activity"
	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/scheduler"
	"github.com/acescout/acescout/internal/status"
)

// Router provides embeddable HTTP handlers for the background core.
// Endpoints:
//   GET  {basePath}/tasks/status        task record snapshots
//   POST {basePath}/tasks/:name/run     manual trigger (409 when in flight)
//   GET  {basePath}/streams/active      live stream count
//   GET  {basePath}/channels/status-summary   latest bulk-check aggregate
//   GET  {basePath}/activity            recent activity (days, kind, limit)
//   GET  {basePath}/engine/status       engine availability probe
//   GET  /healthz, GET /metrics
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	basePath string
	sched    *scheduler.Scheduler
	checker  *status.Checker
	engine   *status.Client
	streams  *status.StreamsClient
	rec      *activity.Recorder
}

func NewRouter(basePath string, sched *scheduler.Scheduler, checker *status.Checker, engine *status.Client, streams *status.StreamsClient, rec *activity.Recorder) *Router {
	return &Router{
		basePath: sanitizeBase(basePath),
		sched:    sched,
		checker:  checker,
		engine:   engine,
		streams:  streams,
		rec:      rec,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/tasks/status", r.handleTaskStatus)
	group.POST("/tasks/:name/run", r.handleTaskRun)
	group.GET("/streams/active", r.handleActiveStreams)
	group.GET("/channels/status-summary", r.handleStatusSummary)
	group.GET("/activity", r.handleActivity)
	group.GET("/engine/status", r.handleEngineStatus)
	g.GET("/healthz", r.handleHealthz)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleTaskStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sched.Statuses())
}

func (r *Router) handleTaskRun(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid task name: allowed [A-Za-z0-9._-]"})
		return
	}
	err := r.sched.Trigger(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownTask):
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown task: " + name})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeJSON(c, http.StatusConflict, errorResp{Error: "already-running"})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
	}
}

func (r *Router) handleActiveStreams(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	writeJSON(c, http.StatusOK, r.streams.Fetch(ctx))
}

func (r *Router) handleStatusSummary(c *gin.Context) {
	sum, ok := r.checker.LastSummary()
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no status check has completed yet"})
		return
	}
	writeJSON(c, http.StatusOK, sum)
}

func (r *Router) handleActivity(c *gin.Context) {
	days := intQuery(c, "days", 7)
	limit := intQuery(c, "limit", 100)
	kind := c.Query("kind")
	if days < 0 || limit <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "days must be >= 0 and limit > 0"})
		return
	}
	entries, err := r.rec.Recent(c.Request.Context(), days, kind, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleEngineStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	writeJSON(c, http.StatusOK, r.engine.Status(ctx))
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
