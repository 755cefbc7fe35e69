// Package api exposes engine runs and their recommendation feed over HTTP.
package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"talent-graph/backend/internal/engine"
	"talent-graph/backend/internal/recommend"
	"talent-graph/backend/internal/state"
	apperrors "talent-graph/backend/pkg/errors"
	"talent-graph/backend/pkg/logger"
)

// Run statuses
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Runner executes one engine run
type Runner interface {
	RunWithID(ctx context.Context, runID string, seed state.Record) (*engine.Result, error)
}

// Run is the API view of one engine run
type Run struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Seed       state.Record   `json:"seed"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Result     *engine.Result `json:"-"`

	err error
}

// Handler serves the run endpoints. Background runs use baseCtx, so they
// outlive the request that started them.
type Handler struct {
	runner  Runner
	baseCtx context.Context
	logger  *zap.Logger

	mu   sync.RWMutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

// NewHandler creates a handler
func NewHandler(baseCtx context.Context, runner Runner) *Handler {
	return &Handler{
		runner:  runner,
		baseCtx: baseCtx,
		logger:  logger.Named("api"),
		runs:    make(map[string]*Run),
	}
}

// Wait blocks until every background run has finished
func (h *Handler) Wait() {
	h.wg.Wait()
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(h *Handler, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(GinLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.Register(router.Group("/api"))
	return router
}

// Register mounts the run routes on group
func (h *Handler) Register(group *gin.RouterGroup) {
	group.POST("/runs", h.startRun)
	group.GET("/runs", h.listRuns)
	group.GET("/runs/:id", h.getRun)
	group.GET("/runs/:id/recommendations", h.getRecommendations)
	group.GET("/runs/:id/communities", h.getCommunities)
	group.GET("/runs/:id/report", h.getReport)
}

type startRunRequest struct {
	Seed state.Record `json:"seed"`
	// Wait runs synchronously and returns the finished run
	Wait bool `json:"wait"`
}

func (h *Handler) startRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Seed.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run := &Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		Seed:      req.Seed,
		StartedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.runs[run.ID] = run
	h.mu.Unlock()

	if req.Wait {
		h.execute(c.Request.Context(), run)
		c.JSON(http.StatusOK, h.view(run.ID))
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.execute(h.baseCtx, run)
	}()
	c.JSON(http.StatusAccepted, h.view(run.ID))
}

func (h *Handler) execute(ctx context.Context, run *Run) {
	res, err := h.runner.RunWithID(ctx, run.ID, run.Seed)

	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Result = res
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		run.err = err
		h.logger.Error("Run failed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	run.Status = StatusDone
}

// runView is a run plus its headline numbers
type runView struct {
	Run
	SeedID          string              `json:"seed_id,omitempty"`
	Rounds          []state.RoundReport `json:"rounds,omitempty"`
	Recommendations int                 `json:"recommendations"`
	Communities     int                 `json:"communities"`
	RetryIDs        []string            `json:"retry_ids,omitempty"`
}

func (h *Handler) view(id string) runView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run := h.runs[id]
	v := runView{Run: *run}
	if run.Result != nil {
		v.SeedID = run.Result.SeedID
		v.Rounds = run.Result.Rounds
		v.Recommendations = len(run.Result.Recommendations)
		v.Communities = len(run.Result.Communities)
		v.RetryIDs = run.Result.RetryIDs
	}
	return v
}

func (h *Handler) listRuns(c *gin.Context) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.runs))
	for id := range h.runs {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)

	out := make([]runView, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.view(id))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (h *Handler) getRun(c *gin.Context) {
	if _, ok := h.lookup(c); !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(c.Param("id")))
}

func (h *Handler) getRecommendations(c *gin.Context) {
	res, ok := h.finished(c)
	if !ok {
		return
	}

	var kinds []state.RecommendationKind
	if raw := c.Query("kind"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			kind, err := state.ParseRecommendationKind(strings.TrimSpace(part))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			kinds = append(kinds, kind)
		}
	}

	recs := recommend.Filter(res.Recommendations, kinds...)
	if recs == nil {
		recs = []state.Recommendation{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": res.RunID, "recommendations": recs})
}

func (h *Handler) getCommunities(c *gin.Context) {
	res, ok := h.finished(c)
	if !ok {
		return
	}
	communities := res.Communities
	if communities == nil {
		communities = []state.Community{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": res.RunID, "communities": communities})
}

func (h *Handler) getReport(c *gin.Context) {
	res, ok := h.finished(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": res.RunID, "report": res.Report, "near_misses": res.NearMisses})
}

func (h *Handler) lookup(c *gin.Context) (*Run, bool) {
	h.mu.RLock()
	run, ok := h.runs[c.Param("id")]
	h.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return nil, false
	}
	return run, true
}

// finished returns the result of a completed run, or writes the error
// response when there is none.
func (h *Handler) finished(c *gin.Context) (*engine.Result, bool) {
	run, ok := h.lookup(c)
	if !ok {
		return nil, false
	}
	h.mu.RLock()
	status, res, runErr := run.Status, run.Result, run.err
	h.mu.RUnlock()

	switch {
	case status == StatusRunning:
		c.JSON(http.StatusConflict, gin.H{"error": "Run still in progress"})
		return nil, false
	case res == nil && runErr == nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Run produced no result"})
		return nil, false
	case res == nil:
		c.JSON(statusFor(runErr), gin.H{"error": runErr.Error()})
		return nil, false
	}
	return res, true
}

func statusFor(err error) int {
	if apperrors.IsErrorType(err, apperrors.ErrorTypeConfig) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// GinLogger is a request logging middleware for gin
func GinLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
