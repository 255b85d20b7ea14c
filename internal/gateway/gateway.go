// Package gateway implements the request gateway (component I): the
// non-blocking candidates/status/trigger contract over F (cache) and G
// (queue), plus the synchronous fallback path when no worker heartbeat
// is present. Route registration and the permissive CORS middleware are
// grounded on the teacher's own gin.Default()/r.Group("/api") setup and
// its inline Access-Control-Allow-* middleware.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flipper1994/discovery-engine/internal/cache"
	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
	"github.com/flipper1994/discovery-engine/internal/pipeline"
	"github.com/flipper1994/discovery-engine/internal/queue"
)

const (
	heartbeatStaleAfter = 120 * time.Second
	syncFallbackCap     = 60 * time.Second
)

// Store is the subset of cache.Store the gateway depends on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetJSON(ctx context.Context, key string, v interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// auditSink records operational events; implemented by internal/audit.
// Failures here are never surfaced to the client (errs.KindAuditUnavailable
// is non-fatal observability, per SPEC_FULL.md §7).
type auditSink interface {
	Record(ctx context.Context, kind, strategy, jobID, detail, outcome string)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, string, string, string, string, string) {}

// Gateway implements the HTTP surface from spec.md §6.
type Gateway struct {
	store         Store
	queue         *queue.Queue
	coord         *pipeline.Coordinator
	audit         auditSink
	engineVersion string
	schemaVersion string
	cacheTTL      time.Duration
	lastTTL       time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAudit wires an audit sink; default is a no-op.
func WithAudit(a auditSink) Option {
	return func(g *Gateway) { g.audit = a }
}

// New builds a Gateway.
func New(store Store, q *queue.Queue, coord *pipeline.Coordinator, engineVersion, schemaVersion string, cacheTTL, lastTTL time.Duration, opts ...Option) *Gateway {
	g := &Gateway{
		store:         store,
		queue:         q,
		coord:         coord,
		audit:         noopAudit{},
		engineVersion: engineVersion,
		schemaVersion: schemaVersion,
		cacheTTL:      cacheTTL,
		lastTTL:       lastTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register wires every route from spec.md §6 onto r, under the group
// gin.Default() + r.Group("/discovery") pattern the teacher uses for its
// own API group.
func (g *Gateway) Register(r *gin.Engine) {
	r.Use(corsMiddleware())

	grp := r.Group("/discovery")
	{
		grp.GET("/candidates", g.getCandidates(false))
		grp.GET("/candidates/trade-ready", g.getCandidates(true))
		grp.GET("/candidates/last", g.getLast)
		grp.GET("/status", g.getStatus)
		grp.POST("/trigger", g.trigger)
		grp.GET("/health", g.health)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// envelope stamps every response with engine_version/schema_version/
// timestamp/request_id per spec.md §6.
func (g *Gateway) envelope(requestID string) gin.H {
	return gin.H{
		"engine_version": g.engineVersion,
		"schema_version": g.schemaVersion,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"request_id":     requestID,
	}
}

func merge(base gin.H, extra gin.H) gin.H {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// getCandidates implements GET /discovery/candidates and, when
// tradeReadyOnly is true, /discovery/candidates/trade-ready.
func (g *Gateway) getCandidates(tradeReadyOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		requestID := uuid.NewString()
		strategy := c.DefaultQuery("strategy", "default")
		limit := queryInt(c, "limit", 50, 500)
		forceRefresh := c.Query("force_refresh") == "true"

		if !forceRefresh {
			var result models.DiscoveryResult
			ok, err := g.store.GetJSON(ctx, cache.ContendersKey(strategy), &result)
			if err == nil && ok {
				candidates := filterCandidates(result.Candidates, tradeReadyOnly, limit)
				c.JSON(http.StatusOK, merge(g.envelope(requestID), gin.H{
					"state":      "ready",
					"cache_hit":  true,
					"count":      len(candidates),
					"candidates": candidates,
				}))
				return
			}
		}

		heartbeatAge, alive := g.heartbeatAge(ctx)
		if alive && heartbeatAge <= heartbeatStaleAfter {
			job, err := g.enqueueIfAbsent(ctx, strategy, limit)
			if err != nil {
				g.errorResponse(c, requestID, err)
				return
			}
			c.JSON(http.StatusAccepted, merge(g.envelope(requestID), gin.H{
				"state":    "queued",
				"job_id":   job.JobID,
				"poll_url": "/discovery/status?job_id=" + job.JobID,
			}))
			return
		}

		g.audit.Record(ctx, "trigger", strategy, "", "synchronous fallback: heartbeat absent or stale", "started")
		result, err := g.runSynchronously(ctx, strategy, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, merge(g.envelope(requestID), gin.H{
				"state":   "failed",
				"error":   err.Error(),
				"fallback_mode": true,
			}))
			return
		}
		candidates := filterCandidates(result.Candidates, tradeReadyOnly, limit)
		c.JSON(http.StatusOK, merge(g.envelope(requestID), gin.H{
			"state":         "ready",
			"cache_hit":     false,
			"fallback_mode": true,
			"count":         len(candidates),
			"candidates":    candidates,
		}))
	}
}

func (g *Gateway) runSynchronously(ctx context.Context, strategy string, limit int) (*models.DiscoveryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, syncFallbackCap)
	defer cancel()
	result, err := g.coord.Run(ctx, strategy, limit, nil)
	if err != nil {
		return nil, err
	}
	_ = g.store.SetJSON(context.Background(), cache.ContendersKey(strategy), result, g.cacheTTL)
	_ = g.store.SetJSON(context.Background(), cache.ContendersLastKey(strategy), result, g.lastTTL)
	return result, nil
}

func (g *Gateway) enqueueIfAbsent(ctx context.Context, strategy string, limit int) (*models.JobRecord, error) {
	return g.queue.EnqueueIfAbsent(ctx, strategy, limit)
}

// getLast implements GET /discovery/candidates/last: never errors, may
// return a stale payload.
func (g *Gateway) getLast(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := uuid.NewString()
	strategy := c.DefaultQuery("strategy", "default")
	limit := queryInt(c, "limit", 50, 500)

	var result models.DiscoveryResult
	ok, err := g.store.GetJSON(ctx, cache.ContendersLastKey(strategy), &result)
	if err != nil || !ok {
		c.JSON(http.StatusOK, merge(g.envelope(requestID), gin.H{
			"state":      "empty",
			"stale":      true,
			"count":      0,
			"candidates": []models.Candidate{},
		}))
		return
	}

	fresh, _ := g.store.GetJSON(ctx, cache.ContendersKey(strategy), &models.DiscoveryResult{})
	candidates := filterCandidates(result.Candidates, false, limit)
	c.JSON(http.StatusOK, merge(g.envelope(requestID), gin.H{
		"state":      "ready",
		"stale":      !fresh,
		"count":      len(candidates),
		"candidates": candidates,
	}))
}

// getStatus implements GET /discovery/status.
func (g *Gateway) getStatus(c *gin.Context) {
	requestID := uuid.NewString()
	jobID := c.Query("job_id")
	job, ok, err := g.queue.Fetch(c.Request.Context(), jobID)
	if err != nil {
		g.errorResponse(c, requestID, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, merge(g.envelope(requestID), gin.H{
			"error_kind": "NotFound",
			"message":    "unknown job_id",
		}))
		return
	}
	c.JSON(http.StatusOK, merge(g.envelope(requestID), gin.H{"job": job}))
}

// trigger implements POST /discovery/trigger: always enqueues a new job.
func (g *Gateway) trigger(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := uuid.NewString()
	strategy := c.DefaultQuery("strategy", "default")
	limit := queryInt(c, "limit", 50, 500)

	job, err := g.queue.Enqueue(ctx, strategy, limit)
	if err != nil {
		g.errorResponse(c, requestID, err)
		return
	}
	g.audit.Record(ctx, "trigger", strategy, job.JobID, "explicit trigger", "queued")
	c.JSON(http.StatusAccepted, merge(g.envelope(requestID), gin.H{
		"job_id":   job.JobID,
		"poll_url": "/discovery/status?job_id=" + job.JobID,
	}))
}

// health implements GET /discovery/health.
func (g *Gateway) health(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := uuid.NewString()

	heartbeatAge, present := g.heartbeatAge(ctx)
	alive := present && heartbeatAge <= heartbeatStaleAfter
	queueKeys, _ := g.store.Keys(ctx, "discovery:status:*")

	status := http.StatusOK
	if !alive {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, merge(g.envelope(requestID), gin.H{
		"worker_alive":       alive,
		"heartbeat_age_secs": int(heartbeatAge.Seconds()),
		"queue_depth":        len(queueKeys),
	}))
}

// heartbeatAge returns the age of the worker:heartbeat key and whether
// it is present at all.
func (g *Gateway) heartbeatAge(ctx context.Context) (time.Duration, bool) {
	raw, ok, err := g.store.Get(ctx, cache.HeartbeatKey())
	if err != nil || !ok {
		return 0, false
	}
	writtenAt, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return 0, false
	}
	return time.Since(writtenAt), true
}

func (g *Gateway) errorResponse(c *gin.Context, requestID string, err error) {
	kind, ok := errs.KindOf(err)
	kindStr := "Unknown"
	if ok {
		kindStr = string(kind)
	}
	status := http.StatusInternalServerError
	if kind == errs.KindLockContended {
		status = http.StatusConflict
	}
	c.JSON(status, merge(g.envelope(requestID), gin.H{
		"error_kind": kindStr,
		"message":    err.Error(),
	}))
}

func filterCandidates(candidates []models.Candidate, tradeReadyOnly bool, limit int) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, cnd := range candidates {
		if tradeReadyOnly && cnd.Classification != models.TradeReady {
			continue
		}
		out = append(out, cnd)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func queryInt(c *gin.Context, name string, fallback, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
