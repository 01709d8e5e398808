package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mmdatafocus/costcontrol_backend/config"
	"github.com/mmdatafocus/costcontrol_backend/models"
	"github.com/mmdatafocus/costcontrol_backend/utils"
	"github.com/mmdatafocus/costcontrol_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("costcontrol-backend")

var validate = validator.New()

// Project ids are the uuid primary keys of the surrounding app's projects
// table; anything else is rejected before the engine is reached.
func validProjectId(projectId string) bool {
	return validate.Var(projectId, "required,uuid4") == nil
}

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// Membership/authz is the surrounding application's job: by the time a request
// reaches this service, the caller has already been verified against the
// project. Handlers here only translate engine outcomes to HTTP.

type syncRequest struct {
	RecalculateParents *bool `json:"recalculate_parents"`
}

func syncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		projectId := strings.TrimSpace(c.Param("projectId"))
		if !validProjectId(projectId) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "project id must be a uuid"})
			return
		}

		// Body is optional; an empty body means a full default sync.
		var req syncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request"})
				return
			}
		}
		recalculateParents := utils.DereferencePtr(req.RecalculateParents, true)

		c.Request = c.Request.WithContext(utils.SetProjectIdInContext(c.Request.Context(), projectId))
		ctx, span := tracer.Start(c.Request.Context(), "costcontrol.sync")
		defer span.End()

		result, err := workflow.ImportFromEstimate(ctx, config.GetDB(), logger, projectId, recalculateParents)
		if err != nil {
			respondEngineError(c, logger, "syncHandler", projectId, err)
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{
			"success":            true,
			"project_id":         result.ProjectId,
			"created_count":      result.CreatedCount,
			"updated_count":      result.UpdatedCount,
			"orphaned_count":     result.OrphanedCount,
			"duplicates_removed": result.DuplicatesRemoved,
			"warning":            result.Warning,
			"correlation_id":     cid,
		})
	}
}

func recalculateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		projectId := strings.TrimSpace(c.Param("projectId"))
		if !validProjectId(projectId) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "project id must be a uuid"})
			return
		}

		c.Request = c.Request.WithContext(utils.SetProjectIdInContext(c.Request.Context(), projectId))
		ctx, span := tracer.Start(c.Request.Context(), "costcontrol.recalculate")
		defer span.End()

		result, err := workflow.RecalculateProject(ctx, config.GetDB(), logger, projectId)
		if err != nil {
			respondEngineError(c, logger, "recalculateHandler", projectId, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"project_id":    result.ProjectId,
			"drift_count":   result.DriftCount,
			"nodes_changed": result.NodesChanged,
		})
	}
}

func recomputeNodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		projectId := strings.TrimSpace(c.Param("projectId"))
		nodeId, err := strconv.Atoi(c.Param("nodeId"))
		if !validProjectId(projectId) || err != nil || nodeId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "valid project id and node id are required"})
			return
		}

		c.Request = c.Request.WithContext(utils.SetProjectIdInContext(c.Request.Context(), projectId))
		ctx, span := tracer.Start(c.Request.Context(), "costcontrol.recompute_node")
		defer span.End()

		if err := workflow.RecomputeForLeafEdit(ctx, config.GetDB(), logger, projectId, nodeId); err != nil {
			respondEngineError(c, logger, "recomputeNodeHandler", projectId, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "project_id": projectId, "node_id": nodeId})
	}
}

func lastSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId := strings.TrimSpace(c.Param("projectId"))
		if !validProjectId(projectId) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "project id must be a uuid"})
			return
		}
		result, found, err := workflow.LastSyncResult(projectId)
		if err != nil || !found {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no cached sync result"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
	}
}

// respondEngineError maps the engine's error taxonomy onto HTTP statuses.
// Business-level warnings never reach here; a run that commits reports them
// on a 200 with success=true.
func respondEngineError(c *gin.Context, logger *logrus.Logger, funcName string, projectId string, err error) {
	config.LogError(logger, "server.go", funcName, "engine", projectId, err)
	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, models.ErrConcurrentSync):
		// Caller may retry with backoff.
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, models.ErrCancelled):
		// 499 client-closed-request, nginx convention.
		c.JSON(499, gin.H{"success": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness. Redis is optional;
		// only the database is required for correctness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS")})
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/projects/:projectId/cost-control/sync", syncHandler())
	r.GET("/projects/:projectId/cost-control/sync/last", lastSyncHandler())
	r.POST("/projects/:projectId/cost-control/recalculate", recalculateHandler())
	r.POST("/projects/:projectId/cost-control/nodes/:nodeId/recompute", recomputeNodeHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("cost-control sync service listening on port ", port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			fields := logrus.Fields{}
			if pid, ok := utils.GetProjectIdFromContext(c.Request.Context()); ok {
				fields["project_id"] = pid
			}
			if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
				fields["correlation_id"] = cid
			}
			logger.WithFields(fields).Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
