package controlapi

import (
	"net/url"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/slidemanager/backend-daemon/internal/config"
	"github.com/slidemanager/backend-daemon/internal/eventbus"
	"github.com/slidemanager/backend-daemon/internal/jobmanager"
	"github.com/slidemanager/backend-daemon/internal/logger"
	"github.com/slidemanager/backend-daemon/internal/observability"
	"github.com/slidemanager/backend-daemon/internal/store"
)

// isLocalOrigin reports whether origin is a browser Origin header pointing
// at this machine's loopback interface, regardless of scheme or port.
func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

// metricsMiddleware records request latency, status, and in-flight count
// for every route it wraps. SSE streams stay open for the connection's
// full lifetime, so they inflate ObserveAPI's duration bucket, not skew
// it silently — that's the tradeoff of measuring at the handler boundary.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		observability.Current().ApiInflightInc()
		defer observability.Current().ApiInflightDec()
		c.Next()
		observability.Current().ObserveAPI(c.Request.Method, c.FullPath(), strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// NewRouter builds the daemon's HTTP surface: job submission, lifecycle
// control, status polling, and the SSE progress stream. CORS is permissive
// for localhost origins only, matching a tool that never leaves the
// desktop it indexes files on.
func NewRouter(cfg config.Config, mgr *jobmanager.Manager, st *store.Store, bus *eventbus.Bus, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("slidemanager-controlapi"))
	router.Use(metricsMiddleware())

	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  isLocalOrigin,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: false,
	}))

	router.GET("/healthcheck", func(c *gin.Context) { c.String(200, "ok") })

	jobsHandler := NewJobsHandler(mgr, st, log)
	eventsHandler := NewEventsHandler(bus, st, log)

	jobs := router.Group("/jobs")
	jobs.Use(RequireControlToken(cfg.ControlToken))
	{
		jobs.POST("/index", jobsHandler.Index)
		jobs.POST("/:id/pause", jobsHandler.Pause)
		jobs.POST("/:id/resume", jobsHandler.Resume)
		jobs.POST("/:id/cancel", jobsHandler.Cancel)
		jobs.GET("/:id", jobsHandler.Get)
		jobs.GET("/:id/events", eventsHandler.Stream)
	}

	return router
}
