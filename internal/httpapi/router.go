package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/common"
	"github.com/suPer8Hu/nl2sql-platform/internal/config"
	"github.com/suPer8Hu/nl2sql-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/nl2sql-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
)

type Deps struct {
	Cfg     config.Config
	Handler *handlers.Handler
	// Limiter defaults to an in-memory fixed window from Cfg.
	Limiter middleware.Limiter
	Logger  *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewMemoryLimiter(d.Cfg.RateLimitRequests, d.Cfg.RateLimitWindow)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.CORS(d.Cfg.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, apperr.InvalidRequest, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, apperr.InvalidRequest, "method not allowed")
	})

	h := d.Handler

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// data API (JWT required)
	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(d.Cfg.JWTSecret))
	api.Use(middleware.RateLimit(limiter, logger))

	data := api.Group("/data")
	data.POST("/nl2sql", h.NL2SQL)
	data.POST("/nl2sql-query", h.NL2SQLQuery)
	data.POST("/explain-stream", h.ExplainStream)
	data.POST("/query", h.DirectQuery)
	data.GET("/history", h.ListHistory)
	data.GET("/history/:id", h.GetHistory)
	data.DELETE("/cache", h.ClearCache)
	return r
}
