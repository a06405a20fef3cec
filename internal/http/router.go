package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/hoferino/manda-platform-sub003/internal/http/handlers"
	httpMW "github.com/hoferino/manda-platform-sub003/internal/http/middleware"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	DocumentHandler *httpH.DocumentHandler
	FindingHandler  *httpH.FindingHandler
	ReviewHandler   *httpH.ReviewHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(httpMW.CORS(cfg.CORSOrigins))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api/v1")
	{
		// Documents
		if cfg.DocumentHandler != nil {
			api.POST("/documents", cfg.DocumentHandler.Submit)
			api.GET("/documents/:id/status", cfg.DocumentHandler.Status)
			api.POST("/documents/:id/retry", cfg.DocumentHandler.Retry)
			api.POST("/documents/:id/cancel", cfg.DocumentHandler.Cancel)
		}

		// Findings
		if cfg.FindingHandler != nil {
			api.GET("/findings", cfg.FindingHandler.Query)
			api.GET("/findings/:id", cfg.FindingHandler.Get)
			api.GET("/findings/:id/relationships", cfg.FindingHandler.Relationships)
			api.GET("/findings/:id/corrections", cfg.FindingHandler.Corrections)
			api.POST("/findings/:id/validation", cfg.FindingHandler.Validate)
			api.POST("/findings/:id/correction", cfg.FindingHandler.Correct)
			api.POST("/findings/:id/dependencies", cfg.FindingHandler.RegisterDependency)
		}

		// Review queue
		if cfg.ReviewHandler != nil {
			api.GET("/review-markers", cfg.ReviewHandler.ListMarkers)
			api.POST("/review-markers/:id/resolve", cfg.ReviewHandler.ResolveMarker)
			api.GET("/source-flags", cfg.ReviewHandler.ListSourceFlags)
		}
	}

	return r
}
