package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hoferino/manda-platform-sub003/internal/pkg/ctxutil"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// Probes and scrapes are only logged at debug level unless they fail.
var quietPaths = map[string]bool{"/healthz": true, "/metrics": true}

func resourceKey(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/v1/documents/"):
		return "document_id"
	case strings.HasPrefix(route, "/api/v1/findings/"):
		return "finding_id"
	case strings.HasPrefix(route, "/api/v1/review-markers/"):
		return "marker_id"
	default:
		return "resource_id"
	}
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			if td.TraceID != "" {
				fields = append(fields, "trace_id", td.TraceID)
			}
			if td.RequestID != "" {
				fields = append(fields, "request_id", td.RequestID)
			}
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, resourceKey(path), id)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case quietPaths[path] && status < 400:
			log.Debug("HTTP request", fields...)
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
