package app

import (
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/config"
	httpapi "github.com/hoferino/manda-platform-sub003/internal/http"
	httpH "github.com/hoferino/manda-platform-sub003/internal/http/handlers"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Document *httpH.DocumentHandler
	Finding  *httpH.FindingHandler
	Review   *httpH.ReviewHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Document: httpH.NewDocumentHandler(services.Documents),
		Finding:  httpH.NewFindingHandler(services.Knowledge),
		Review:   httpH.NewReviewHandler(services.Knowledge),
	}
}

func wireServer(log *logger.Logger, cfg config.Config, handlers Handlers) *httpapi.Server {
	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	return httpapi.NewServer(httpapi.RouterConfig{
		Log:             log.With("component", "http"),
		ServiceName:     serviceName,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         observability.Current(),
		DocumentHandler: handlers.Document,
		FindingHandler:  handlers.Finding,
		ReviewHandler:   handlers.Review,
		HealthHandler:   handlers.Health,
	})
}
