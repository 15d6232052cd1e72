package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/pupscan/pupscan-backend/internal/http/handlers"
	httpMW "github.com/pupscan/pupscan-backend/internal/http/middleware"
	"github.com/pupscan/pupscan-backend/internal/observability"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	ScanHandler   *httpH.ScanHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if observability.Enabled() {
		r.Use(otelgin.Middleware(observability.ServiceName))
	}
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api/v1")
	api.Use(httpMW.Identity())
	{
		if cfg.ScanHandler != nil {
			api.POST("/scans", cfg.ScanHandler.CreateScan)
			api.GET("/scans", cfg.ScanHandler.ListScans)
			api.GET("/scans/:id", cfg.ScanHandler.GetScan)
			api.DELETE("/scans/:id", cfg.ScanHandler.DeleteScan)

			api.GET("/scans/:id/simulation", cfg.ScanHandler.SimulationStatus)
			api.POST("/scans/:id/regenerate", cfg.ScanHandler.Regenerate)

			api.POST("/scans/:id/correction", cfg.ScanHandler.SubmitCorrection)
			api.POST("/corrections/:id/reteach", cfg.ScanHandler.Reteach)
			api.DELETE("/corrections/:id", cfg.ScanHandler.DeleteCorrection)
		}
	}

	return r
}
