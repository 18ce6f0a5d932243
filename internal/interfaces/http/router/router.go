package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crm/backend/internal/infrastructure/logger"
	"github.com/crm/backend/internal/interfaces/http/handler"
)

// Config holds the handlers and settings the router wires together
type Config struct {
	Env    string
	Logger *zap.Logger
	Quotes *handler.QuoteHandler
	System *handler.SystemHandler
}

// Setup builds the gin engine with middleware and all API routes
func Setup(cfg Config) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))

	v1 := engine.Group("/api/v1")
	{
		system := v1.Group("/system")
		{
			system.GET("/ping", cfg.System.Ping)
			system.GET("/health", cfg.System.Health)
			system.POST("/cache/purge", cfg.System.PurgeCache)
		}

		quotes := v1.Group("/quotes")
		{
			quotes.GET("", cfg.Quotes.List)
			quotes.GET("/ids", cfg.Quotes.ListIDs)
			quotes.GET("/:reference", cfg.Quotes.Get)
			quotes.POST("/:reference/refresh", cfg.Quotes.Refresh)
		}
	}

	return engine
}
