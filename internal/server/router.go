package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voiceforge/sovits-service/internal/config"
)

const corsMaxAge = 12 * time.Hour

// NewRouter builds the gin engine with CORS, the platform routes, and the
// Prometheus scrape endpoint.
func NewRouter(cfg config.HTTPConfig, module *Module) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg)))

	module.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func corsConfig(cfg config.HTTPConfig) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.MaxAge = corsMaxAge

	if len(cfg.AllowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowOrigins
	}

	return corsCfg
}
