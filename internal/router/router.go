package router

import (
	"time"

	"github.com/eduvox/viva-gateway/internal/config"
	"github.com/eduvox/viva-gateway/internal/handler"
	"github.com/eduvox/viva-gateway/internal/middleware"
	"github.com/eduvox/viva-gateway/internal/response"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Viva *handler.VivaHandler
	WS   *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check (gateway + backend passthrough).
	router.GET("/health", handlers.Viva.Health)

	// Rate limiter for session creation (10 starts per minute per IP).
	startLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ─── Viva Session API ──────────────────────────────────────────────
	vivaAPI := router.Group("/api/v1/viva")
	{
		vivaAPI.POST("/sessions", startLimiter.Middleware(), handlers.Viva.CreateSession)
		vivaAPI.GET("/sessions/:id", handlers.Viva.GetSession)
		vivaAPI.POST("/sessions/:id/answer", handlers.Viva.SubmitAnswer)
		vivaAPI.GET("/sessions/:id/progress", handlers.Viva.GetProgress)
		vivaAPI.DELETE("/sessions/:id", handlers.Viva.DeleteSession)
		vivaAPI.POST("/sessions/:id/beacon", handlers.Viva.Beacon)
	}

	// ─── Relay WebSocket ───────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/viva/sessions/:id/stream", handlers.WS.SessionStream)
	}

	return router
}
