package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the rate limiter cleanup goroutines.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli(5, 1024))

	router.GET("/health", handlers.System.Health)

	ipLimiter := middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second, middleware.ByClientIP)
	candidateLimiter := middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second, middleware.ByCandidate)

	// ─── 1. Candidate API (JWT + per-candidate limit) ──────────────────
	api := router.Group("/api/v1")
	api.Use(
		ipLimiter.Middleware(),
		middleware.RequireCandidateJWT(authService),
		candidateLimiter.Middleware(),
		middleware.NoStore(),
	)
	{
		api.POST("/tests/:test_id/attempts", handlers.Attempt.StartAttempt)
		api.GET("/attempts/:attempt_id", handlers.Attempt.GetAttempt)
		api.PUT("/attempts/:attempt_id/autosave", handlers.Attempt.Autosave)
		api.PUT("/attempts/:attempt_id/exit-count", handlers.Attempt.UpdateExitCount)
		api.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
		api.GET("/attempts/:attempt_id/result", handlers.Attempt.GetResult)
	}

	// ─── 2. WebSocket Group (token query param) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(ipLimiter.Middleware(), middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
