package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"parkpeek-guard/config"
	"parkpeek-guard/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg *config.ServerConfig, limiter *mw.IPRateLimiter, metricsHandler http.Handler) *gin.Engine {
	r := gin.Default()

	if limiter == nil {
		limiter = mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	}
	if h.cache == nil {
		h.cache = cache.New(5*time.Minute, 10*time.Minute)
	}
	caching := mw.Cache(h.cache, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	requireGuard := mw.RequireGuard(h.auth)

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := r.Group("/api")
	api.Use(limiter.Middleware())
	{
		api.POST("/auth/login", h.Login)

		// Public dashboard and push subscriptions.
		api.GET("/locations", h.GetLocations)
		api.GET("/locations/:name", h.GetLocation)
		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		guarded := api.Group("")
		guarded.Use(requireGuard)
		{
			guarded.POST("/auth/logout", h.Logout)
			guarded.GET("/me", h.Me)

			guarded.POST("/locations/refresh", h.Refresh)
			guarded.POST("/locations/:name/recount", h.Recount)

			guarded.POST("/scan/:location/:direction", h.Scan)
			guarded.POST("/scan/:location/:direction/foreground", h.Foreground)

			guarded.POST("/reports", h.CreateReport)
			guarded.GET("/reports", caching, h.ListReports)
		}
	}

	return r
}
