package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"weather-bot-backend/config"
	"weather-bot-backend/internal/mw"
	"weather-bot-backend/internal/store"
	"weather-bot-backend/internal/weather"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store, wc *weather.Cache, webpushOptions *webpush.Options, defaultUnits string) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, wc, webpushOptions, defaultUnits)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), 5, cfg.RequestIPHeader)

	responseTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(responseTTL, 2*responseTTL)
	caching := mw.Cache(cacheStore, responseTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/weather/current", caching, handler.GetCurrentWeather)
		api.GET("/weather/history", caching, handler.GetHistory)
		api.GET("/cities", caching, handler.GetCities)
		api.POST("/weather/refresh", handler.RefreshNow)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
