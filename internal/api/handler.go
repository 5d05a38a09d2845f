package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"weather-bot-backend/internal/store"
	"weather-bot-backend/internal/weather"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store        store.Store
	cache        *weather.Cache
	webpush      *webpush.Options
	defaultUnits string
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, cache *weather.Cache, webpushOptions *webpush.Options, defaultUnits string) *Handler {
	return &Handler{
		store:        s,
		cache:        cache,
		webpush:      webpushOptions,
		defaultUnits: defaultUnits,
	}
}
