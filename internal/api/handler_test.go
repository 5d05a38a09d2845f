package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"weather-bot-backend/internal/model"
	"weather-bot-backend/internal/weather"
)

// stubFetcher serves a fixed reading for every city.
type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, city model.City, units string) (model.WeatherReading, error) {
	return model.WeatherReading{
		CityID:      city.ID,
		Units:       units,
		ObservedAt:  time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		Temperature: 17.5,
		Description: "clear sky",
	}, nil
}

func setupWeatherRouter() *gin.Engine {
	cache := weather.NewCache(stubFetcher{}, []model.City{
		{ID: "moscow", DisplayName: "Moscow", Query: "Moscow,RU"},
	}, 30*time.Minute)

	r := gin.Default()
	handler := NewHandler(nil, cache, nil, model.UnitsMetric)
	r.GET("/api/weather/current", handler.GetCurrentWeather)
	return r
}

func TestGetCurrentWeather(t *testing.T) {
	router := setupWeatherRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/weather/current?city=moscow", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cityId":"moscow"`)
	assert.Contains(t, w.Body.String(), `"stale":false`)
}

func TestGetCurrentWeather_MissingCity(t *testing.T) {
	router := setupWeatherRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/weather/current", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"city is required"}`, w.Body.String())
}

func TestGetCurrentWeather_UnknownCity(t *testing.T) {
	router := setupWeatherRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/weather/current?city=atlantis", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"city is not tracked"}`, w.Body.String())
}

func setupSubscriptionRouter() *gin.Engine {
	r := gin.Default()
	handler := NewHandler(nil, nil, nil, model.UnitsMetric)
	r.PUT("/api/subscriptions", handler.PutSubscription)
	r.GET("/api/subscriptions", handler.GetSubscription)
	return r
}

func TestPutSubscription(t *testing.T) {
	router := setupSubscriptionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestGetSubscription_MissingEndpoint(t *testing.T) {
	router := setupSubscriptionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"endpoint is required"}`, w.Body.String())
}

func TestGetVAPIDPublicKey(t *testing.T) {
	t.Run("returns the configured key", func(t *testing.T) {
		r := gin.Default()
		handler := NewHandler(nil, nil, &webpush.Options{VAPIDPublicKey: "test-public-key"}, model.UnitsMetric)
		r.GET("/api/vapid_public_key", handler.GetVAPIDPublicKey)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/vapid_public_key", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"public_key":"test-public-key"}`, w.Body.String())
	})

	t.Run("404 when web push is not configured", func(t *testing.T) {
		r := gin.Default()
		handler := NewHandler(nil, nil, nil, model.UnitsMetric)
		r.GET("/api/vapid_public_key", handler.GetVAPIDPublicKey)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/vapid_public_key", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
