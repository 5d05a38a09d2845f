package api

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"weather-bot-backend/internal/model"
	"weather-bot-backend/internal/weather"
)

// readingResponse is the API shape of one weather reading.
type readingResponse struct {
	CityID        string    `json:"cityId"`
	Units         string    `json:"units"`
	ObservedAt    time.Time `json:"observedAt"`
	Temperature   float64   `json:"temperature"`
	FeelsLike     float64   `json:"feelsLike"`
	Humidity      int       `json:"humidity"`
	WindSpeed     float64   `json:"windSpeed"`
	ConditionCode string    `json:"conditionCode"`
	Description   string    `json:"description"`
	Stale         bool      `json:"stale"`
}

func toReadingResponse(r model.WeatherReading, stale bool) readingResponse {
	return readingResponse{
		CityID:        r.CityID,
		Units:         r.Units,
		ObservedAt:    r.ObservedAt,
		Temperature:   r.Temperature,
		FeelsLike:     r.FeelsLike,
		Humidity:      r.Humidity,
		WindSpeed:     r.WindSpeed,
		ConditionCode: r.ConditionCode,
		Description:   r.Description,
		Stale:         stale,
	}
}

func (h *Handler) units(c *gin.Context) string {
	if u := c.Query("units"); u != "" {
		return u
	}
	return h.defaultUnits
}

// GetCurrentWeather handles GET /api/weather/current?city=&units=.
func (h *Handler) GetCurrentWeather(c *gin.Context) {
	cityID := c.Query("city")
	if cityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "city is required"})
		return
	}

	reading, stale, err := h.cache.Get(c.Request.Context(), cityID, h.units(c), false)
	if err != nil && !stale {
		if errors.Is(err, weather.ErrUnknownCity) {
			c.JSON(http.StatusNotFound, gin.H{"error": "city is not tracked"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "weather data unavailable"})
		return
	}
	c.JSON(http.StatusOK, toReadingResponse(reading, stale))
}

// GetHistory handles GET /api/weather/history?city=&units=&since=.
func (h *Handler) GetHistory(c *gin.Context) {
	cityID := c.Query("city")
	if cityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "city is required"})
		return
	}
	since, err := parseTime(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	units := h.units(c)
	readings, err := h.store.ReadingsSince(c.Request.Context(), cityID, units, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve history"})
		return
	}

	resp := make([]readingResponse, 0, len(readings))
	for _, r := range readings {
		resp = append(resp, toReadingResponse(r, false))
	}
	c.JSON(http.StatusOK, gin.H{
		"city":     cityID,
		"units":    units,
		"since":    since,
		"readings": resp,
	})
}

// GetCities handles GET /api/cities.
func (h *Handler) GetCities(c *gin.Context) {
	cities, err := h.store.Cities(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve cities"})
		return
	}
	c.JSON(http.StatusOK, cities)
}

// RefreshNow handles POST /api/weather/refresh: a one-off forced refresh of
// every tracked city, outside the scheduler's state machine.
func (h *Handler) RefreshNow(c *gin.Context) {
	ctx := c.Request.Context()
	units := h.units(c)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		refreshed int
		failed    []string
	)
	for _, city := range h.cache.Tracked() {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			reading, stale, err := h.cache.Get(ctx, city.ID, units, true)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || stale {
				failed = append(failed, city.ID)
				return
			}
			if err := h.store.AppendReading(ctx, &reading); err == nil {
				refreshed++
			} else {
				failed = append(failed, city.ID)
			}
		}()
	}
	wg.Wait()

	status := http.StatusOK
	if refreshed == 0 && len(failed) > 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"refreshed": refreshed, "failed": failed})
}

// parseTime accepts RFC3339 or unix seconds; empty means 24 hours ago.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now().Add(-24 * time.Hour).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since value; use RFC3339 or unix seconds")
}
