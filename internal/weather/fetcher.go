package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"weather-bot-backend/internal/model"
)

// UpstreamErrorKind classifies a failed provider call.
type UpstreamErrorKind string

const (
	KindRateLimited       UpstreamErrorKind = "rate_limited"
	KindNotFound          UpstreamErrorKind = "not_found"
	KindNetwork           UpstreamErrorKind = "network"
	KindMalformedResponse UpstreamErrorKind = "malformed_response"
	KindTimeout           UpstreamErrorKind = "timeout"
)

// UpstreamError describes a failure talking to the weather provider.
type UpstreamError struct {
	Kind UpstreamErrorKind
	City string
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s for %s: %v", e.Kind, e.City, e.Err)
	}
	return fmt.Sprintf("upstream %s for %s", e.Kind, e.City)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the same request may succeed.
// not_found and malformed_response will fail the same way every time.
func (e *UpstreamError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindNetwork, KindTimeout:
		return true
	}
	return false
}

// Fetcher retrieves the current weather for one city from the upstream
// provider and normalizes it into a WeatherReading.
type Fetcher interface {
	Fetch(ctx context.Context, city model.City, units string) (model.WeatherReading, error)
}

// OpenWeatherFetcher implements Fetcher against the OpenWeatherMap API.
type OpenWeatherFetcher struct {
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

// NewOpenWeatherFetcher creates a fetcher with a circuit breaker so a
// sustained upstream outage stops burning quota.
func NewOpenWeatherFetcher(client *http.Client, apiKey, baseURL string) *OpenWeatherFetcher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &OpenWeatherFetcher{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		circuit: cb,
	}
}

// openWeatherPayload models the subset of the provider response we consume.
type openWeatherPayload struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"weather"`
}

func (f *OpenWeatherFetcher) Fetch(ctx context.Context, city model.City, units string) (model.WeatherReading, error) {
	values := url.Values{}
	values.Set("q", city.Query)
	values.Set("appid", f.apiKey)
	values.Set("units", units)
	reqURL := fmt.Sprintf("%s/weather?%s", f.baseURL, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.WeatherReading{}, &UpstreamError{Kind: KindNetwork, City: city.ID, Err: err}
	}

	result, err := f.circuit.Execute(func() (interface{}, error) {
		resp, doErr := f.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode != http.StatusOK {
			return nil, statusError{code: resp.StatusCode}
		}
		return body, nil
	})
	if err != nil {
		return model.WeatherReading{}, f.classify(city.ID, err)
	}

	body := result.([]byte)
	var payload openWeatherPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.WeatherReading{}, &UpstreamError{Kind: KindMalformedResponse, City: city.ID, Err: err}
	}
	if len(payload.Weather) == 0 {
		return model.WeatherReading{}, &UpstreamError{
			Kind: KindMalformedResponse,
			City: city.ID,
			Err:  errors.New("response has no weather conditions"),
		}
	}

	observedAt := time.Now().UTC().Truncate(time.Second)
	if payload.Dt > 0 {
		observedAt = time.Unix(payload.Dt, 0).UTC()
	}

	return model.WeatherReading{
		CityID:        city.ID,
		Units:         units,
		ObservedAt:    observedAt,
		Temperature:   payload.Main.Temp,
		FeelsLike:     payload.Main.FeelsLike,
		Humidity:      payload.Main.Humidity,
		WindSpeed:     payload.Wind.Speed,
		ConditionCode: strconv.Itoa(payload.Weather[0].ID),
		Description:   payload.Weather[0].Description,
		RawPayload:    string(body),
	}, nil
}

// statusError carries a non-200 status through the circuit breaker.
type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.code)
}

func (f *OpenWeatherFetcher) classify(cityID string, err error) *UpstreamError {
	var se statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusTooManyRequests:
			return &UpstreamError{Kind: KindRateLimited, City: cityID, Err: err}
		case se.code == http.StatusNotFound:
			return &UpstreamError{Kind: KindNotFound, City: cityID, Err: err}
		default:
			return &UpstreamError{Kind: KindNetwork, City: cityID, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Kind: KindTimeout, City: cityID, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Kind: KindTimeout, City: cityID, Err: err}
	}

	// Includes transport failures and an open circuit breaker.
	return &UpstreamError{Kind: KindNetwork, City: cityID, Err: err}
}
