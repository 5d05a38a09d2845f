package weather

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"weather-bot-backend/internal/model"
)

// ErrUnknownCity is returned for a city that is not in the tracked set.
var ErrUnknownCity = errors.New("city is not tracked")

// entry is owned exclusively by the Cache.
type entry struct {
	reading   model.WeatherReading
	fetchedAt time.Time
}

// Cache memoizes provider readings per (city, units) for a fixed TTL.
// Concurrent callers for the same key share a single in-flight fetch, and a
// failed refresh falls back to the previous reading, flagged as stale.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	cities  map[string]model.City
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// NewCache creates a cache over the given fetcher for a fixed set of cities.
func NewCache(fetcher Fetcher, cities []model.City, ttl time.Duration) *Cache {
	byID := make(map[string]model.City, len(cities))
	for _, c := range cities {
		byID[c.ID] = c
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		cities:  byID,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the current reading for a tracked city. With forceRefresh the
// cached entry is bypassed and the provider is always consulted. The stale
// flag reports that the returned reading is an older fallback kept after a
// failed fetch; in that case the provider error is returned alongside the
// reading so callers can use the data and still report what failed. Stale is
// never set on a successful refresh.
func (c *Cache) Get(ctx context.Context, cityID, units string, forceRefresh bool) (model.WeatherReading, bool, error) {
	city, ok := c.cities[cityID]
	if !ok {
		return model.WeatherReading{}, false, ErrUnknownCity
	}
	key := cityID + "|" + units

	if !forceRefresh {
		if e, ok := c.lookup(key); ok && c.valid(e) {
			return e.reading, false, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A caller that queued behind an in-flight fetch sees its result via
		// the group; this inner check only spares a duplicate upstream call
		// when a fresh entry landed between the outer check and here.
		if !forceRefresh {
			if e, ok := c.lookup(key); ok && c.valid(e) {
				return e.reading, nil
			}
		}

		reading, err := c.fetcher.Fetch(ctx, city, units)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{reading: reading, fetchedAt: c.now()}
		c.mu.Unlock()
		return reading, nil
	})
	if err != nil {
		if e, ok := c.lookup(key); ok {
			return e.reading, true, err
		}
		return model.WeatherReading{}, false, err
	}
	return v.(model.WeatherReading), false, nil
}

// Tracked returns the tracked cities in no particular order.
func (c *Cache) Tracked() []model.City {
	cities := make([]model.City, 0, len(c.cities))
	for _, city := range c.cities {
		cities = append(cities, city)
	}
	return cities
}

func (c *Cache) lookup(key string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) valid(e entry) bool {
	return c.now().Sub(e.fetchedAt) < c.ttl
}
