package model

import "time"

// Units of measurement accepted by the upstream provider.
const (
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
	UnitsStandard = "standard"
)

// WeatherReading is an immutable snapshot of the weather in one city.
// Readings are append-only; the unique index keeps repeated fetches of the
// same provider observation from producing duplicate rows.
type WeatherReading struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	CityID        string    `gorm:"size:64;not null;uniqueIndex:idx_reading_city_units_observed"`
	Units         string    `gorm:"size:16;not null;uniqueIndex:idx_reading_city_units_observed"`
	ObservedAt    time.Time `gorm:"not null;uniqueIndex:idx_reading_city_units_observed"`
	Temperature   float64   `gorm:"not null"`
	FeelsLike     float64   `gorm:"not null"`
	Humidity      int       `gorm:"not null"`
	WindSpeed     float64   `gorm:"not null"`
	ConditionCode string    `gorm:"size:32"`
	Description   string    `gorm:"size:128"`
	RawPayload    string    `gorm:"type:text"` // provider response, kept for audit
	CreatedAt     time.Time
}
