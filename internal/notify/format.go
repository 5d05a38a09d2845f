package notify

import (
	"fmt"
	"strings"

	"weather-bot-backend/internal/model"
)

// FormatReading renders one city's weather as a single human-readable line.
func FormatReading(displayName string, r model.WeatherReading) string {
	unit := temperatureUnit(r.Units)
	line := fmt.Sprintf("%s: %.1f%s (feels like %.1f%s), humidity %d%%, wind %.1f m/s",
		displayName, r.Temperature, unit, r.FeelsLike, unit, r.Humidity, r.WindSpeed)
	if r.Description != "" {
		line += ", " + r.Description
	}
	return line
}

func temperatureUnit(units string) string {
	switch units {
	case model.UnitsImperial:
		return "°F"
	case model.UnitsStandard:
		return "K"
	default:
		return "°C"
	}
}

// formatMessage combines the readings a subscriber cares about into one
// message, in the configured city order. Returns "" when nothing applies.
func formatMessage(sub model.Subscriber, readings map[string]model.WeatherReading, cityOrder []string, cityNames map[string]string) string {
	var lines []string
	for _, cityID := range cityOrder {
		r, ok := readings[cityID]
		if !ok || !sub.WantsCity(cityID) {
			continue
		}
		name := cityNames[cityID]
		if name == "" {
			name = cityID
		}
		lines = append(lines, FormatReading(name, r))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Weather update:\n" + strings.Join(lines, "\n")
}
