package model

import "time"

// City is a tracked location. The set of cities is defined in configuration
// and seeded into the database at startup so subscriptions can reference them.
type City struct {
	ID          string `gorm:"primaryKey;size:64"`
	DisplayName string `gorm:"size:128;not null"`
	Query       string `gorm:"size:128;not null"` // provider query string, e.g. "Moscow,RU"
	Command     string `gorm:"size:64"`           // bot command alias, e.g. "spb"
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
