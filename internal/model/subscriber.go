package model

import "time"

// Delivery channels a subscriber can be reached on.
const (
	ChannelTelegram = "telegram"
	ChannelWebPush  = "webpush"
)

// Subscriber is one notification recipient. Address is the channel-specific
// identifier: a telegram chat ID in decimal, or a web push endpoint URL.
// P256DH and Auth are populated for web push subscribers only.
type Subscriber struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Channel   string `gorm:"size:16;not null;uniqueIndex:idx_subscriber_channel_address"`
	Address   string `gorm:"size:512;not null;uniqueIndex:idx_subscriber_channel_address"`
	P256DH    string `gorm:"column:p256dh;size:256"`
	Auth      string `gorm:"size:256"`
	Active    bool   `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations. An empty set subscribes to every tracked city.
	Cities []*City `gorm:"many2many:subscriber_city_mapping;"`
}

// WantsCity reports whether the subscriber should receive readings for cityID.
func (s *Subscriber) WantsCity(cityID string) bool {
	if len(s.Cities) == 0 {
		return true
	}
	for _, c := range s.Cities {
		if c.ID == cityID {
			return true
		}
	}
	return false
}
