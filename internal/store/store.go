package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"weather-bot-backend/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	SeedCities(ctx context.Context, cities []model.City) error
	Cities(ctx context.Context) ([]model.City, error)

	// Readings are append-only. AppendReading is a no-op when a row with the
	// same (city, units, observed_at) already exists.
	AppendReading(ctx context.Context, reading *model.WeatherReading) error
	LatestReading(ctx context.Context, cityID, units string) (*model.WeatherReading, error)
	ReadingsSince(ctx context.Context, cityID, units string, since time.Time) ([]model.WeatherReading, error)
	PruneReadings(ctx context.Context, before time.Time) (int64, error)

	ActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)
	SetTelegramSubscription(ctx context.Context, chatID int64, active bool) (bool, error)
	UpsertPushSubscriber(ctx context.Context, sub *model.Subscriber, cityIDs []string) error
	PushSubscriberByEndpoint(ctx context.Context, endpoint string) (*model.Subscriber, error)
	DeletePushSubscriber(ctx context.Context, endpoint string) error
	DeactivateSubscriber(ctx context.Context, id int64) error

	// Run record lifecycle. The scheduler is the only writer.
	CreateRunRecord(ctx context.Context, rec *model.RunRecord) error
	StartRun(ctx context.Context, id int64, executedAt time.Time) error
	FinishRun(ctx context.Context, id int64, outcome model.RunOutcome, detail string) error
	LastTerminalRun(ctx context.Context, slotID string) (*model.RunRecord, error)
	RunForOccurrence(ctx context.Context, slotID string, scheduledFor time.Time) (*model.RunRecord, error)
	MarkSkippedSuperseded(ctx context.Context, slotID string, scheduledFor time.Time) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for collaborators that need raw queries.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// SeedCities upserts the configured cities so subscriptions can reference them.
// Cities removed from configuration are kept; their history stays queryable.
func (s *gormStore) SeedCities(ctx context.Context, cities []model.City) error {
	for i := range cities {
		city := cities[i]
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "query", "command", "updated_at"}),
		}).Create(&city).Error
		if err != nil {
			return fmt.Errorf("failed to seed city %s: %w", city.ID, err)
		}
	}
	return nil
}

func (s *gormStore) Cities(ctx context.Context) ([]model.City, error) {
	var cities []model.City
	if err := s.db.WithContext(ctx).Order("id").Find(&cities).Error; err != nil {
		return nil, err
	}
	return cities, nil
}

func (s *gormStore) AppendReading(ctx context.Context, reading *model.WeatherReading) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "city_id"}, {Name: "units"}, {Name: "observed_at"}},
		DoNothing: true,
	}).Create(reading).Error
	if err != nil {
		return fmt.Errorf("failed to append reading for %s: %w", reading.CityID, err)
	}
	return nil
}

func (s *gormStore) LatestReading(ctx context.Context, cityID, units string) (*model.WeatherReading, error) {
	var reading model.WeatherReading
	err := s.db.WithContext(ctx).
		Where("city_id = ? AND units = ?", cityID, units).
		Order("observed_at DESC").
		First(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

func (s *gormStore) ReadingsSince(ctx context.Context, cityID, units string, since time.Time) ([]model.WeatherReading, error) {
	var readings []model.WeatherReading
	err := s.db.WithContext(ctx).
		Where("city_id = ? AND units = ? AND observed_at >= ?", cityID, units, since).
		Order("observed_at ASC").
		Find(&readings).Error
	if err != nil {
		return nil, err
	}
	return readings, nil
}

func (s *gormStore) PruneReadings(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("observed_at < ?", before).
		Delete(&model.WeatherReading{})
	return res.RowsAffected, res.Error
}

// ActiveSubscribers returns a snapshot of every active subscriber with its
// city set preloaded.
func (s *gormStore) ActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	var subs []model.Subscriber
	err := s.db.WithContext(ctx).
		Preload("Cities").
		Where("active = ?", true).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// SetTelegramSubscription activates or deactivates the subscriber for a chat.
// The returned bool reports whether the stored state actually changed.
func (s *gormStore) SetTelegramSubscription(ctx context.Context, chatID int64, active bool) (bool, error) {
	address := fmt.Sprintf("%d", chatID)

	var existing model.Subscriber
	err := s.db.WithContext(ctx).
		Where("channel = ? AND address = ?", model.ChannelTelegram, address).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if !active {
			return false, nil
		}
		sub := model.Subscriber{
			Channel: model.ChannelTelegram,
			Address: address,
			Active:  true,
		}
		if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if existing.Active == active {
		return false, nil
	}
	err = s.db.WithContext(ctx).
		Model(&existing).
		Update("active", active).Error
	return err == nil, err
}

// UpsertPushSubscriber creates or replaces a web push subscriber and its
// city set in one transaction.
func (s *gormStore) UpsertPushSubscriber(ctx context.Context, sub *model.Subscriber, cityIDs []string) error {
	sub.Channel = model.ChannelWebPush
	sub.Active = true

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel"}, {Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "active", "updated_at"}),
		}).Create(sub).Error; err != nil {
			return err
		}

		// Create returns the existing ID on conflict with some drivers but
		// not all; resolve it explicitly before touching associations.
		if err := tx.Where("channel = ? AND address = ?", sub.Channel, sub.Address).
			First(sub).Error; err != nil {
			return err
		}

		var cities []*model.City
		if len(cityIDs) > 0 {
			if err := tx.Find(&cities, "id IN ?", cityIDs).Error; err != nil {
				return err
			}
		}
		return tx.Model(sub).Association("Cities").Replace(cities)
	})
}

func (s *gormStore) PushSubscriberByEndpoint(ctx context.Context, endpoint string) (*model.Subscriber, error) {
	var sub model.Subscriber
	err := s.db.WithContext(ctx).
		Preload("Cities").
		Where("channel = ? AND address = ?", model.ChannelWebPush, endpoint).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) DeletePushSubscriber(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).
		Where("channel = ? AND address = ?", model.ChannelWebPush, endpoint).
		Delete(&model.Subscriber{}).Error
}

func (s *gormStore) DeactivateSubscriber(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).
		Model(&model.Subscriber{}).
		Where("id = ?", id).
		Update("active", false).Error
}

// CreateRunRecord inserts a pending record for one slot occurrence. When a
// record for the occurrence already exists it is loaded instead, so callers
// always end up holding the durable row for that occurrence.
func (s *gormStore) CreateRunRecord(ctx context.Context, rec *model.RunRecord) error {
	if rec.Outcome == "" {
		rec.Outcome = model.OutcomePending
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot_id"}, {Name: "scheduled_for"}},
		DoNothing: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	return s.db.WithContext(ctx).
		Where("slot_id = ? AND scheduled_for = ?", rec.SlotID, rec.ScheduledFor).
		First(rec).Error
}

func (s *gormStore) StartRun(ctx context.Context, id int64, executedAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&model.RunRecord{}).
		Where("id = ?", id).
		Update("executed_at", executedAt).Error
}

func (s *gormStore) FinishRun(ctx context.Context, id int64, outcome model.RunOutcome, detail string) error {
	return s.db.WithContext(ctx).
		Model(&model.RunRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"outcome": outcome, "detail": detail}).Error
}

func (s *gormStore) LastTerminalRun(ctx context.Context, slotID string) (*model.RunRecord, error) {
	var rec model.RunRecord
	err := s.db.WithContext(ctx).
		Where("slot_id = ? AND outcome <> ?", slotID, model.OutcomePending).
		Order("scheduled_for DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *gormStore) RunForOccurrence(ctx context.Context, slotID string, scheduledFor time.Time) (*model.RunRecord, error) {
	var rec model.RunRecord
	err := s.db.WithContext(ctx).
		Where("slot_id = ? AND scheduled_for = ?", slotID, scheduledFor).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkSkippedSuperseded records that an occurrence was missed and will never
// be executed because a later occurrence was caught up instead.
func (s *gormStore) MarkSkippedSuperseded(ctx context.Context, slotID string, scheduledFor time.Time) error {
	rec := model.RunRecord{
		SlotID:       slotID,
		ScheduledFor: scheduledFor,
		Outcome:      model.OutcomeSkippedSuperseded,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot_id"}, {Name: "scheduled_for"}},
		DoNothing: true,
	}).Create(&rec).Error
	if err != nil {
		return err
	}
	// A pending record left over from a crash is superseded as well.
	return s.db.WithContext(ctx).
		Model(&model.RunRecord{}).
		Where("slot_id = ? AND scheduled_for = ? AND outcome = ?", slotID, scheduledFor, model.OutcomePending).
		Update("outcome", model.OutcomeSkippedSuperseded).Error
}
