package store

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"weather-bot-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_AppendReading(t *testing.T) {
	observed := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	t.Run("inserts a new reading", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "weather_readings"`)).
			WithArgs("moscow", model.UnitsMetric, observed, 12.5, 10.1, 70, 4.2, "500", "light rain", `{"dt":1}`, Any{}).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		err := store.AppendReading(context.Background(), &model.WeatherReading{
			CityID:        "moscow",
			Units:         model.UnitsMetric,
			ObservedAt:    observed,
			Temperature:   12.5,
			FeelsLike:     10.1,
			Humidity:      70,
			WindSpeed:     4.2,
			ConditionCode: "500",
			Description:   "light rain",
			RawPayload:    `{"dt":1}`,
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict on the same observation is a no-op", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectBegin()
		// ON CONFLICT DO NOTHING returns no rows for an existing observation.
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "weather_readings"`)).
			WithArgs("moscow", model.UnitsMetric, observed, 12.5, 10.1, 70, 4.2, "500", "light rain", "", Any{}).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		err := store.AppendReading(context.Background(), &model.WeatherReading{
			CityID:        "moscow",
			Units:         model.UnitsMetric,
			ObservedAt:    observed,
			Temperature:   12.5,
			FeelsLike:     10.1,
			Humidity:      70,
			WindSpeed:     4.2,
			ConditionCode: "500",
			Description:   "light rain",
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormStore_LatestReading(t *testing.T) {
	observed := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	t.Run("returns the most recent reading", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "weather_readings" WHERE city_id = $1 AND units = $2 ORDER BY observed_at DESC`)).
			WithArgs("moscow", model.UnitsMetric, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "city_id", "units", "observed_at", "temperature"}).
				AddRow(3, "moscow", model.UnitsMetric, observed, 12.5))

		reading, err := store.LatestReading(context.Background(), "moscow", model.UnitsMetric)
		require.NoError(t, err)
		assert.Equal(t, "moscow", reading.CityID)
		assert.Equal(t, 12.5, reading.Temperature)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps missing rows to ErrNotFound", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "weather_readings"`)).
			WithArgs("moscow", model.UnitsMetric, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.LatestReading(context.Background(), "moscow", model.UnitsMetric)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormStore_RunRecords(t *testing.T) {
	scheduled := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	t.Run("create loads the existing record on conflict", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "run_records"`)).
			WithArgs("08:00", scheduled, nil, string(model.OutcomePending), "", Any{}, Any{}).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		// The occurrence already has a row; it comes back with its state.
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "run_records" WHERE slot_id = $1 AND scheduled_for = $2`)).
			WithArgs("08:00", scheduled, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "slot_id", "scheduled_for", "outcome"}).
				AddRow(42, "08:00", scheduled, string(model.OutcomeSuccess)))

		rec := &model.RunRecord{SlotID: "08:00", ScheduledFor: scheduled}
		err := store.CreateRunRecord(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, int64(42), rec.ID)
		assert.Equal(t, model.OutcomeSuccess, rec.Outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finish records the terminal outcome and detail", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "run_records" SET`)).
			WithArgs("fetch spb: not_found", string(model.OutcomePartial), Any{}, 42).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.FinishRun(context.Background(), 42, model.OutcomePartial, "fetch spb: not_found")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last terminal run ignores pending records", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "run_records" WHERE slot_id = $1 AND outcome <> $2 ORDER BY scheduled_for DESC`)).
			WithArgs("08:00", string(model.OutcomePending), 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "slot_id", "scheduled_for", "outcome"}).
				AddRow(5, "08:00", scheduled, string(model.OutcomeSuccess)))

		rec, err := store.LastTerminalRun(context.Background(), "08:00")
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeSuccess, rec.Outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last terminal run maps empty history to ErrNotFound", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "run_records"`)).
			WithArgs("08:00", string(model.OutcomePending), 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.LastTerminalRun(context.Background(), "08:00")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormStore_ActiveSubscribers(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscribers" WHERE active = $1`)).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "channel", "address", "active"}).
			AddRow(1, model.ChannelTelegram, "100", true).
			AddRow(2, model.ChannelWebPush, "https://push.example.com/abc", true))

	// Preload of the subscriber city sets.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscriber_city_mapping"`)).
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_id", "city_id"}).
			AddRow(1, "moscow"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cities"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name"}).
			AddRow("moscow", "Moscow"))

	subs, err := store.ActiveSubscribers(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, model.ChannelTelegram, subs[0].Channel)
	require.Len(t, subs[0].Cities, 1)
	assert.Equal(t, "moscow", subs[0].Cities[0].ID)
	assert.Empty(t, subs[1].Cities)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_SetTelegramSubscription(t *testing.T) {
	t.Run("creates a new active subscriber", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscribers" WHERE channel = $1 AND address = $2`)).
			WithArgs(model.ChannelTelegram, "100", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "subscribers"`)).
			WithArgs(model.ChannelTelegram, "100", "", "", true, Any{}, Any{}).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		changed, err := store.SetTelegramSubscription(context.Background(), 100, true)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unsubscribing an unknown chat changes nothing", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscribers"`)).
			WithArgs(model.ChannelTelegram, "100", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		changed, err := store.SetTelegramSubscription(context.Background(), 100, false)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("subscribing twice is idempotent", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		store := NewGormStore(gormDB)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscribers"`)).
			WithArgs(model.ChannelTelegram, "100", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "channel", "address", "active"}).
				AddRow(1, model.ChannelTelegram, "100", true))

		changed, err := store.SetTelegramSubscription(context.Background(), 100, true)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
