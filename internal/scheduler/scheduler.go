package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"weather-bot-backend/config"
	"weather-bot-backend/internal/model"
	"weather-bot-backend/internal/notify"
	"weather-bot-backend/internal/store"
	"weather-bot-backend/internal/weather"
)

// Scheduler drives the notification slots and the background cache refresh.
// It is the single scheduling authority: exactly one Run loop advances slot
// state, and it is the only writer of run records.
type Scheduler struct {
	store      store.Store
	cache      *weather.Cache
	dispatcher *notify.Dispatcher
	clock      Clock

	loc    *time.Location
	slots  []Slot
	cities []model.City
	units  string

	retryAttempts   int
	retryBase       time.Duration
	refreshInterval time.Duration
	shutdownGrace   time.Duration
	retentionDays   int
	alertTempDelta  float64
	alertWindSpeed  float64
}

// New creates a scheduler from configuration. A nil clock selects the
// system clock.
func New(cfg *config.Config, cities []model.City, st store.Store, cache *weather.Cache, dispatcher *notify.Dispatcher, clock Clock) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Schedule.Timezone, err)
	}

	slots := make([]Slot, 0, len(cfg.Schedule.Slots))
	for _, raw := range cfg.Schedule.Slots {
		slot, err := ParseSlot(raw)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}

	if clock == nil {
		clock = SystemClock{}
	}

	return &Scheduler{
		store:           st,
		cache:           cache,
		dispatcher:      dispatcher,
		clock:           clock,
		loc:             loc,
		slots:           slots,
		cities:          cities,
		units:           cfg.Weather.Units,
		retryAttempts:   cfg.Schedule.RetryAttempts,
		retryBase:       cfg.Schedule.RetryBase,
		refreshInterval: cfg.Schedule.RefreshInterval,
		shutdownGrace:   cfg.Schedule.ShutdownGrace,
		retentionDays:   cfg.Weather.RetentionDays,
		alertTempDelta:  cfg.Weather.AlertTemperatureDelta,
		alertWindSpeed:  cfg.Weather.AlertWindSpeed,
	}, nil
}

// Run executes the scheduling loop until ctx is cancelled. It first performs
// the missed-run recovery scan, then alternates between slot executions and
// background refresh ticks.
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("scheduler: starting")
	s.recover(ctx)
	if ctx.Err() != nil {
		return
	}

	next := make([]*model.RunRecord, len(s.slots))
	for i, slot := range s.slots {
		rec, err := s.arm(ctx, slot)
		if err != nil {
			log.Printf("scheduler: failed to arm slot %s: %v", slot.ID, err)
			continue
		}
		next[i] = rec
	}
	refreshAt := s.clock.Now().Add(s.refreshInterval)

	for {
		now := s.clock.Now()
		wake := refreshAt
		for i := range s.slots {
			if next[i] != nil && next[i].ScheduledFor.Before(wake) {
				wake = next[i].ScheduledFor
			}
		}
		var wait time.Duration
		if wake.After(now) {
			wait = wake.Sub(now)
		}

		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-s.clock.After(wait):
		}

		now = s.clock.Now()
		for i, slot := range s.slots {
			rec := next[i]
			if rec == nil {
				if rearmed, err := s.arm(ctx, slot); err == nil {
					next[i] = rearmed
				}
				continue
			}
			if rec.ScheduledFor.After(now) {
				continue
			}

			runCtx, cancel := s.runContext(ctx)
			s.executeRun(runCtx, rec)
			cancel()
			if ctx.Err() != nil {
				return
			}

			rearmed, err := s.arm(ctx, slot)
			if err != nil {
				log.Printf("scheduler: failed to re-arm slot %s: %v", slot.ID, err)
				next[i] = nil
				continue
			}
			next[i] = rearmed
		}

		if !refreshAt.After(now) {
			s.refreshTick(ctx)
			refreshAt = s.clock.Now().Add(s.refreshInterval)
		}
	}
}

// arm creates the pending run record for the slot's next occurrence.
func (s *Scheduler) arm(ctx context.Context, slot Slot) (*model.RunRecord, error) {
	rec := &model.RunRecord{
		SlotID:       slot.ID,
		ScheduledFor: slot.next(s.clock.Now(), s.loc),
		Outcome:      model.OutcomePending,
	}
	if err := s.store.CreateRunRecord(ctx, rec); err != nil {
		return nil, err
	}
	log.Printf("scheduler: slot %s armed for %s", slot.ID, rec.ScheduledFor.Format(time.RFC3339))
	return rec, nil
}

// recover scans for occurrences that elapsed without reaching a terminal run
// record (process downtime or a crash mid-run). Only the most recent missed
// occurrence per slot is executed; older ones are marked superseded.
func (s *Scheduler) recover(ctx context.Context) {
	now := s.clock.Now()
	for _, slot := range s.slots {
		latest := slot.prev(now, s.loc)

		var lastTerminal time.Time
		last, err := s.store.LastTerminalRun(ctx, slot.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// First boot for this slot; only the most recent elapsed
			// occurrence is eligible for catch-up.
		case err != nil:
			log.Printf("scheduler: recovery check for slot %s failed: %v", slot.ID, err)
			continue
		default:
			lastTerminal = last.ScheduledFor
		}

		if !lastTerminal.IsZero() && !latest.After(lastTerminal) {
			continue
		}

		if !lastTerminal.IsZero() {
			for occ := slot.next(lastTerminal, s.loc); occ.Before(latest); occ = slot.next(occ, s.loc) {
				if err := s.store.MarkSkippedSuperseded(ctx, slot.ID, occ); err != nil {
					log.Printf("scheduler: failed to mark %s %s superseded: %v",
						slot.ID, occ.Format(time.RFC3339), err)
				}
			}
		}

		rec := &model.RunRecord{
			SlotID:       slot.ID,
			ScheduledFor: latest,
			Outcome:      model.OutcomePending,
		}
		if err := s.store.CreateRunRecord(ctx, rec); err != nil {
			log.Printf("scheduler: failed to claim catch-up run for slot %s: %v", slot.ID, err)
			continue
		}
		if rec.Outcome.Terminal() {
			continue
		}

		log.Printf("scheduler: catching up missed run for slot %s scheduled at %s",
			slot.ID, latest.Format(time.RFC3339))
		runCtx, cancel := s.runContext(ctx)
		s.executeRun(runCtx, rec)
		cancel()
		if ctx.Err() != nil {
			return
		}
	}
}

// executeRun performs one notification run: force-refresh every tracked
// city with retries, persist fresh readings, dispatch to subscribers, and
// record the terminal outcome.
func (s *Scheduler) executeRun(ctx context.Context, rec *model.RunRecord) {
	startedAt := s.clock.Now()
	log.Printf("scheduler: slot %s run for %s starting", rec.SlotID, rec.ScheduledFor.Format(time.RFC3339))
	if err := s.store.StartRun(ctx, rec.ID, startedAt); err != nil {
		log.Printf("scheduler: failed to record run start: %v", err)
	}

	readings, failures := s.collectReadings(ctx)

	var details []string
	persistOK := true
	for _, city := range s.cities {
		res, ok := readings[city.ID]
		if !ok || res.stale {
			// A stale fallback is an old observation, not data from this
			// run; only fresh readings are appended to history.
			continue
		}
		s.logAlerts(ctx, city, res.reading)
		reading := res.reading
		if err := s.store.AppendReading(ctx, &reading); err != nil {
			persistOK = false
			details = append(details, fmt.Sprintf("persist %s: %v", city.ID, err))
			log.Printf("scheduler: failed to persist reading for %s: %v", city.ID, err)
		}
	}

	var report notify.DispatchReport
	dispatched := false
	if len(readings) > 0 {
		subs, err := s.store.ActiveSubscribers(ctx)
		if err != nil {
			details = append(details, fmt.Sprintf("subscribers: %v", err))
			log.Printf("scheduler: failed to load subscribers: %v", err)
		} else {
			byCity := make(map[string]model.WeatherReading, len(readings))
			for cityID, res := range readings {
				byCity[cityID] = res.reading
			}
			report = s.dispatcher.Dispatch(ctx, byCity, subs)
			dispatched = true
		}
	}

	for _, city := range s.cities {
		if kind, ok := failures[city.ID]; ok {
			details = append(details, fmt.Sprintf("fetch %s: %s", city.ID, kind))
		}
	}
	for subID, reason := range report.Failed {
		details = append(details, fmt.Sprintf("dispatch subscriber %d: %s", subID, reason))
	}

	var outcome model.RunOutcome
	switch {
	case len(readings) == 0:
		outcome = model.OutcomeFailed
	case len(failures) > 0 || len(report.Failed) > 0 || !persistOK || !dispatched:
		outcome = model.OutcomePartial
	default:
		outcome = model.OutcomeSuccess
	}

	// The terminal state must land even when the loop context is gone.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.FinishRun(finishCtx, rec.ID, outcome, strings.Join(details, "; ")); err != nil {
		log.Printf("scheduler: failed to record run outcome: %v", err)
	}
	log.Printf("scheduler: slot %s run for %s finished: %s (sent=%d failed=%d)",
		rec.SlotID, rec.ScheduledFor.Format(time.RFC3339), outcome, report.Sent, len(report.Failed))

	if s.retentionDays > 0 {
		cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays)
		if n, err := s.store.PruneReadings(finishCtx, cutoff); err != nil {
			log.Printf("scheduler: failed to prune old readings: %v", err)
		} else if n > 0 {
			log.Printf("scheduler: pruned %d readings older than %d days", n, s.retentionDays)
		}
	}
}

type fetchResult struct {
	reading model.WeatherReading
	stale   bool
}

// collectReadings force-refreshes every tracked city concurrently. A city
// appears in the returned readings when any data is available (fresh or
// stale fallback) and in failures when its fetch did not fully succeed.
func (s *Scheduler) collectReadings(ctx context.Context) (map[string]fetchResult, map[string]string) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	readings := make(map[string]fetchResult)
	failures := make(map[string]string)

	for _, city := range s.cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()

			reading, stale, kind, err := s.fetchWithRetry(ctx, city.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[city.ID] = kind
				return
			}
			readings[city.ID] = fetchResult{reading: reading, stale: stale}
			if stale {
				failures[city.ID] = kind
			}
		}()
	}
	wg.Wait()
	return readings, failures
}

// fetchWithRetry force-refreshes one city with bounded exponential backoff.
// Non-retryable upstream errors stop the attempts early. When every attempt
// fails but the cache still holds an older reading, that reading is returned
// with stale set and the terminating error kind preserved.
func (s *Scheduler) fetchWithRetry(ctx context.Context, cityID string) (model.WeatherReading, bool, string, error) {
	delay := s.retryBase
	var (
		fallback     model.WeatherReading
		haveFallback bool
		lastErr      error
		lastKind     string
	)

	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				attempt = s.retryAttempts // abandoned by shutdown
			case <-s.clock.After(delay):
				delay *= 2
			}
			if attempt >= s.retryAttempts {
				break
			}
		}

		reading, stale, err := s.cache.Get(ctx, cityID, s.units, true)
		if err == nil && !stale {
			return reading, false, "", nil
		}
		if stale {
			// Refresh failed but the cache degraded to its previous entry.
			// Keep it while the remaining attempts try for fresh data.
			fallback, haveFallback = reading, true
		}
		if err == nil {
			continue
		}

		lastErr = err
		var ue *weather.UpstreamError
		if errors.As(err, &ue) {
			lastKind = string(ue.Kind)
			if !ue.Retryable() {
				break
			}
		} else {
			lastKind = err.Error()
		}
	}

	if haveFallback {
		return fallback, true, lastKind, nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
		if lastErr == nil {
			lastErr = errors.New("fetch attempts exhausted")
		}
	}
	return model.WeatherReading{}, false, lastKind, lastErr
}

// refreshTick keeps the cache warm between notification slots. Failures are
// logged only; the cache's own stale fallback covers readers in the meantime.
func (s *Scheduler) refreshTick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, city := range s.cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, stale, err := s.cache.Get(ctx, city.ID, s.units, false); stale {
				log.Printf("scheduler: background refresh for %s degraded to stale data: %v", city.ID, err)
			} else if err != nil {
				log.Printf("scheduler: background refresh for %s failed: %v", city.ID, err)
			}
		}()
	}
	wg.Wait()
}

// logAlerts reports sharp changes against the previous persisted reading.
func (s *Scheduler) logAlerts(ctx context.Context, city model.City, reading model.WeatherReading) {
	prev, err := s.store.LatestReading(ctx, city.ID, s.units)
	if err != nil || prev == nil {
		return
	}
	if delta := math.Abs(reading.Temperature - prev.Temperature); delta >= s.alertTempDelta {
		log.Printf("ALERT: temperature in %s changed by %.1f since last reading", city.DisplayName, delta)
	}
	if reading.WindSpeed >= s.alertWindSpeed {
		log.Printf("ALERT: high wind in %s: %.1f m/s", city.DisplayName, reading.WindSpeed)
	}
}

// runContext returns a context that outlives the loop context by the
// configured shutdown grace, so an in-flight run can finish its attempts
// before the remaining work is abandoned.
func (s *Scheduler) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-s.clock.After(s.shutdownGrace):
			case <-runCtx.Done():
			}
			cancel()
		case <-runCtx.Done():
		}
	}()
	return runCtx, cancel
}
