package notify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"weather-bot-backend/internal/model"
)

// Sender delivers one formatted message to a subscriber on its channel.
type Sender interface {
	Send(ctx context.Context, sub model.Subscriber, text string) error
}

// DispatchReport aggregates per-subscriber delivery results for one dispatch.
type DispatchReport struct {
	Sent   int
	Failed map[int64]string // subscriber ID -> reason
}

// AllFailed reports that every attempted delivery failed.
func (r DispatchReport) AllFailed() bool {
	return r.Sent == 0 && len(r.Failed) > 0
}

// Dispatcher fans one batch of readings out to subscribers: one message per
// subscriber combining all of its cities. Delivery failures never abort the
// rest of the batch, and the dispatcher keeps no deduplication state; run
// deduplication lives in the scheduler's run records.
type Dispatcher struct {
	senders     map[string]Sender
	cityOrder   []string
	cityNames   map[string]string
	concurrency int
}

// NewDispatcher creates a dispatcher. Cities controls message ordering and
// display names; senders is keyed by the model.Channel* constants.
func NewDispatcher(senders map[string]Sender, cities []model.City, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	order := make([]string, 0, len(cities))
	names := make(map[string]string, len(cities))
	for _, c := range cities {
		order = append(order, c.ID)
		names[c.ID] = c.DisplayName
	}
	return &Dispatcher{
		senders:     senders,
		cityOrder:   order,
		cityNames:   names,
		concurrency: concurrency,
	}
}

// Dispatch sends the readings to every active subscriber in the snapshot.
func (d *Dispatcher) Dispatch(ctx context.Context, readings map[string]model.WeatherReading, subscribers []model.Subscriber) DispatchReport {
	report := DispatchReport{Failed: make(map[int64]string)}
	if len(readings) == 0 {
		return report
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, d.concurrency)
	)

	for _, sub := range subscribers {
		if !sub.Active {
			continue
		}
		text := formatMessage(sub, readings, d.cityOrder, d.cityNames)
		if text == "" {
			continue
		}
		sender, ok := d.senders[sub.Channel]
		if !ok {
			// Sender goroutines from earlier iterations may already be
			// writing the report; this write needs the lock too.
			mu.Lock()
			report.Failed[sub.ID] = fmt.Sprintf("no sender for channel %q", sub.Channel)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(sub model.Subscriber, text string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := sender.Send(ctx, sub, text)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("dispatch: delivery to subscriber %d failed: %v", sub.ID, err)
				report.Failed[sub.ID] = err.Error()
				return
			}
			report.Sent++
		}(sub, text)
	}

	wg.Wait()
	return report
}
