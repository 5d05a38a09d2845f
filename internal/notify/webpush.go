package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"weather-bot-backend/internal/model"
)

// PushFunc sends a web push notification. It matches the signature of
// webpush.SendNotification so tests can substitute a fake.
type PushFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// WebPushSender delivers messages as web push notifications. Expired
// subscriptions (410 from the push service) are reported to onExpired so the
// registry can deactivate them.
type WebPushSender struct {
	options   *webpush.Options
	push      PushFunc
	onExpired func(ctx context.Context, sub model.Subscriber)
}

// NewWebPushSender creates a sender using the real webpush library.
func NewWebPushSender(options *webpush.Options, onExpired func(ctx context.Context, sub model.Subscriber)) *WebPushSender {
	return &WebPushSender{
		options:   options,
		push:      webpush.SendNotification,
		onExpired: onExpired,
	}
}

func (s *WebPushSender) Send(ctx context.Context, sub model.Subscriber, text string) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Address,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := s.push([]byte(text), wpSub, s.options)
	if err != nil {
		return fmt.Errorf("web push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("web push subscription %d is expired, deactivating", sub.ID)
		if s.onExpired != nil {
			s.onExpired(ctx, sub)
		}
		return fmt.Errorf("subscription expired")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}
