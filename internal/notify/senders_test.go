package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-bot-backend/internal/model"
)

func TestTelegramSender_Send(t *testing.T) {
	var gotPath string
	var gotPayload struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	sender := NewTelegramSender(server.Client(), "test-token", server.URL)
	sub := model.Subscriber{ID: 1, Channel: model.ChannelTelegram, Address: "12345", Active: true}

	err := sender.Send(context.Background(), sub, "Weather update:\nMoscow: 10.0°C")
	require.NoError(t, err)

	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, int64(12345), gotPayload.ChatID)
	assert.Contains(t, gotPayload.Text, "Moscow")
}

func TestTelegramSender_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "bot was blocked by the user"})
	}))
	defer server.Close()

	sender := NewTelegramSender(server.Client(), "test-token", server.URL)
	sub := model.Subscriber{Address: "12345"}

	err := sender.Send(context.Background(), sub, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot was blocked by the user")
}

func TestTelegramSender_BadChatID(t *testing.T) {
	sender := NewTelegramSender(http.DefaultClient, "test-token", "http://unused.invalid")
	sub := model.Subscriber{Address: "https://not-a-chat-id"}

	err := sender.Send(context.Background(), sub, "hello")
	assert.Error(t, err)
}

func TestWebPushSender_Send(t *testing.T) {
	sender := NewWebPushSender(&webpush.Options{}, nil)

	var gotEndpoint string
	var gotPayload []byte
	sender.push = func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		gotEndpoint = sub.Endpoint
		gotPayload = payload
		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(bytes.NewBufferString("")),
		}, nil
	}

	sub := model.Subscriber{
		ID:      2,
		Channel: model.ChannelWebPush,
		Address: "https://push.example.com/abc",
		P256DH:  "test_p256dh",
		Auth:    "test_auth",
	}
	err := sender.Send(context.Background(), sub, "Weather update")
	require.NoError(t, err)

	assert.Equal(t, "https://push.example.com/abc", gotEndpoint)
	assert.Equal(t, "Weather update", string(gotPayload))
}

func TestWebPushSender_ExpiredSubscription(t *testing.T) {
	var expiredID int64
	sender := NewWebPushSender(&webpush.Options{}, func(ctx context.Context, sub model.Subscriber) {
		expiredID = sub.ID
	})
	sender.push = func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusGone,
			Body:       io.NopCloser(bytes.NewBufferString("")),
		}, nil
	}

	sub := model.Subscriber{ID: 9, Channel: model.ChannelWebPush, Address: "https://push.example.com/expired"}
	err := sender.Send(context.Background(), sub, "Weather update")

	assert.Error(t, err, "an expired subscription still counts as a delivery failure")
	assert.Equal(t, int64(9), expiredID, "onExpired should receive the expired subscriber")
}
