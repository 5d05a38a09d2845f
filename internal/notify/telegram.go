package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"weather-bot-backend/internal/model"
)

// DefaultTelegramBaseURL is the production Bot API endpoint.
const DefaultTelegramBaseURL = "https://api.telegram.org"

// TelegramSender delivers messages through the Telegram Bot API.
type TelegramSender struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a sender. baseURL may be empty for production.
func NewTelegramSender(client *http.Client, token, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	return &TelegramSender{token: token, baseURL: baseURL, client: client}
}

// Send posts one sendMessage call for the subscriber's chat.
func (s *TelegramSender) Send(ctx context.Context, sub model.Subscriber, text string) error {
	chatID, err := strconv.ParseInt(sub.Address, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", sub.Address, err)
	}
	return s.SendToChat(ctx, chatID, text)
}

// SendToChat posts a message to an arbitrary chat; the bot replies to
// commands through the same path.
func (s *TelegramSender) SendToChat(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sendMessage payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read telegram response: %w", err)
	}

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("failed to unmarshal telegram response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, apiResp.Description)
	}
	return nil
}
