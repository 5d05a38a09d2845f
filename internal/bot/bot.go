package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"weather-bot-backend/internal/model"
	"weather-bot-backend/internal/notify"
	"weather-bot-backend/internal/store"
	"weather-bot-backend/internal/weather"
)

// Bot serves telegram commands over the Bot API long-polling interface.
// It reads weather through the cache and never participates in the
// scheduler's state machine.
type Bot struct {
	client      *http.Client
	token       string
	baseURL     string
	pollTimeout int

	cache  *weather.Cache
	store  store.Store
	sender *notify.TelegramSender
	units  string
	cities []model.City

	offset int64
}

// New creates a bot. baseURL may be empty for the production Bot API.
func New(client *http.Client, token, baseURL string, pollTimeout int, cache *weather.Cache, st store.Store, units string, cities []model.City) *Bot {
	if baseURL == "" {
		baseURL = notify.DefaultTelegramBaseURL
	}
	return &Bot{
		client:      client,
		token:       token,
		baseURL:     baseURL,
		pollTimeout: pollTimeout,
		cache:       cache,
		store:       st,
		sender:      notify.NewTelegramSender(client, token, baseURL),
		units:       units,
		cities:      cities,
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	log.Println("bot: starting long polling")
	for {
		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("bot: shutting down")
				return
			}
			log.Printf("bot: getUpdates failed: %v", err)
			select {
			case <-ctx.Done():
				log.Println("bot: shutting down")
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, upd := range updates {
			if upd.UpdateID >= b.offset {
				b.offset = upd.UpdateID + 1
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	values := url.Values{}
	values.Set("timeout", fmt.Sprintf("%d", b.pollTimeout))
	if b.offset > 0 {
		values.Set("offset", fmt.Sprintf("%d", b.offset))
	}
	reqURL := fmt.Sprintf("%s/bot%s/getUpdates?%s", b.baseURL, b.token, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal getUpdates response: %w", err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("telegram API error (status %d)", resp.StatusCode)
	}
	return apiResp.Result, nil
}

func (b *Bot) handleUpdate(ctx context.Context, upd update) {
	if upd.Message == nil {
		return
	}
	cmd, ok := parseCommand(upd.Message.Text)
	if !ok {
		return
	}
	chatID := upd.Message.Chat.ID
	log.Printf("bot: received /%s from chat %d", cmd, chatID)

	var reply string
	switch cmd {
	case "start", "help":
		reply = b.helpText()
	case "cities":
		reply = b.citiesText()
	case "weather":
		reply = b.weatherText(ctx, b.cities)
	case "subscribe":
		reply = b.setSubscription(ctx, chatID, true)
	case "unsubscribe":
		reply = b.setSubscription(ctx, chatID, false)
	default:
		alias, found := strings.CutPrefix(cmd, "weather_")
		if !found {
			return
		}
		city, ok := b.cityByCommand(alias)
		if !ok {
			reply = fmt.Sprintf("Unknown city %q. Use /cities to list tracked cities.", alias)
			break
		}
		reply = b.weatherText(ctx, []model.City{city})
	}

	if reply == "" {
		return
	}
	if err := b.sender.SendToChat(ctx, chatID, reply); err != nil {
		log.Printf("bot: failed to reply to chat %d: %v", chatID, err)
	}
}

// parseCommand extracts the command name from a message, tolerating the
// "@botname" suffix telegram appends in group chats.
func parseCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", false
	}
	return strings.ToLower(cmd), true
}

func (b *Bot) cityByCommand(alias string) (model.City, bool) {
	for _, c := range b.cities {
		if strings.EqualFold(c.Command, alias) {
			return c, true
		}
	}
	return model.City{}, false
}

func (b *Bot) helpText() string {
	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	sb.WriteString("/weather - current weather in all tracked cities\n")
	for _, c := range b.cities {
		fmt.Fprintf(&sb, "/weather_%s - weather in %s\n", c.Command, c.DisplayName)
	}
	sb.WriteString("/cities - list tracked cities\n")
	sb.WriteString("/subscribe - receive scheduled weather updates\n")
	sb.WriteString("/unsubscribe - stop receiving updates\n")
	sb.WriteString("/help - show this message")
	return sb.String()
}

func (b *Bot) citiesText() string {
	lines := make([]string, 0, len(b.cities))
	for _, c := range b.cities {
		lines = append(lines, "- "+c.DisplayName)
	}
	return "Tracked cities:\n" + strings.Join(lines, "\n")
}

func (b *Bot) weatherText(ctx context.Context, cities []model.City) string {
	var lines []string
	for _, c := range cities {
		reading, stale, err := b.cache.Get(ctx, c.ID, b.units, false)
		if err != nil && !stale {
			lines = append(lines, fmt.Sprintf("%s: data unavailable", c.DisplayName))
			continue
		}
		line := notify.FormatReading(c.DisplayName, reading)
		if stale {
			line += " (stale)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) setSubscription(ctx context.Context, chatID int64, active bool) string {
	changed, err := b.store.SetTelegramSubscription(ctx, chatID, active)
	if err != nil {
		log.Printf("bot: failed to update subscription for chat %d: %v", chatID, err)
		return "Something went wrong, please try again later."
	}
	switch {
	case active && changed:
		return "You are subscribed to scheduled weather updates."
	case active:
		return "You are already subscribed."
	case changed:
		return "You are unsubscribed from weather updates."
	default:
		return "You were not subscribed."
	}
}
