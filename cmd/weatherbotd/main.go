package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weather-bot-backend/config"
	"weather-bot-backend/internal/api"
	"weather-bot-backend/internal/bot"
	"weather-bot-backend/internal/db"
	"weather-bot-backend/internal/model"
	"weather-bot-backend/internal/notify"
	"weather-bot-backend/internal/scheduler"
	"weather-bot-backend/internal/store"
	"weather-bot-backend/internal/weather"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "weather-bot ", log.LstdFlags)

	// .env is optional; secrets may also come from the real environment.
	_ = godotenv.Load()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Weather.APIKey == "" {
		logger.Fatalf("weather API key must be configured (weather.api_key or OPENWEATHER_API_KEY)")
	}
	if len(cfg.Weather.Cities) == 0 {
		logger.Fatalf("at least one city must be configured under weather.cities")
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	cities := make([]model.City, 0, len(cfg.Weather.Cities))
	for _, cc := range cfg.Weather.Cities {
		cities = append(cities, model.City{
			ID:          cc.ID,
			DisplayName: cc.Name,
			Query:       cc.Query,
			Command:     cc.Command,
		})
	}
	if err := appStore.SeedCities(ctx, cities); err != nil {
		logger.Fatalf("failed to seed cities: %v", err)
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.Weather.TimeoutSeconds) * time.Second}
	fetcher := weather.NewOpenWeatherFetcher(httpClient, cfg.Weather.APIKey, cfg.Weather.BaseURL)
	weatherCache := weather.NewCache(fetcher, cities, cfg.Weather.CacheTTL)

	// Wire delivery channels. Each channel is optional; the dispatcher only
	// sees the ones that are configured.
	senders := make(map[string]notify.Sender)
	var botSvc *bot.Bot
	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			logger.Fatalf("telegram is enabled but no token is configured (telegram.token or TELEGRAM_BOT_TOKEN)")
		}
		tgSender := notify.NewTelegramSender(httpClient, cfg.Telegram.Token, notify.DefaultTelegramBaseURL)
		senders[model.ChannelTelegram] = tgSender
		botSvc = bot.New(httpClient, cfg.Telegram.Token, notify.DefaultTelegramBaseURL,
			cfg.Telegram.PollTimeoutSeconds, weatherCache, appStore, cfg.Weather.Units, cities)
	}

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		onExpired := func(ctx context.Context, sub model.Subscriber) {
			if err := appStore.DeactivateSubscriber(ctx, sub.ID); err != nil {
				logger.Printf("failed to deactivate expired push subscriber %d: %v", sub.ID, err)
			}
		}
		senders[model.ChannelWebPush] = notify.NewWebPushSender(webpushOptions, onExpired)
	}
	if len(senders) == 0 {
		logger.Println("warning: no delivery channels configured, scheduled runs will record partial outcomes")
	}

	dispatcher := notify.NewDispatcher(senders, cities, cfg.Dispatch.Concurrency)

	sched, err := scheduler.New(cfg, cities, appStore, weatherCache, dispatcher, scheduler.SystemClock{})
	if err != nil {
		logger.Fatalf("failed to initialize scheduler: %v", err)
	}
	go sched.Run(ctx)

	if botSvc != nil {
		go botSvc.Run(ctx)
	}

	// Initialize router
	router := api.NewRouter(&cfg.Server, appStore, weatherCache, webpushOptions, cfg.Weather.Units)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Stop background services first; an in-flight scheduled run gets the
	// configured grace period to finish.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Schedule.ShutdownGrace+5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
