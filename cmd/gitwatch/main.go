package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/gitwatch/internal/config"
	"github.com/user/gitwatch/internal/github"
	"github.com/user/gitwatch/internal/notifier"
	"github.com/user/gitwatch/internal/server"
	"github.com/user/gitwatch/internal/storage"
	"github.com/user/gitwatch/internal/telegram"
	"github.com/user/gitwatch/internal/watch"
	"github.com/user/gitwatch/pkg/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting GitWatch")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	store := storage.NewSubscriptionStore(db)
	logger.Info().Str("driver", db.Driver()).Msg("Database initialized")

	// Initialize GitHub client
	ghClient, err := github.NewClient(cfg.GitHub.APIURL, cfg.Poll.PageSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize GitHub client")
	}

	// Initialize Telegram
	api, err := telegram.NewAPI(cfg.Telegram.Token, "", cfg.Telegram.Debug, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}
	notify := notifier.NewNotifier(telegram.NewSender(api, cfg.Telegram.RateLimit))

	var hook github.HookConfig
	if cfg.WebhooksEnabled() {
		hook = github.HookConfig{URL: cfg.GitHub.WebhookURL, Secret: cfg.GitHub.WebhookSecret}
	} else {
		logger.Warn().Msg("github.webhook_url or github.webhook_secret not set, new watches will be polled")
	}
	svc := watch.NewService(store, ghClient, hook)
	bot := telegram.NewBot(api, telegram.NewHandlers(api, svc, cfg.LinkURLFor))

	poller := github.NewPoller(ghClient, store, notify, github.PollerConfig{
		Interval:        cfg.Poll.Interval,
		MaxPerCycle:     cfg.Poll.MaxPerCycle,
		BatchSize:       cfg.Poll.BatchSize,
		DefaultLookback: cfg.Poll.DefaultLookback,
		CycleTimeout:    cfg.Poll.CycleTimeout,
		LeaseTTL:        cfg.Poll.LeaseTTL,
	})
	if cfg.Poll.CronSecret == "" {
		logger.Warn().Msg("poll.cron_secret not set, the poll trigger endpoint will refuse requests")
	}

	router := server.NewRouter(server.Routes{
		Webhook:     github.NewWebhookHandler(cfg.GitHub.WebhookSecret, store, notify),
		PollTrigger: poller.TriggerHandler(cfg.Poll.CronSecret),
		DB:          db,
	})
	srv := server.New(cfg.ServerAddress(), router)

	srv.Start()
	poller.Start()
	bot.Start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bot.Stop()
	poller.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}
