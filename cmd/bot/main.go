package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"straddlebot/internal/api"
	"straddlebot/internal/broker"
	"straddlebot/internal/calendar"
	"straddlebot/internal/config"
	"straddlebot/internal/marketdata"
	"straddlebot/internal/notify"
	"straddlebot/internal/retry"
	"straddlebot/internal/storage"
	"straddlebot/internal/straddle"
)

const shutdownGrace = 30 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)
	apiLogger := newAPILogger(cfg.Environment.LogLevel)

	store, err := storage.NewGormStorage(cfg.Database.ConnString())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Per-user order clients come from the trading_account table; every one
	// is wrapped in a circuit breaker.
	brokers := broker.NewFactory(store, cfg.Broker.BaseURL, cfg.BrokerTimeout(),
		func(b broker.Broker) broker.Broker {
			return broker.NewCircuitBreakerBroker(b)
		})

	// The shared market-data session is independent of any user account.
	quoteClient := broker.NewKiteAPIWithTimeout(cfg.Broker.BaseURL,
		cfg.Broker.APIKey, cfg.Broker.AccessToken, cfg.BrokerTimeout())
	restQuotes := retry.NewProvider(
		marketdata.NewBrokerProvider(broker.NewCircuitBreakerBroker(quoteClient)), logger)

	var quotes marketdata.Provider = restQuotes
	var feed *marketdata.StreamFeed
	if cfg.MarketData.Source == "stream" {
		dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		feed, err = marketdata.NewStreamFeed(dialCtx, cfg.MarketData.WSURL, nil)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to connect to quote stream: %v", err)
		}
		quotes = marketdata.NewStreamProvider(feed, restQuotes)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notifications.Enabled {
		notifier = notify.NewEmailNotifier(cfg.Notifications.APIURL,
			cfg.Notifications.APIKey, cfg.Notifications.From, cfg.BrokerTimeout())
	}

	cal := calendar.NewClient(cfg.Calendar.BaseURL, cfg.BrokerTimeout())

	scheduler := straddle.NewScheduler(store, brokers, quotes, notifier, cal, logger,
		straddle.EngineConfig{Location: cfg.Location()}, cfg.MaxConcurrentRuns())

	server := api.NewServer(api.Config{
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
	}, store, scheduler, apiLogger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("API server error: %v", err)
		}
	}()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Give the database and broker session time to settle before arming the
	// day's entry timers.
	logger.Printf("Warming up for %s before arming daily runs", cfg.WarmupDelay())
	select {
	case <-rootCtx.Done():
		logger.Println("Shutdown during warm-up")
	case <-time.After(cfg.WarmupDelay()):
		if err := scheduler.ArmDailyRuns(rootCtx); err != nil {
			logger.Printf("Failed to arm daily runs: %v", err)
		}
		<-rootCtx.Done()
	}

	logger.Println("Shutdown signal received, draining runs...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("API server shutdown: %v", err)
	}
	cancel()

	scheduler.Shutdown(shutdownGrace)

	if feed != nil {
		if err := feed.Close(); err != nil {
			logger.Printf("Quote stream close: %v", err)
		}
	}

	logger.Println("Bot stopped")
}

func newAPILogger(level string) *logrus.Logger {
	logger := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
