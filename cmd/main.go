package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/arbwatch/api"
	"github.com/suwandre/arbwatch/config"
	"github.com/suwandre/arbwatch/internal/alert"
	"github.com/suwandre/arbwatch/internal/arbitrage"
	rediscache "github.com/suwandre/arbwatch/internal/cache/redis"
	"github.com/suwandre/arbwatch/internal/exchange"
	"github.com/suwandre/arbwatch/internal/notify"
	"github.com/suwandre/arbwatch/internal/retry"
	"github.com/suwandre/arbwatch/internal/scheduler"
	"github.com/suwandre/arbwatch/internal/store"
	"github.com/suwandre/arbwatch/internal/store/memory"
	"github.com/suwandre/arbwatch/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a TOML config file")
	flag.Parse()

	// ── 1. Logger setup
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// ── 2. Root context setup
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── 3. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	log.Info().
		Strs("symbols", cfg.Collector.Symbols).
		Strs("exchanges", cfg.Collector.Exchanges).
		Msg("config loaded")

	// ── 4. Persistence
	st := openStore(ctx, cfg)
	defer st.Close()

	// ── 5. Alerting
	limiter, closeLimiter := openLimiter(ctx, cfg)
	defer closeLimiter()

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders...)
	log.Info().Int("senders", notifier.Senders()).Msg("notifier initialized")

	dispatcher := alert.NewDispatcher(notifier, st, cfg.Alerts.QueueSize, cfg.Alerts.Workers)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	gate := alert.NewGate(st, limiter, cfg.Alerts.RateWindow.Duration, cfg.Alerts.HourlyCap)

	// ── 6. Exchange adapters
	policy := retry.NewPolicy(cfg.Collector.MaxRetries, cfg.Collector.RetryDelay.Duration)
	var exchanges []exchange.Exchange
	for _, name := range cfg.Collector.Exchanges {
		ov := cfg.ExchangeOverrides(name)
		ex, err := exchange.New(name, exchange.Options{
			Quote:          cfg.Collector.Quote,
			APIKey:         ov.APIKey,
			Endpoints:      ov.Endpoints,
			QuoteFallbacks: ov.QuoteFallbacks,
			DepthLimit:     cfg.Collector.OrderBookDepth,
			Timeout:        cfg.Collector.RequestTimeout.Duration,
			Retry:          policy,
			BatchSize:      cfg.Collector.BatchSize,
			BatchDelay:     cfg.Collector.BatchDelay.Duration,
			MinSpreadPct:   cfg.Collector.MinSpreadPct,
		})
		if err != nil {
			log.Fatal().Err(err).Str("exchange", name).Msg("failed to build exchange adapter")
		}
		exchanges = append(exchanges, ex)
	}
	log.Info().Int("count", len(exchanges)).Msg("exchange adapters initialized")

	// ── 7. Engine + Scheduler
	engine := arbitrage.NewEngine(st, gate, dispatcher, cfg.Arbitrage.Threshold)
	sched := scheduler.New(exchanges, engine, st, scheduler.Config{
		Symbols:       cfg.Collector.Symbols,
		Interval:      cfg.Collector.Interval.Duration,
		CycleTimeout:  cfg.Collector.CycleTimeout.Duration,
		ShutdownGrace: cfg.Collector.ShutdownGrace.Duration,
	})

	if err := sched.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("startup checks failed")
	}
	// Stop owns cancellation so an in-flight cycle gets its grace period.
	sched.Start(context.WithoutCancel(ctx))
	defer sched.Stop()

	// ── 8. Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Arbwatch",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	// ── 9. Routes
	api.SetupRoutes(app, sched, engine)

	// ── 10. Graceful shutdown listener
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	// ── 11. Start server (blocking)
	log.Info().Str("port", cfg.AppPort).Msg("starting server")
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}

func openStore(ctx context.Context, cfg *config.Config) store.Store {
	if cfg.Store.Driver == "memory" {
		log.Warn().Msg("using in-memory store, nothing is persisted")
		// One local subscriber so dry runs exercise the alert path.
		return memory.New(1)
	}

	client, err := postgres.NewClient(ctx, postgres.ClientConfig{
		DSN:      cfg.Store.DatabaseURL,
		MaxConns: cfg.Store.MaxConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("persistence unreachable")
	}
	if cfg.Store.RunMigrations {
		if err := client.RunMigrations(ctx); err != nil {
			client.Close()
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}
	log.Info().Msg("postgres connected")
	return postgres.NewStore(client)
}

func openLimiter(ctx context.Context, cfg *config.Config) (alert.Limiter, func()) {
	if cfg.Redis.Addr == "" {
		lim := alert.NewMemoryLimiter()
		sweepCtx, cancel := context.WithCancel(ctx)
		go func() {
			ticker := time.NewTicker(cfg.Alerts.RateWindow.Duration)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					lim.Sweep()
				case <-sweepCtx.Done():
					return
				}
			}
		}()
		return lim, cancel
	}

	client, err := rediscache.New(ctx, rediscache.ClientConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis unreachable")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("redis rate limiter connected")
	return rediscache.NewAlertLimiter(client), func() { _ = client.Close() }
}
