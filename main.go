package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"futures-decision-engine/config"
	"futures-decision-engine/internal/api"
	"futures-decision-engine/internal/cache"
	"futures-decision-engine/internal/database"
	"futures-decision-engine/internal/engine"
	"futures-decision-engine/internal/events"
	"futures-decision-engine/internal/logging"
	"futures-decision-engine/internal/notification"
	"futures-decision-engine/internal/vault"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on actual environment variables")
	}

	if len(os.Args) > 1 && os.Args[1] == "--sample-config" {
		if err := config.GenerateSampleConfig("config.sample.json"); err != nil {
			log.Fatalf("Failed to write sample config: %v", err)
		}
		log.Println("Wrote config.sample.json")
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
	})
	logger.Info().Str("level", cfg.Logging.Level).Msg("Structured logging initialized")

	ctx := context.Background()

	// Vault overlays secrets onto the config before anything consumes them.
	vaultClient, err := vault.NewClient(cfg.Vault, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize vault client")
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.Health(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Vault health check failed")
		}
		if err := vaultClient.OverlaySecrets(ctx, cfg); err != nil {
			logger.Fatal().Err(err).Msg("Failed to load secrets from vault")
		}
	}

	// Initialize event bus
	eventBus := events.NewEventBus()

	// Optional decision audit trail.
	var db *database.DB
	var repo *database.Repository
	if cfg.Database.Enabled {
		db, err = database.NewDB(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}

		repo = database.NewRepository(db)
	}

	// Initialize the decision engine
	eng := engine.NewEngine(cfg.Engine, eventBus, logger)
	if repo != nil {
		eng.SetStore(repo)

		// Warm the position sizer from persisted outcome history.
		outcomes, err := repo.RecentOutcomes(ctx, 100)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load outcome history")
		} else {
			eng.RestoreOutcomes(outcomes)
		}
	}

	// Optional Redis-backed protection state, so a restart keeps active
	// pauses and breaker history.
	var cacheSvc *cache.Service
	var stateCache *cache.StateCache
	if cfg.Redis.Enabled {
		cacheSvc, err = cache.NewService(cfg.Redis, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize cache")
		}
		defer cacheSvc.Close()

		stateCache = cache.NewStateCache(cacheSvc, logger)
		snap, ok, err := stateCache.LoadState(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load engine state snapshot")
		} else if ok {
			eng.ImportState(snap)
		}

		setupStateFlush(eventBus, stateCache, eng, logger)
	}

	// Initialize notification manager
	notifyManager := notification.NewManager(cfg.Notification.Enabled)
	if cfg.Notification.Enabled {
		telegramNotifier, err := notification.NewTelegramNotifier(cfg.Notification.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("Telegram notifier unavailable")
		} else if telegramNotifier.IsEnabled() {
			notifyManager.AddNotifier(telegramNotifier)
			logger.Info().Msg("Telegram notifications enabled")
		}

		if cfg.Notification.Discord.Enabled {
			discordNotifier := notification.NewDiscordNotifier(cfg.Notification.Discord)
			if discordNotifier.IsEnabled() {
				notifyManager.AddNotifier(discordNotifier)
				logger.Info().Msg("Discord notifications enabled")
			}
		}

		setupEventNotifications(eventBus, notifyManager, logger)
	}

	// Initialize web server
	server := api.NewServer(cfg.Server, cfg.Auth, eng, repo, cacheSvc, eventBus, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start web server")
		}
	}()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("database", repo != nil).
		Bool("cache", cacheSvc != nil).
		Msg("Decision engine ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down web server")
	}

	// Persist the final engine state so the next boot resumes protection.
	if stateCache != nil {
		if err := stateCache.SaveState(shutdownCtx, eng.ExportState()); err != nil {
			logger.Error().Err(err).Msg("Failed to save final engine state")
		}
	}

	logger.Info().Msg("Shutdown complete")
}

// setupStateFlush persists the engine state whenever a protective layer
// changes, so a crash pause or tripped breaker survives a restart.
func setupStateFlush(eventBus *events.EventBus, stateCache *cache.StateCache, eng *engine.Engine, logger zerolog.Logger) {
	flush := func(events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := stateCache.SaveState(ctx, eng.ExportState()); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush engine state")
		}
	}

	for _, eventType := range []events.EventType{
		events.EventCrashPause,
		events.EventCrashResume,
		events.EventBreakerTripped,
		events.EventBreakerReleased,
		events.EventTradeClosed,
	} {
		eventBus.Subscribe(eventType, flush)
	}
}

// setupEventNotifications forwards protection and decision events to the
// configured notification providers.
func setupEventNotifications(eventBus *events.EventBus, notifyManager *notification.Manager, logger zerolog.Logger) {
	eventBus.Subscribe(events.EventCrashPause, func(event events.Event) {
		crashType, _ := event.Data["crash_type"].(string)
		until, _ := event.Data["paused_until"].(time.Time)

		if err := notifyManager.SendCrashPause(crashType, until); err != nil {
			logger.Warn().Err(err).Msg("Failed to send crash pause notification")
		}
	})

	eventBus.Subscribe(events.EventCrashResume, func(event events.Event) {
		if err := notifyManager.SendCrashResume(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send crash resume notification")
		}
	})

	eventBus.Subscribe(events.EventBreakerTripped, func(event events.Event) {
		reason, _ := event.Data["reason"].(string)

		if err := notifyManager.SendBreakerTripped(reason); err != nil {
			logger.Warn().Err(err).Msg("Failed to send breaker notification")
		}
	})

	eventBus.Subscribe(events.EventBreakerReleased, func(event events.Event) {
		if err := notifyManager.SendBreakerReleased(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send breaker notification")
		}
	})

	eventBus.Subscribe(events.EventTradeClosed, func(event events.Event) {
		symbol, _ := event.Data["symbol"].(string)
		pnl, _ := event.Data["pnl"].(float64)
		pnlPercent, _ := event.Data["pnl_percent"].(float64)
		exitReason, _ := event.Data["exit_reason"].(string)

		if err := notifyManager.SendTradeClosed(symbol, pnl, pnlPercent, exitReason); err != nil {
			logger.Warn().Err(err).Msg("Failed to send trade notification")
		}
	})

	eventBus.Subscribe(events.EventDecision, func(event events.Event) {
		allowed, _ := event.Data["allowed"].(bool)
		if !allowed {
			return
		}

		symbol, _ := event.Data["symbol"].(string)
		direction, _ := event.Data["direction"].(string)
		score, _ := event.Data["score"].(float64)
		entry, _ := event.Data["entry_price"].(float64)
		stopLoss, _ := event.Data["stop_loss"].(float64)
		takeProfit, _ := event.Data["take_profit"].(float64)
		notional, _ := event.Data["notional"].(float64)

		if err := notifyManager.SendDecision(symbol, direction, score, entry, stopLoss, takeProfit, notional); err != nil {
			logger.Warn().Err(err).Msg("Failed to send decision notification")
		}
	})
}
