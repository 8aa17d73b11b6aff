package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucasepe/codename"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	discordclient "athena/clients/discord"
	"athena/clients/geonet"
	"athena/config"
	"athena/db"
	"athena/dice"
	"athena/handlers"
	"athena/middleware"
	"athena/services/reminders"
	"athena/services/scopelock"
	"athena/services/state"
	"athena/services/txmanager"
	"athena/usecases/commands"
	"athena/usecases/dispatch"
	"athena/utils"
)

const (
	appName       = "athena"
	drainTimeout  = 5 * time.Second
	startupBudget = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("❌ Fatal error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	instance := instanceName()
	configureLogging(cfg, instance)
	log.Info().Str("environment", cfg.Environment).Msg("🚀 Starting athena")

	instanceLock, err := utils.NewInstanceLock(cfg.InstanceLockDir, appName+"-"+cfg.Environment)
	if err != nil {
		return err
	}
	if err := instanceLock.TryLock(); err != nil {
		return err
	}
	defer func() {
		if err := instanceLock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to release instance lock")
		}
	}()

	alertMiddleware := middleware.NewErrorAlertMiddleware(middleware.SlackAlertConfig{
		WebhookURL:  cfg.AlertConfig.WebhookURL,
		Environment: cfg.Environment,
		AppName:     appName,
		Instance:    instance,
	})
	defer alertMiddleware.Flush()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupBudget)
	defer cancelStartup()

	dbConn, err := db.NewConnection(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := db.EnsureSchema(startupCtx, dbConn, cfg.DatabaseSchema); err != nil {
		return err
	}

	recordsRepo := db.NewPostgresRecordsRepository(dbConn, cfg.DatabaseSchema)
	processedRepo := db.NewPostgresProcessedInteractionsRepository(cfg.DatabaseSchema)
	txManager := txmanager.NewTransactionManager(dbConn)
	stateService := state.NewStateService(recordsRepo, processedRepo, txManager)
	locks := scopelock.NewManager()

	discordClient := discordclient.NewClient(cfg.DiscordConfig.APIURL, cfg.DiscordConfig.BotToken)
	quakeClient := geonet.NewGeoNetClient(nil, "")

	scheduler := reminders.NewScheduler(stateService, locks, discordClient, alertMiddleware, cfg.ReminderWorkers)
	commandsUseCase := commands.NewCommandsUseCase(quakeClient, scheduler, dice.RandRoller{})

	registry, err := dispatch.NewRegistry(commandsUseCase.Descriptors()...)
	if err != nil {
		return err
	}
	dispatcher := dispatch.NewDispatcher(registry, locks, stateService, discordClient, alertMiddleware, cfg.HandlerTimeout)

	if err := scheduler.Start(startupCtx); err != nil {
		return err
	}

	eventsHandler, err := handlers.NewDiscordEventsHandler(
		cfg.DiscordConfig.BotToken,
		discordClient,
		dispatcher,
		commands.ApplicationCommands(),
		alertMiddleware,
	)
	if err != nil {
		scheduler.Stop()
		return err
	}
	if err := eventsHandler.StartBot(); err != nil {
		scheduler.Stop()
		return err
	}

	log.Info().Strs("commands", registry.CommandNames()).Msg("✅ athena is running")
	return handleGracefulShutdown(eventsHandler, dispatcher, scheduler)
}

func handleGracefulShutdown(
	eventsHandler *handlers.DiscordEventsHandler,
	dispatcher *dispatch.Dispatcher,
	scheduler *reminders.Scheduler,
) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sig := <-stop
	log.Info().Stringer("signal", sig).Msg("🛑 Shutdown signal received, cleaning up...")

	if err := eventsHandler.StopBot(); err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to close Discord gateway cleanly")
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("⚠️ Some interactions were still running at shutdown")
	}

	scheduler.Stop()
	log.Info().Msg("✅ athena stopped gracefully")
	return nil
}

func configureLogging(cfg *config.AppConfig, instance string) {
	zerolog.SetGlobalLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(os.Stderr)
	if cfg.Environment == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	log.Logger = logger.With().Timestamp().Str("instance", instance).Logger()
}

// instanceName is a memorable per-process name attached to every log line and alert
func instanceName() string {
	rng, err := codename.DefaultRNG()
	if err != nil {
		return fmt.Sprintf("pid-%d", os.Getpid())
	}
	return codename.Generate(rng, 0)
}
