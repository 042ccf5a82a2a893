package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cubicbyte/dteubot-sub000/internal/app"
	"github.com/cubicbyte/dteubot-sub000/internal/infra/config"
	idb "github.com/cubicbyte/dteubot-sub000/internal/infra/database"
	"github.com/cubicbyte/dteubot-sub000/internal/infra/logger"
	"github.com/cubicbyte/dteubot-sub000/internal/infra/metrics"
	"github.com/cubicbyte/dteubot-sub000/internal/infra/scheduler"
	itelegram "github.com/cubicbyte/dteubot-sub000/internal/infra/telegram"
	"github.com/cubicbyte/dteubot-sub000/internal/infra/timetable"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("dteubot starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Println("FATAL: could not load application configuration:", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Log.WithField("component", "main")
	mainLogger.WithFields(logrus.Fields{
		"log_level":   cfg.LogLevel,
		"environment": cfg.Environment,
		"timezone":    cfg.Timezone,
	}).Info("Configuration loaded")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not load institution timezone")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database and repositories
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	if err := idb.EnsureSchema(db); err != nil {
		mainLogger.WithError(err).Fatal("Could not ensure database schema")
	}
	chatRepo := idb.NewPostgresChatRepository(db)
	mainLogger.Info("Database connection established")

	// Timetable API client
	timetableClient := timetable.NewClient(
		cfg.APIBaseURL,
		cfg.APIRequestTimeout,
		loc,
		logger.Log.WithField("component", "timetable"),
	)

	// Telegram bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.Log.WithField("component", "telebot").WithError(err)
			if c != nil && c.Chat() != nil {
				entry = entry.WithField("chat_id", c.Chat().ID)
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}
	telegramClient := itelegram.NewTelebotAdapter(bot)

	// Services
	notifService := app.NewNotificationService(
		chatRepo,
		timetableClient,
		telegramClient,
		logger.Log.WithField("component", "notification_service"),
		loc,
		cfg.SweepFaultBudget,
		cfg.NotifyRatePerSec,
	)
	settingsService := app.NewSettingsService(
		chatRepo,
		cfg.NotifyOffsetsMin,
		logger.Log.WithField("component", "settings_service"),
	)

	// Offset scheduler: fatal if the call schedule never loads, no jobs can
	// be computed without it.
	notifScheduler := scheduler.NewNotificationScheduler(
		timetableClient,
		notifService,
		logger.Log.WithField("component", "scheduler"),
		cfg.NotifyOffsetsMin,
		loc,
		cfg.CallScheduleRetries,
	)
	if err := notifScheduler.Start(ctx); err != nil {
		mainLogger.WithError(err).Fatal("Could not start notification scheduler")
	}

	// Daily call-schedule refresh
	cronEngine := cron.New(cron.WithLocation(loc))
	if _, err := cronEngine.AddFunc(cfg.RefreshCronSpec, func() {
		refreshCtx, refreshCancel := context.WithTimeout(ctx, time.Minute)
		defer refreshCancel()
		if err := notifScheduler.Refresh(refreshCtx); err != nil {
			mainLogger.WithError(err).Error("Call schedule refresh failed")
		}
	}); err != nil {
		mainLogger.WithError(err).Fatal("Could not add call schedule refresh cron job")
	}
	cronEngine.Start()

	// Metrics endpoint
	var metricsSrv interface{ Shutdown(context.Context) error }
	if cfg.MetricsListenAddr != "" {
		metricsSrv = metrics.Serve(cfg.MetricsListenAddr, logger.Log.WithField("component", "metrics"))
	}

	// Chat handlers
	itelegram.RegisterChatHandlers(ctx, bot, settingsService, logger.Log.WithField("component", "telegram"))

	mainLogger.Info("Application setup complete, starting bot polling")
	go bot.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down application...")
	notifScheduler.Stop()
	<-cronEngine.Stop().Done()
	bot.Stop()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	cancel()
	mainLogger.Info("Application shut down gracefully")
}
