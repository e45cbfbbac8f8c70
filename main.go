package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"opsvantage/config"
	"opsvantage/engine"
	"opsvantage/routes"
	"opsvantage/utils"
	"opsvantage/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Failed to initialize Sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	clock := engine.SystemClock{}
	scorer := engine.NewScorer(config.AppConfig.ScoreWeights, config.AppConfig.MaxLeadScore)

	var mailer engine.Mailer
	if config.AppConfig.SMTPHost != "" {
		mailer = utils.NewSMTPMailer(&config.AppConfig, logger)
	} else {
		logger.Warn("SMTP not configured, emails go to the log only")
		mailer = &engine.LogMailer{Logger: logger}
	}

	// Wire the engine. The contact service records interactions for both
	// the sequence engine and the dispatcher.
	contacts := engine.NewContactService(config.DB, scorer, clock, logger)
	sequences := engine.NewSequenceEngine(config.DB, clock, mailer, logger)
	sequences.MaxSendAttempts = config.AppConfig.SendMaxAttempts
	sequences.Recorder = contacts
	contacts.Sequences = sequences

	dispatcher := engine.NewDispatcher(config.DB, clock, mailer, logger)
	dispatcher.MaxSendAttempts = config.AppConfig.SendMaxAttempts
	dispatcher.Recorder = contacts

	scheduler := engine.NewScheduler(sequences, logger,
		config.AppConfig.SchedulerWorkers, config.AppConfig.SchedulerBatchSize)

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.NewSequenceWorker(scheduler, config.AppConfig.SchedulerInterval, logger).Start(ctx)
	go worker.NewCampaignWorker(dispatcher, clock, config.AppConfig.SchedulerInterval, logger).Start(ctx)

	app := fiber.New(fiber.Config{
		AppName: "opsvantage-crm",
	})

	routes.SetupRoutes(app, routes.Services{
		DB:         config.DB,
		Contacts:   contacts,
		Sequences:  sequences,
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
	})

	logger.WithField("port", config.AppConfig.ServerPort).Info("Server starting")
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.WithError(err).Fatal("Failed to start server")
	}
}
