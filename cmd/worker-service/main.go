package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/echomsg/gifting-be/internal/attachments"
	"github.com/echomsg/gifting-be/internal/broadcast"
	"github.com/echomsg/gifting-be/internal/chat"
	"github.com/echomsg/gifting-be/internal/config"
	"github.com/echomsg/gifting-be/internal/gifting"
	"github.com/echomsg/gifting-be/internal/jobqueue"
	"github.com/echomsg/gifting-be/internal/jobstore"
	"github.com/echomsg/gifting-be/internal/payments"
	"github.com/echomsg/gifting-be/internal/recipients"
	"github.com/echomsg/gifting-be/shared/logger"
	"github.com/echomsg/gifting-be/shared/postgresql"
	"github.com/echomsg/gifting-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ clients. The jobs client consumes announcements
	// from the durable queue; the events client only publishes to the
	// fanout exchange.
	jobsClient, err := initRabbitMQ(&cfg.RabbitMQ, &cfg.RabbitMQ.Jobs, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize jobs RabbitMQ client: %w", err)
	}

	eventsClient, err := initRabbitMQ(&cfg.RabbitMQ, &cfg.RabbitMQ.Events, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize events RabbitMQ client: %w", err)
	}

	appLogger.Info("RabbitMQ connections established")

	// Job persistence and event publishing
	jobStore := jobstore.New(dbClient.GetDB(), appLogger.Logger)
	eventPublisher := jobqueue.NewPublisher(eventsClient, appLogger.Logger)

	// Upstream service clients
	paymentsClient := payments.NewClient(&payments.Config{
		BaseURL: cfg.Payments.BaseURL,
		APIKey:  cfg.Payments.APIKey,
		Timeout: cfg.Payments.Timeout,
	}, appLogger.Logger)

	chatClient := chat.NewClient(&chat.Config{
		BaseURL: cfg.Chat.BaseURL,
		APIKey:  cfg.Chat.APIKey,
		Timeout: cfg.Chat.Timeout,
	}, appLogger.Logger)

	profileStore := recipients.NewStore(dbClient.GetDB(), appLogger.Logger)
	profileFetcher := recipients.NewFetcher(&recipients.FetcherConfig{
		BaseURL: cfg.Recipients.BaseURL,
		APIKey:  cfg.Recipients.APIKey,
		Timeout: cfg.Recipients.Timeout,
	})
	recipientService := recipients.NewService(profileStore, profileFetcher, cfg.Recipients.CacheTTL, appLogger.Logger)

	// Stores the executors read from
	attachmentStore := attachments.NewStore(dbClient.GetDB(), attachments.LocalFS{Root: cfg.Attachments.Root}, appLogger.Logger)
	broadcastStore := broadcast.NewStore(dbClient.GetDB(), appLogger.Logger)

	// Create the job runner and register one executor per job label
	runner := jobqueue.NewRunner(&jobqueue.RunnerConfig{
		Logger:        appLogger.Logger,
		DB:            dbClient,
		Store:         jobStore,
		JobsClient:    jobsClient,
		Events:        eventPublisher,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.Worker.PrefetchCount,
		MaxFailures:   cfg.Worker.MaxFailures,
		JobTimeout:    cfg.Worker.JobTimeout,
		SweepInterval: cfg.Worker.SweepInterval,
	})

	giftExecutor := gifting.NewExecutor(paymentsClient, chatClient, recipientService, eventPublisher, appLogger.Logger)
	if err := runner.Register(giftExecutor); err != nil {
		return fmt.Errorf("failed to register gift executor: %w", err)
	}

	broadcastExecutor := broadcast.NewExecutor(broadcastStore, attachmentStore, chatClient, appLogger.Logger)
	if err := runner.Register(broadcastExecutor); err != nil {
		return fmt.Errorf("failed to register broadcast executor: %w", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Cancel context to stop the runner's consumers and sweeps
	cancel()

	// Give in-flight jobs time to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Job runner stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if jobsClient != nil {
			jobsClient.Close()
		}
		if eventsClient != nil {
			eventsClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes a RabbitMQ client for one broker topology
func initRabbitMQ(cfg *config.RabbitMQConfig, topo *config.TopologyConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       topo.Exchange.Name,
		ExchangeType:       topo.Exchange.Type,
		ExchangeDurable:    topo.Exchange.Durable,
		ExchangeAutoDelete: topo.Exchange.AutoDelete,
		QueueName:          topo.Queue.Name,
		QueueDurable:       topo.Queue.Durable,
		QueueAutoDelete:    topo.Queue.AutoDelete,
		QueueExclusive:     topo.Queue.Exclusive,
		RoutingKey:         topo.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
