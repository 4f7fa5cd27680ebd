package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/echomsg/gifting-be/internal/api/handler"
	"github.com/echomsg/gifting-be/internal/api/router"
	"github.com/echomsg/gifting-be/internal/attachments"
	"github.com/echomsg/gifting-be/internal/broadcast"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
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

	// Initialize RabbitMQ clients. Jobs ride a durable queue; events fan
	// out to a server-named exclusive queue owned by this process.
	jobsClient, err := initRabbitMQ(&cfg.RabbitMQ, &cfg.RabbitMQ.Jobs, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize jobs RabbitMQ client: %w", err)
	}

	eventsClient, err := initRabbitMQ(&cfg.RabbitMQ, &cfg.RabbitMQ.Events, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize events RabbitMQ client: %w", err)
	}

	appLogger.Info("RabbitMQ connections established",
		slog.String("events_queue", eventsClient.QueueName()),
	)

	// Job persistence and enqueue path
	jobStore := jobstore.New(dbClient.GetDB(), appLogger.Logger)
	jobQueue := jobqueue.NewQueue(dbClient, jobStore, jobsClient, appLogger.Logger)

	// Event fan-in: one consumer per process feeding in-memory observers
	observers := jobqueue.NewObservers(appLogger.Logger)
	eventConsumer := jobqueue.NewEventConsumer(eventsClient, observers, appLogger.Logger)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	go func() {
		if err := eventConsumer.Run(consumerCtx); err != nil {
			appLogger.Error("Event consumer exited",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	// Upstream service clients
	paymentsClient := payments.NewClient(&payments.Config{
		BaseURL: cfg.Payments.BaseURL,
		APIKey:  cfg.Payments.APIKey,
		Timeout: cfg.Payments.Timeout,
	}, appLogger.Logger)

	profileStore := recipients.NewStore(dbClient.GetDB(), appLogger.Logger)
	profileFetcher := recipients.NewFetcher(&recipients.FetcherConfig{
		BaseURL: cfg.Recipients.BaseURL,
		APIKey:  cfg.Recipients.APIKey,
		Timeout: cfg.Recipients.Timeout,
	})
	recipientService := recipients.NewService(profileStore, profileFetcher, cfg.Recipients.CacheTTL, appLogger.Logger)

	// Gift donation flow
	giftFlow := gifting.NewFlow(gifting.FlowConfig{
		Recipients: recipientService,
		Jobs:       jobStore,
		Payments:   paymentsClient,
		Queue:      jobQueue,
		Observers:  observers,
		WaitBudget: cfg.Gifting.WaitBudget,
		Logger:     appLogger.Logger,
	})

	// Attachment storage and broadcast creation
	attachmentStore := attachments.NewStore(dbClient.GetDB(), attachments.LocalFS{Root: cfg.Attachments.Root}, appLogger.Logger)
	broadcastStore := broadcast.NewStore(dbClient.GetDB(), appLogger.Logger)
	broadcastService := broadcast.NewService(dbClient, broadcastStore, attachmentStore, jobQueue, appLogger.Logger)

	// Initialize router
	handlerDeps := &handler.Dependencies{
		Logger:      appLogger.Logger,
		DB:          dbClient,
		Broker:      jobsClient,
		Flow:        giftFlow,
		Broadcasts:  broadcastService,
		Attachments: attachmentStore,
		Jobs:        jobStore,
		Queue:       jobQueue,
	}
	r := initRouter(cfg.App.Environment, handlerDeps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		consumerCancel()
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
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
