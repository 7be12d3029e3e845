package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/api"
	"github.com/dangoth/posttrade-poc-sub001/internal/cache"
	"github.com/dangoth/posttrade-poc-sub001/internal/messaging"
	"github.com/dangoth/posttrade-poc-sub001/internal/metrics"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
	"github.com/dangoth/posttrade-poc-sub001/internal/outbox"
	"github.com/dangoth/posttrade-poc-sub001/internal/projections"
	"github.com/dangoth/posttrade-poc-sub001/internal/repositories"
	"github.com/dangoth/posttrade-poc-sub001/internal/search"
	"github.com/dangoth/posttrade-poc-sub001/internal/services"
	"github.com/dangoth/posttrade-poc-sub001/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to handle trade commands and admin requests`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connection
	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return err
	}

	// Initialize Elasticsearch client
	var elasticClient *search.ElasticClient
	if cfg.Elastic.Enabled {
		elasticClient, err = search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
			elasticClient = nil
		}
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize repositories and services
	router := messaging.NewTopicRouter(cfg.ServiceBus)
	eventStore := repositories.NewEventStoreRepository(db)

	var projection repositories.Projection
	if redisCache != nil || elasticClient != nil {
		projection = projections.NewTradeProjection(redisCache, elasticClient)
	}

	tradeRepo := repositories.NewTradeRepository(db, eventStore, router, projection,
		cfg.Outbox.SnapshotFrequency, cfg.Outbox.PartitionCount)
	idempotencyRepo := repositories.NewIdempotencyRepository(db)
	outboxRepo := repositories.NewOutboxRepository(db)

	commandService := services.NewTradeCommandService(tradeRepo, idempotencyRepo, metricsCollector, tracer)
	deadLetterService := outbox.NewDeadLetterService(outboxRepo, metricsCollector, cfg.Outbox)

	// Initialize and start the server
	server := api.NewServer(cfg, commandService, tradeRepo, eventStore, deadLetterService, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

// initDatabase opens the write connection, runs migrations and configures the
// pool. TranslateError is required so unique violations surface as
// gorm.ErrDuplicatedKey, which the event store maps to concurrency conflicts.
func initDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}

	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	if cfg.DB.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}
