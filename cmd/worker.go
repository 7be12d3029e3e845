package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/messaging"
	"github.com/dangoth/posttrade-poc-sub001/internal/metrics"
	"github.com/dangoth/posttrade-poc-sub001/internal/outbox"
	"github.com/dangoth/posttrade-poc-sub001/internal/repositories"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the outbox publish and retry loops plus the maintenance sweeps`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connection
	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize repositories
	outboxRepo := repositories.NewOutboxRepository(db)
	idempotencyRepo := repositories.NewIdempotencyRepository(db)

	// Initialize the Service Bus publisher
	publisher, err := messaging.NewServiceBusPublisher(cfg.ServiceBus)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// Initialize the outbox services
	processor := outbox.NewProcessor(outboxRepo, publisher, metricsCollector, cfg.Outbox)
	deadLetterService := outbox.NewDeadLetterService(outboxRepo, metricsCollector, cfg.Outbox)

	// Start the publish loop for fresh outbox rows
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Outbox.PublishInterval).Msg("Starting outbox publish loop")
		return processor.RunPublishLoop(ctx)
	})

	// Start the retry loop for previously failed rows
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Outbox.RetryInterval).Msg("Starting outbox retry loop")
		return processor.RunRetryLoop(ctx)
	})

	// Start the maintenance scheduler
	g.Go(func() error {
		log.Info().Msg("Starting maintenance scheduler")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Hourly sweep of aged dead-lettered rows
		_, err = scheduler.NewJob(
			gocron.DurationJob(time.Hour),
			gocron.NewTask(func() {
				if err := deadLetterService.SweepStale(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to sweep stale dead letters")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Daily purge of expired idempotency keys
		_, err = scheduler.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(
				gocron.NewAtTime(uint(cfg.Outbox.IdempotencySweepHour), 0, 0),
			)),
			gocron.NewTask(func() {
				deleted, err := idempotencyRepo.DeleteExpired(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to purge expired idempotency keys")
					return
				}
				log.Info().Int64("deleted", deleted).Msg("Purged expired idempotency keys")
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
