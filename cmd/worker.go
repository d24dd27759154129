package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/tradepost/services/item/eventstore"
	"example.com/tradepost/services/item/models"
	"example.com/tradepost/services/item/projections"
	"example.com/tradepost/services/item/replay"
	"example.com/tradepost/services/item/repositories"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the projection worker",
	Long:  `Start the background worker that projects unprocessed events into the read model and repairs drifted aggregates`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting worker")

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{TranslateError: true})
	if err != nil {
		return err
	}

	// Auto migrate tables
	if cfg.EnableMigrations {
		if err := db.AutoMigrate(&models.Event{}, &models.Item{}); err != nil {
			return err
		}
	}

	// Initialize event store and read model
	eventStore := eventstore.NewGormEventStore(db)
	itemRepo := repositories.NewGormItemRepository(db)

	// Initialize Elasticsearch client
	var esClient *elasticsearch.Client
	if cfg.ElasticSearchEnabled {
		esClient, err = projections.NewElasticsearchClient(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch, continuing without search indexing")
			esClient = nil
		} else if err := projections.EnsureIndices(esClient, cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to ensure Elasticsearch indices")
		}
	}

	// Initialize projector and replay engine
	projector := projections.NewItemProjector(itemRepo, esClient, cfg)
	replayEngine := replay.NewEngine(eventStore, itemRepo)

	// Start the event processor
	processor := projections.NewEventProcessor(eventStore, projector, cfg.ProjectionBatchSize, cfg.ProjectionInterval)
	g.Go(func() error {
		processor.Start()
		<-ctx.Done()
		processor.Stop()
		return nil
	})

	// Start the repair cron job; it rebuilds aggregates whose projections
	// recorded failures
	g.Go(func() error {
		log.Info().Msg("Starting projection repair cron job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.RepairInterval),
			gocron.NewTask(func() {
				log.Info().Msg("Running projection repair job")
				if err := replayEngine.RepairFailed(ctx, 100); err != nil {
					log.Error().Err(err).Msg("Failed to repair projections")
				}
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

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
