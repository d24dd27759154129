package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/tradepost/services/item/api"
	"example.com/tradepost/services/item/cache"
	"example.com/tradepost/services/item/eventstore"
	"example.com/tradepost/services/item/handlers"
	"example.com/tradepost/services/item/messaging"
	"example.com/tradepost/services/item/models"
	"example.com/tradepost/services/item/projections"
	"example.com/tradepost/services/item/queries"
	"example.com/tradepost/services/item/replay"
	"example.com/tradepost/services/item/repositories"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Run:   runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) {
	log.Info().Msg("Starting server")

	// Connect to database. TranslateError surfaces unique-constraint
	// violations as gorm.ErrDuplicatedKey, which the event store depends on.
	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Auto migrate tables
	if cfg.EnableMigrations {
		if err := db.AutoMigrate(&models.Event{}, &models.Item{}); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
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

	// Initialize Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	// Initialize projector and command handler. Commands invalidate the
	// Redis cache so reads see their writes immediately.
	var invalidator handlers.CacheInvalidator
	if redisCache != nil && redisCache.Enabled() {
		invalidator = redisCache
	}
	projector := projections.NewItemProjector(itemRepo, esClient, cfg)
	itemHandler := handlers.NewItemHandler(eventStore, projector, invalidator, cfg.CommandMaxAttempts)

	// Initialize query and replay sides
	queryService := queries.NewQueryService(itemRepo, redisCache, esClient, cfg)
	replayEngine := replay.NewEngine(eventStore, itemRepo)

	// Start the command queue consumer when configured
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.AzureQueueConnStr != "" {
		azureClient, err := messaging.NewAzureClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Azure Service Bus")
		}

		msgProcessor := messaging.NewProcessor(itemHandler)
		go func() {
			if err := azureClient.Run(consumerCtx, msgProcessor); err != nil {
				log.Error().Err(err).Msg("Command queue consumer stopped")
			}
		}()
	}

	// Initialize server
	server := api.NewServer(cfg, itemHandler, queryService, replayEngine)

	// Start HTTP server
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop accepting command queue sessions
	stopConsumer()

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis connection")
		}
	}

	log.Info().Msg("Server exited properly")
}
