package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/tradepost/services/item/config"
	"example.com/tradepost/services/item/handlers"
	"example.com/tradepost/services/item/queries"
	"example.com/tradepost/services/item/replay"
)

// Server is the HTTP server for the API
type Server struct {
	cfg          config.Config
	router       *gin.Engine
	httpServer   *http.Server
	itemHandler  *handlers.ItemHandler
	queryService *queries.QueryService
	replayEngine *replay.Engine
}

// NewServer creates a new API server
func NewServer(cfg config.Config, itemHandler *handlers.ItemHandler, queryService *queries.QueryService, replayEngine *replay.Engine) *Server {
	server := &Server{
		cfg:          cfg,
		router:       gin.New(),
		itemHandler:  itemHandler,
		queryService: queryService,
		replayEngine: replayEngine,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	// Add request ID middleware
	s.router.Use(RequestIDMiddleware())

	// Add CORS middleware
	s.router.Use(CORSMiddleware())

	// Add recovery middleware
	s.router.Use(gin.Recovery())

	// Add logging middleware
	s.router.Use(LoggingMiddleware())
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	// API v1 group
	v1 := s.router.Group("/api/v1")

	// Item routes
	itemRoutes := v1.Group("/items")
	{
		// Command side
		itemRoutes.POST("", s.createItem)
		itemRoutes.PUT("/:id", s.updateItem)
		itemRoutes.PATCH("/:id/status", s.changeItemStatus)
		itemRoutes.DELETE("/:id", s.deleteItem)

		// Query side, served from the read model
		itemRoutes.GET("", s.searchItems)
		itemRoutes.GET("/stats", s.getStats)
		itemRoutes.GET("/owner/:owner_id", s.getItemsByOwner)
		itemRoutes.GET("/:id", s.getItem)

		// Replay side, served from the event log
		itemRoutes.GET("/:id/history", s.getItemHistory)
		itemRoutes.GET("/:id/audit-trail", s.getItemAuditTrail)
		itemRoutes.GET("/:id/time-travel", s.timeTravelItem)
		itemRoutes.POST("/:id/rebuild", s.rebuildItem)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPServerAddress,
		Handler: s.router,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.HTTPServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
