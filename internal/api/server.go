package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/api/handlers"
	"github.com/dangoth/posttrade-poc-sub001/internal/contracts"
	"github.com/dangoth/posttrade-poc-sub001/internal/metrics"
	"github.com/dangoth/posttrade-poc-sub001/internal/outbox"
	"github.com/dangoth/posttrade-poc-sub001/internal/services"
	"github.com/dangoth/posttrade-poc-sub001/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config      config.Config
	router      *gin.Engine
	httpServer  *http.Server
	commands    *services.TradeCommandService
	trades      services.TradeStore
	events      handlers.EventReader
	deadLetters *outbox.DeadLetterService
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	commands *services.TradeCommandService,
	trades services.TradeStore,
	events handlers.EventReader,
	deadLetters *outbox.DeadLetterService,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:      cfg,
		commands:    commands,
		trades:      trades,
		events:      events,
		deadLetters: deadLetters,
		metrics:     collector,
		tracer:      tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:        cfg.ServerAddress,
		Handler:     router,
		ReadTimeout: cfg.ServerTimeout,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(gin.Recovery())

	tradeHandler := handlers.NewTradeHandler(s.commands, s.trades, s.events, contracts.NewRegistry(), s.tracer)
	tradeHandler.RegisterRoutes(router)

	adminHandler := handlers.NewAdminHandler(s.deadLetters, s.tracer)
	adminHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
