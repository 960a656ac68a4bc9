package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dqc/pkg/api/handlers"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/validation"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app       *fiber.App
	server    *http.Server
	config    *Config
	validator validation.Validator
	catalog   *metrics.Catalog
	log       logrus.FieldLogger
}

// NewService creates a new API service
func NewService(cfg *Config, validator validation.Validator, catalog *metrics.Catalog, log logrus.FieldLogger) Service {
	return &service{
		config:    cfg,
		validator: validator,
		catalog:   catalog,
		log:       log.WithField("service", "api"),
	}
}

// NewApp builds the Fiber app serving the API routes
func NewApp(cfg *Config, validator validation.Validator, catalog *metrics.Catalog, log logrus.FieldLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "DQC API",
	})

	setupMiddleware(app, log)

	server := handlers.NewServer(validator, catalog, cfg.RequestTimeout, cfg.MaxPartitions, log)

	apiV1 := app.Group("/api/v1")
	apiV1.Post("/validate", server.Validate)
	apiV1.Get("/expectations", server.ListExpectations)
	apiV1.Get("/metrics", server.ListMetrics)

	return app
}

// Start initializes and starts the API server
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")
		return nil
	}

	s.app = NewApp(s.config, s.validator, s.catalog, s.log)

	// Create HTTP server with the Fiber app
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(s.app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
