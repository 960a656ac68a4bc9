package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dqc/pkg/api"
	"github.com/ethpandaops/dqc/pkg/catalog"
	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/observability"
	"github.com/ethpandaops/dqc/pkg/source"
	"github.com/ethpandaops/dqc/pkg/validation"
)

// Service encapsulates the DQC application
type Service struct {
	config *Config
	log    logrus.FieldLogger

	catalog   *metrics.Catalog
	validator validation.Validator
	api       api.Service

	metricsServer *observability.MetricsServer
	healthServer  *http.Server
}

// NewService creates a new service from a configuration
func NewService(log logrus.FieldLogger, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c, err := catalog.Default()
	if err != nil {
		return nil, err
	}

	registry, err := expectations.Builtin()
	if err != nil {
		return nil, fmt.Errorf("failed to register builtin rules: %w", err)
	}

	resolver := metrics.NewResolver(log, c, cfg.Resolver)
	validator := validation.NewValidator(log, resolver, registry)

	return &Service{
		config:    cfg,
		log:       log,
		catalog:   c,
		validator: validator,
		api:       api.NewService(&cfg.API, validator, c, log),
	}, nil
}

// Catalog returns the metric catalog
func (s *Service) Catalog() *metrics.Catalog {
	return s.catalog
}

// Validator returns the validator
func (s *Service) Validator() validation.Validator {
	return s.validator
}

// ValidateSuite opens the configured source and validates a suite against it
func (s *Service) ValidateSuite(ctx context.Context, suite *expectations.Suite) (*validation.SuiteResult, error) {
	batch, err := source.Open(ctx, s.log, &s.config.Source)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := batch.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close batch")
		}
	}()

	return s.validator.ValidateSuite(ctx, batch.Engine, suite)
}

// Start starts the metrics, health check and API servers
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("Starting DQC service...")

	metricsServer, err := observability.StartMetricsServer(s.log, s.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.metricsServer = metricsServer

	if s.config.HealthCheckAddr != "" {
		s.startHealthCheck()
	}

	if err := s.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API service: %w", err)
	}

	s.log.Info("DQC service started successfully")

	return nil
}

// Stop gracefully shuts down the service
func (s *Service) Stop() error {
	s.log.Info("Shutting down DQC service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error

	if s.api != nil {
		if err := s.api.Stop(); err != nil {
			s.log.WithError(err).Error("Failed to stop API service")
			errs = append(errs, err)
		}
	}

	if err := s.metricsServer.Stop(ctx); err != nil {
		s.log.WithError(err).Error("Failed to stop metrics server")
		errs = append(errs, err)
	}

	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Error("Failed to stop health check server")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Service) startHealthCheck() {
	s.log.WithField("addr", s.config.HealthCheckAddr).Info("Starting health check server")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.healthServer = &http.Server{
		Addr:              s.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Health check server failed")
		}
	}()
}
