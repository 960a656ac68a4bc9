// Package handlers implements the request handlers of the DQC API.
package handlers

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/validation"
)

// Server serves the API routes
type Server struct {
	validator      validation.Validator
	catalog        *metrics.Catalog
	requestTimeout time.Duration
	maxPartitions  int
	log            logrus.FieldLogger
}

// NewServer creates a new API server instance
func NewServer(validator validation.Validator, catalog *metrics.Catalog, requestTimeout time.Duration, maxPartitions int, log logrus.FieldLogger) *Server {
	return &Server{
		validator:      validator,
		catalog:        catalog,
		requestTimeout: requestTimeout,
		maxPartitions:  maxPartitions,
		log:            log.WithField("component", "api.handlers"),
	}
}
