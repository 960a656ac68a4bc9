// Package api provides a REST API for validating inline batches and listing the
// rules and metrics the service supports.
package api

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrAPIAddrRequired       = errors.New("api address is required when API is enabled")
	ErrInvalidRequestTimeout = errors.New("api request timeout must be positive")
	ErrInvalidMaxPartitions  = errors.New("api max partitions must be at least 1")
)

// Config represents API service configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" default:"false"`
	Addr           string        `yaml:"addr" default:":8080" validate:"hostname_port"`
	RequestTimeout time.Duration `yaml:"requestTimeout" default:"30s"`
	MaxPartitions  int           `yaml:"maxPartitions" default:"16"`
}

// Validate validates the API configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Addr == "" {
		return ErrAPIAddrRequired
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}

	if c.MaxPartitions < 1 {
		return ErrInvalidMaxPartitions
	}

	return nil
}
