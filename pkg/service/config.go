// Package service wires the metric resolver, the rule registry, batch sources
// and the HTTP API into the DQC service.
package service

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/dqc/pkg/api"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/source"
)

// ErrInvalidLogging is returned when the logging level cannot be parsed
var ErrInvalidLogging = errors.New("invalid logging level")

// Config represents the complete service configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`

	// Metric resolution
	Resolver metrics.ResolverConfig `yaml:"resolver"`

	// Batch source used by the validate command
	Source source.Config `yaml:"source"`

	// API service configuration
	API api.Config `yaml:"api"`
}

// Validate validates the configuration. The source is validated when opened,
// so a serving-only config does not need one.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogging, c.Logging)
	}

	if err := c.Resolver.Validate(); err != nil {
		return err
	}

	return c.API.Validate()
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults. A .env file in the working directory is loaded first so source
// connection strings can be overridden from the environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := &Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	if path != "" {
		yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}

		if err == nil {
			if err := yaml.Unmarshal(yamlFile, config); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	config.Source.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
