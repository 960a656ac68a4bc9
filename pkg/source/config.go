// Package source loads batches from files and databases and binds them to a
// backend engine.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment overrides for connection strings
const (
	EnvSourceDSN = "DQC_SOURCE_DSN"
	EnvSourceURL = "DQC_SOURCE_URL"
)

// Static errors for configuration validation
var (
	ErrUnknownType       = errors.New("unknown source type")
	ErrPathRequired      = errors.New("source path is required")
	ErrTableRequired     = errors.New("source table is required")
	ErrDSNRequired       = errors.New("source dsn is required")
	ErrURLRequired       = errors.New("source url is required")
	ErrInvalidPartitions = errors.New("partitions must be at least 1")
	ErrPartitionedSQL    = errors.New("partitions only apply to file sources")
)

// Type names where a batch is read from
type Type string

// Source types
const (
	TypeCSV        Type = "csv"
	TypeXLSX       Type = "xlsx"
	TypeSQLite     Type = "sqlite"
	TypePostgres   Type = "postgres"
	TypeClickHouse Type = "clickhouse"
)

// File reports whether batches of this type are loaded into memory.
func (t Type) File() bool {
	return t == TypeCSV || t == TypeXLSX
}

// Config describes where a batch comes from
type Config struct {
	Type Type `yaml:"type" default:"csv"`

	// File sources
	Path  string `yaml:"path"`
	Sheet string `yaml:"sheet"`

	// Database sources
	Table        string        `yaml:"table"`
	DSN          string        `yaml:"dsn"`
	URL          string        `yaml:"url"`
	Database     string        `yaml:"database"`
	QueryTimeout time.Duration `yaml:"queryTimeout" default:"30s"`

	// BatchID names the batch, defaulting to the table or file name
	BatchID    string `yaml:"batchId"`
	KeyColumn  string `yaml:"keyColumn"`
	Partitions int    `yaml:"partitions" default:"1"`
}

// ApplyEnv overrides connection strings from the environment
func (c *Config) ApplyEnv() {
	if dsn := os.Getenv(EnvSourceDSN); dsn != "" {
		c.DSN = dsn
	}

	if url := os.Getenv(EnvSourceURL); url != "" {
		c.URL = url
	}
}

// Validate validates the source configuration
func (c *Config) Validate() error {
	if c.Partitions < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPartitions, c.Partitions)
	}

	if c.Partitions > 1 && !c.Type.File() {
		return fmt.Errorf("%w: %s", ErrPartitionedSQL, c.Type)
	}

	switch c.Type {
	case TypeCSV, TypeXLSX:
		if c.Path == "" {
			return ErrPathRequired
		}
	case TypeSQLite:
		if c.DSN == "" && c.Path == "" {
			return ErrDSNRequired
		}
	case TypePostgres:
		if c.DSN == "" {
			return ErrDSNRequired
		}
	case TypeClickHouse:
		if c.URL == "" {
			return ErrURLRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
	}

	if !c.Type.File() && c.Table == "" {
		return ErrTableRequired
	}

	return nil
}

// Batch returns the batch identifier
func (c *Config) Batch() string {
	switch {
	case c.BatchID != "":
		return c.BatchID
	case c.Table != "":
		return c.Table
	default:
		base := filepath.Base(c.Path)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
}

func (c *Config) sqliteDSN() string {
	if c.DSN != "" {
		return c.DSN
	}

	return c.Path
}
