package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
	"github.com/ethpandaops/dqc/pkg/backend/partitioned"
	"github.com/ethpandaops/dqc/pkg/backend/sqlengine"
	"github.com/ethpandaops/dqc/pkg/clickhouse"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Batch is a loaded batch bound to the engine that evaluates it
type Batch struct {
	Engine metrics.Engine

	closers []func() error
}

// Close releases the connections held by the batch
func (b *Batch) Close() error {
	var errs []error

	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Open loads the configured batch
func Open(ctx context.Context, log logrus.FieldLogger, cfg *Config) (*Batch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source configuration: %w", err)
	}

	log = log.WithFields(logrus.Fields{
		"source": cfg.Type,
		"batch":  cfg.Batch(),
	})

	batch, err := open(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	log.WithField("backend", batch.Engine.Kind()).Info("Opened batch")

	return batch, nil
}

func open(ctx context.Context, log logrus.FieldLogger, cfg *Config) (*Batch, error) {
	switch cfg.Type {
	case TypeCSV, TypeXLSX:
		table, err := readFile(cfg)
		if err != nil {
			return nil, err
		}

		return NewMemoryBatch(log, table, cfg.Partitions)
	case TypeSQLite:
		querier, err := sqlengine.OpenSQLite(cfg.sqliteDSN())
		if err != nil {
			return nil, err
		}

		return sqlBatch(log, cfg, querier, sqlengine.SQLite(), querier.Close), nil
	case TypePostgres:
		querier, err := sqlengine.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}

		return sqlBatch(log, cfg, querier, sqlengine.Postgres(), querier.Close), nil
	case TypeClickHouse:
		client, err := clickhouse.NewClient(log, &clickhouse.Config{
			URL:          cfg.URL,
			Database:     cfg.Database,
			QueryTimeout: cfg.QueryTimeout,
		})
		if err != nil {
			return nil, err
		}

		if err := client.Start(); err != nil {
			return nil, err
		}

		return sqlBatch(log, cfg, client, sqlengine.ClickHouse(), client.Stop), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

func readFile(cfg *Config) (*memory.Table, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Path, err)
	}
	defer f.Close()

	var opts []memory.Option
	if cfg.KeyColumn != "" {
		opts = append(opts, memory.WithKeyColumn(cfg.KeyColumn))
	}

	if cfg.Type == TypeXLSX {
		return ReadXLSX(f, cfg.Sheet, cfg.Batch(), opts...)
	}

	return ReadCSV(f, cfg.Batch(), opts...)
}

// NewMemoryBatch binds an in-memory table to the memory engine, or to the
// partitioned engine when split into more than one partition.
func NewMemoryBatch(log logrus.FieldLogger, table *memory.Table, partitions int) (*Batch, error) {
	if partitions <= 1 {
		return &Batch{Engine: memory.NewEngine(log, table)}, nil
	}

	frame, err := partitioned.Split(table, partitions)
	if err != nil {
		return nil, err
	}

	return &Batch{Engine: partitioned.NewEngine(log, frame, partitions)}, nil
}

func sqlBatch(log logrus.FieldLogger, cfg *Config, querier sqlengine.Querier, dialect sqlengine.Dialect, closer func() error) *Batch {
	var opts []sqlengine.Option
	if cfg.KeyColumn != "" {
		opts = append(opts, sqlengine.WithKeyColumn(cfg.KeyColumn))
	}

	return &Batch{
		Engine:  sqlengine.NewEngine(log, querier, dialect, cfg.Batch(), cfg.Table, opts...),
		closers: []func() error{closer},
	}
}
