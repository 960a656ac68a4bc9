// Package memory is the in-memory row/column backend: conditions are boolean
// masks evaluated row by row over a column-oriented table.
package memory

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dqc/pkg/backend/rowfilter"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Mask is a boolean indicator aligned with the table rows.
type Mask []bool

// Count returns the number of set rows.
func (m Mask) Count() int {
	count := 0

	for _, set := range m {
		if set {
			count++
		}
	}

	return count
}

// Deferred is the partial function value of this backend.
type Deferred func(ctx context.Context) (any, error)

// Engine evaluates metrics over one table.
type Engine struct {
	log   logrus.FieldLogger
	table *Table
}

var _ metrics.Engine = (*Engine)(nil)

// NewEngine creates an engine over a table
func NewEngine(log logrus.FieldLogger, table *Table) *Engine {
	return &Engine{
		log:   log.WithField("component", "memory_engine"),
		table: table,
	}
}

// Kind returns the backend kind
func (e *Engine) Kind() metrics.Kind { return metrics.KindMemory }

// BatchID returns the table's batch identifier
func (e *Engine) BatchID() string { return e.table.BatchID() }

// CheckDomain rejects row conditions that are not in the hcl dialect or do not
// parse.
func (e *Engine) CheckDomain(domain metrics.Domain) error {
	return rowfilter.CheckDomain(domain)
}

// Table returns the underlying table
func (e *Engine) Table() *Table { return e.table }

// Materialize runs deferred functions in order.
func (e *Engine) Materialize(ctx context.Context, _ metrics.Domain, partials []metrics.Partial) ([]any, error) {
	out := make([]any, len(partials))

	for i, partial := range partials {
		fn, ok := partial.Fn.(Deferred)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected partial %T", metrics.ErrBackendExecution, partial.Fn)
		}

		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}

		out[i] = value
	}

	return out, nil
}

// CountUnexpected counts set rows of a mask.
func (e *Engine) CountUnexpected(_ context.Context, _ metrics.Domain, condition any) (int, error) {
	mask, err := e.mask(condition)
	if err != nil {
		return 0, err
	}

	return mask.Count(), nil
}

// DeferUnexpectedCount defers a mask count.
func (e *Engine) DeferUnexpectedCount(domain metrics.Domain, condition any) (metrics.Partial, error) {
	mask, err := e.mask(condition)
	if err != nil {
		return metrics.Partial{}, err
	}

	return metrics.Partial{
		Domain: domain.Table(),
		Fn: Deferred(func(_ context.Context) (any, error) {
			return mask.Count(), nil
		}),
	}, nil
}

// SelectUnexpected returns set rows in table order.
func (e *Engine) SelectUnexpected(ctx context.Context, _ metrics.Domain, condition any, columns []string, limit int) ([]metrics.IndexedRow, error) {
	mask, err := e.mask(condition)
	if err != nil {
		return nil, err
	}

	return SelectRows(ctx, e.table, mask, 0, columns, limit)
}

func (e *Engine) mask(condition any) (Mask, error) {
	mask, ok := condition.(Mask)
	if !ok {
		return nil, fmt.Errorf("%w: condition is %T, expected a mask", metrics.ErrMetricResolution, condition)
	}

	if len(mask) != e.table.Len() {
		return nil, fmt.Errorf("%w: mask has %d rows, table has %d", metrics.ErrMetricResolution, len(mask), e.table.Len())
	}

	return mask, nil
}

// SelectRows projects the set rows of a mask. offset shifts positional
// indexes for tables that are a slice of a larger frame.
func SelectRows(ctx context.Context, table *Table, mask Mask, offset int, columns []string, limit int) ([]metrics.IndexedRow, error) {
	for _, column := range columns {
		if !table.HasColumn(column) {
			return nil, fmt.Errorf("%w: %w: %s", metrics.ErrMetricResolution, ErrUnknownColumn, column)
		}
	}

	out := make([]metrics.IndexedRow, 0)

	for i, set := range mask {
		if !set {
			continue
		}

		if limit > 0 && len(out) >= limit {
			break
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values := make(map[string]any, len(columns))
		for _, column := range columns {
			values[column], _ = table.Value(i, column)
		}

		index := table.Index(i)
		if position, ok := index.(int); ok && table.KeyColumn() == "" {
			index = position + offset
		}

		out = append(out, metrics.IndexedRow{Index: index, Values: values})
	}

	return out, nil
}
