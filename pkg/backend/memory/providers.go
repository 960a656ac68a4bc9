package memory

import (
	"context"
	"fmt"

	"github.com/ethpandaops/dqc/pkg/backend/predicate"
	"github.com/ethpandaops/dqc/pkg/backend/rowfilter"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// ColumnAggregates are the column aggregate metrics computed in process.
func ColumnAggregates() []string {
	return []string{
		metrics.ColumnMin,
		metrics.ColumnMax,
		metrics.ColumnSum,
		metrics.ColumnMean,
		metrics.ColumnMedian,
		metrics.ColumnStandardDeviation,
	}
}

// Register adds the memory backend providers to a catalog.
func Register(c *metrics.Catalog) error {
	kind := metrics.KindMemory
	filtered := []string{metrics.TableRowFilter}

	providers := []metrics.Provider{
		{
			Name:     metrics.TableColumns,
			Strategy: metrics.StrategyDirect,
			Compute:  computeColumns,
		},
		{
			Name:     metrics.TableRowFilter,
			Strategy: metrics.StrategyDirect,
			Compute:  computeRowFilter,
		},
		{
			Name:         metrics.TableRowCount,
			Strategy:     metrics.StrategyDirect,
			Requires:     filtered,
			Dependencies: metrics.ComputeDomainDependency,
			Compute:      computeRowCount,
		},
	}

	for _, name := range ColumnAggregates() {
		providers = append(providers, metrics.Provider{
			Name:         name,
			Strategy:     metrics.StrategyDirect,
			Requires:     filtered,
			Dependencies: metrics.ComputeDomainDependency,
			Compute:      computeAggregate(name),
		})
	}

	for _, p := range providers {
		if err := c.Register(kind, p); err != nil {
			return err
		}
	}

	for _, base := range metrics.MapBases() {
		err := metrics.RegisterMapMetric(c, kind, metrics.MapMetric{
			Base:         base,
			Requires:     filtered,
			Dependencies: metrics.ComputeDomainDependency,
			Condition:    computeCondition(base),
		}, metrics.CountDirect)
		if err != nil {
			return err
		}
	}

	return nil
}

func engineOf(in *metrics.Inputs) (*Engine, error) {
	engine, ok := in.Engine.(*Engine)
	if !ok {
		return nil, fmt.Errorf("%w: memory provider on %T", metrics.ErrMetricResolution, in.Engine)
	}

	return engine, nil
}

// domainRows returns the row filter of a filtered domain, nil for all rows.
func domainRows(in *metrics.Inputs) (Mask, error) {
	rows, _, err := metrics.OptionalInput[Mask](in, metrics.RoleComputeDomain)
	return rows, err
}

func computeColumns(_ context.Context, in *metrics.Inputs) (any, error) {
	engine, err := engineOf(in)
	if err != nil {
		return nil, err
	}

	return engine.table.Columns(), nil
}

func computeRowFilter(ctx context.Context, in *metrics.Inputs) (any, error) {
	engine, err := engineOf(in)
	if err != nil {
		return nil, err
	}

	return FilterMask(ctx, engine.table, in.Config.Domain())
}

func computeRowCount(_ context.Context, in *metrics.Inputs) (any, error) {
	engine, err := engineOf(in)
	if err != nil {
		return nil, err
	}

	rows, err := domainRows(in)
	if err != nil {
		return nil, err
	}

	if rows == nil {
		return engine.table.Len(), nil
	}

	return rows.Count(), nil
}

func computeCondition(base string) metrics.ComputeFunc {
	return func(ctx context.Context, in *metrics.Inputs) (any, error) {
		engine, err := engineOf(in)
		if err != nil {
			return nil, err
		}

		fn, err := predicate.Build(base, in.Config)
		if err != nil {
			return nil, err
		}

		rows, err := domainRows(in)
		if err != nil {
			return nil, err
		}

		values, err := engine.table.Column(in.Config.Domain().Column)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", metrics.ErrMetricResolution, err)
		}

		return ConditionMask(ctx, values, rows, fn)
	}
}

func computeAggregate(name string) metrics.ComputeFunc {
	return func(_ context.Context, in *metrics.Inputs) (any, error) {
		engine, err := engineOf(in)
		if err != nil {
			return nil, err
		}

		ddof, err := metrics.DDOF(in.Config)
		if err != nil {
			return nil, err
		}

		rows, err := domainRows(in)
		if err != nil {
			return nil, err
		}

		values, err := engine.table.Column(in.Config.Domain().Column)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", metrics.ErrMetricResolution, err)
		}

		var keep func(int) bool
		if rows != nil {
			keep = func(i int) bool { return rows[i] }
		}

		data, err := Numeric(values, keep)
		if err != nil {
			return nil, err
		}

		return Summarize(name, data, ddof)
	}
}

// FilterMask evaluates the row condition of a domain, true for rows in the domain.
func FilterMask(ctx context.Context, table *Table, domain metrics.Domain) (Mask, error) {
	mask := make(Mask, table.Len())

	if !domain.Filtered() {
		for i := range mask {
			mask[i] = true
		}

		return mask, nil
	}

	filter, err := rowfilter.ForDomain(domain)
	if err != nil {
		return nil, err
	}

	for i := range mask {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row := i
		mask[i], err = filter.Match(func(column string) (any, bool) {
			return table.Value(row, column)
		})
		if err != nil {
			return nil, err
		}
	}

	return mask, nil
}

// ConditionMask evaluates an unexpected-row predicate over the rows of a domain.
// Rows outside the domain are never unexpected.
func ConditionMask(ctx context.Context, values []any, rows Mask, fn predicate.Func) (Mask, error) {
	mask := make(Mask, len(values))

	for i, value := range values {
		if rows != nil && !rows[i] {
			continue
		}

		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		unexpected, err := fn(value)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", metrics.ErrMetricResolution, i, err)
		}

		mask[i] = unexpected
	}

	return mask, nil
}
