package partitioned

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
	"github.com/ethpandaops/dqc/pkg/backend/predicate"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Register adds the partitioned backend providers to a catalog.
func Register(c *metrics.Catalog) error {
	kind := metrics.KindPartitioned
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
	}

	for _, p := range providers {
		if err := c.Register(kind, p); err != nil {
			return err
		}
	}

	err := metrics.RegisterAggregate(c, kind, metrics.AggregateMetric{
		Name:         metrics.TableRowCount,
		Requires:     filtered,
		Dependencies: metrics.ComputeDomainDependency,
		Partial:      deferRowCount,
	})
	if err != nil {
		return err
	}

	for _, name := range memory.ColumnAggregates() {
		err := metrics.RegisterAggregate(c, kind, metrics.AggregateMetric{
			Name:         name,
			Requires:     filtered,
			Dependencies: metrics.ComputeDomainDependency,
			Partial:      deferColumnAggregate(name),
		})
		if err != nil {
			return err
		}
	}

	for _, base := range metrics.MapBases() {
		err := metrics.RegisterMapMetric(c, kind, metrics.MapMetric{
			Base:         base,
			Requires:     filtered,
			Dependencies: metrics.ComputeDomainDependency,
			Condition:    computeCondition(base),
		}, metrics.CountDeferred)
		if err != nil {
			return err
		}
	}

	return nil
}

func engineOf(in *metrics.Inputs) (*Engine, error) {
	engine, ok := in.Engine.(*Engine)
	if !ok {
		return nil, fmt.Errorf("%w: partitioned provider on %T", metrics.ErrMetricResolution, in.Engine)
	}

	return engine, nil
}

func domainRows(in *metrics.Inputs) (Mask, error) {
	rows, _, err := metrics.OptionalInput[Mask](in, metrics.RoleComputeDomain)
	return rows, err
}

func partitionRows(rows Mask, index int) memory.Mask {
	if rows == nil {
		return nil
	}

	return rows[index]
}

func computeColumns(_ context.Context, in *metrics.Inputs) (any, error) {
	engine, err := engineOf(in)
	if err != nil {
		return nil, err
	}

	return engine.frame.Columns(), nil
}

func computeRowFilter(ctx context.Context, in *metrics.Inputs) (any, error) {
	engine, err := engineOf(in)
	if err != nil {
		return nil, err
	}

	domain := in.Config.Domain()

	return engine.masks(ctx, func(ctx context.Context, _ int, part Partition) (memory.Mask, error) {
		return memory.FilterMask(ctx, part.Table, domain)
	})
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

		column := in.Config.Domain().Column

		return engine.masks(ctx, func(ctx context.Context, index int, part Partition) (memory.Mask, error) {
			values, err := part.Table.Column(column)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", metrics.ErrMetricResolution, err)
			}

			return memory.ConditionMask(ctx, values, partitionRows(rows, index), fn)
		})
	}
}

func deferRowCount(_ context.Context, in *metrics.Inputs) (any, error) {
	rows, err := domainRows(in)
	if err != nil {
		return nil, err
	}

	return metrics.Partial{
		Domain: in.Config.Domain().Table(),
		Fn: Aggregate{
			Map: func(_ context.Context, index int, part Partition) (any, error) {
				if rows == nil {
					return part.Table.Len(), nil
				}

				return rows[index].Count(), nil
			},
			Reduce: sumInts,
		},
	}, nil
}

// moments is the per-partition state of a column aggregate.
type moments struct {
	n      int
	sum    float64
	min    float64
	max    float64
	spread memory.Moments
	values []float64
}

func deferColumnAggregate(name string) metrics.ComputeFunc {
	return func(_ context.Context, in *metrics.Inputs) (any, error) {
		ddof, err := metrics.DDOF(in.Config)
		if err != nil {
			return nil, err
		}

		rows, err := domainRows(in)
		if err != nil {
			return nil, err
		}

		column := in.Config.Domain().Column
		keepValues := name == metrics.ColumnMedian

		return metrics.Partial{
			Domain: in.Config.Domain().Table(),
			Fn: Aggregate{
				Map: func(_ context.Context, index int, part Partition) (any, error) {
					values, err := part.Table.Column(column)
					if err != nil {
						return nil, fmt.Errorf("%w: %w", metrics.ErrMetricResolution, err)
					}

					var keep func(int) bool
					if mask := partitionRows(rows, index); mask != nil {
						keep = func(i int) bool { return mask[i] }
					}

					data, err := memory.Numeric(values, keep)
					if err != nil {
						return nil, err
					}

					m := moments{n: len(data)}
					if m.n > 0 {
						m.sum = floats.Sum(data)
						m.spread = memory.NewMoments(data)
						m.min = floats.Min(data)
						m.max = floats.Max(data)
					}

					if keepValues {
						m.values = data
					}

					return m, nil
				},
				Reduce: func(parts []any) (any, error) {
					return reduceMoments(name, parts, ddof)
				},
			},
		}, nil
	}
}

func reduceMoments(name string, parts []any, ddof int) (any, error) {
	var total moments

	for _, part := range parts {
		m, ok := part.(moments)
		if !ok {
			return nil, fmt.Errorf("%w: partition aggregate is %T", metrics.ErrBackendExecution, part)
		}

		if m.n == 0 {
			continue
		}

		if total.n == 0 {
			total.min, total.max = m.min, m.max
		} else {
			total.min = min(total.min, m.min)
			total.max = max(total.max, m.max)
		}

		total.n += m.n
		total.sum += m.sum
		total.spread = total.spread.Merge(m.spread)
		total.values = append(total.values, m.values...)
	}

	if total.n == 0 {
		return nil, nil
	}

	switch name {
	case metrics.ColumnMin:
		return total.min, nil
	case metrics.ColumnMax:
		return total.max, nil
	case metrics.ColumnSum:
		return total.sum, nil
	case metrics.ColumnMean:
		return total.sum / float64(total.n), nil
	case metrics.ColumnMedian:
		return memory.Summarize(name, total.values, ddof)
	case metrics.ColumnStandardDeviation:
		return total.spread.StandardDeviation(ddof), nil
	default:
		return nil, fmt.Errorf("%w: %s", metrics.ErrUnsupportedMetric, name)
	}
}
