package metrics

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
)

// FinalizeFunc turns a materialized partial into the metric value.
type FinalizeFunc func(cfg Config, materialized any) (any, error)

// AggregateMetric is a metric computed through the partial/aggregate split: the
// partial function builds a deferred aggregate, the batched materialization of
// its domain executes it, and Finalize shapes the result.
type AggregateMetric struct {
	Name string
	// Requires and Dependencies belong to the partial function node
	Requires     []string
	Dependencies DependencyFunc
	Partial      ComputeFunc
	// Finalize is optional, the materialized value is used as is without it
	Finalize FinalizeFunc
}

// RegisterAggregate registers an aggregate metric and its partial function.
func RegisterAggregate(c *Catalog, kind Kind, m AggregateMetric) error {
	if m.Name == "" || m.Partial == nil {
		return fmt.Errorf("%w: aggregate metric needs a name and a partial function", ErrInvalidProvider)
	}

	aggregate := Provider{
		Name:     m.Name,
		Strategy: StrategyAggregate,
	}

	if m.Finalize != nil {
		finalize := m.Finalize
		aggregate.Compute = func(_ context.Context, in *Inputs) (any, error) {
			materialized, ok := in.Value(RolePartialFn)
			if !ok {
				return nil, fmt.Errorf("%w: %s has no materialized value", ErrMetricResolution, in.Config.Name())
			}

			return finalize(in.Config, materialized)
		}
	}

	if err := c.Register(kind, aggregate); err != nil {
		return err
	}

	return c.Register(kind, Provider{
		Name:         PartialFnName(m.Name),
		Strategy:     StrategyDirect,
		Requires:     m.Requires,
		Dependencies: m.Dependencies,
		Compute:      m.Partial,
	})
}

// ComputeDomainDependency binds the row filter of a filtered domain. Unfiltered
// domains have no compute domain dependency.
func ComputeDomainDependency(cfg Config) (map[Role]Config, error) {
	deps := make(map[Role]Config)

	if !cfg.Domain().Filtered() {
		return deps, nil
	}

	filter, err := RowFilterConfig(cfg.Domain())
	if err != nil {
		return nil, err
	}

	deps[RoleComputeDomain] = filter

	return deps, nil
}

// RowFilterConfig returns the row filter request shared by every metric on a
// filtered domain.
func RowFilterConfig(domain Domain) (Config, error) {
	return NewConfig(TableRowFilter, domain.Table(), nil)
}

// RowCountConfig returns the row count request of a domain.
func RowCountConfig(domain Domain) (Config, error) {
	return NewConfig(TableRowCount, domain.Table(), nil)
}

// ColumnsConfig returns the column list request of a batch.
func ColumnsConfig(batchID string) (Config, error) {
	return NewConfig(TableColumns, Domain{BatchID: batchID}, nil)
}

// DDOF returns the delta degrees of freedom of a standard deviation request,
// 1 when unset.
func DDOF(cfg Config) (int, error) {
	raw, ok := cfg.Value(ValueKeyDDOF)
	if !ok || raw == nil {
		return 1, nil
	}

	ddof, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrConfiguration, ValueKeyDDOF, err)
	}

	if ddof < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrConfiguration, ValueKeyDDOF)
	}

	return ddof, nil
}
