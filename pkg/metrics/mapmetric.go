package metrics

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/ethpandaops/dqc/pkg/metrics/metricid"
)

// CountMode selects how a backend computes unexpected_count.
type CountMode int

const (
	// CountDirect counts with the engine as soon as the condition is resolved
	CountDirect CountMode = iota
	// CountDeferred defers the count into the batched materialization of its domain
	CountDeferred
)

// MapMetric is the backend half of a map metric: only its condition. Every
// derivation is registered from it uniformly.
type MapMetric struct {
	Base string
	// Requires and Dependencies belong to the condition node
	Requires     []string
	Dependencies DependencyFunc
	Condition    ComputeFunc
}

// ValueCount is one entry of an unexpected value histogram.
type ValueCount struct {
	Value any `json:"value" yaml:"value"`
	Count int `json:"count" yaml:"count"`
}

// RegisterMapMetric registers a condition and its derivations on a backend.
func RegisterMapMetric(c *Catalog, kind Kind, m MapMetric, mode CountMode) error {
	if m.Base == "" || m.Condition == nil {
		return fmt.Errorf("%w: map metric needs a base and a condition", ErrInvalidProvider)
	}

	providers := []Provider{
		{
			Name:         m.Base + SuffixCondition,
			Strategy:     StrategyDirect,
			Requires:     m.Requires,
			Dependencies: m.Dependencies,
			Compute:      m.Condition,
		},
		{
			Name:     m.Base + SuffixUnexpectedValues,
			Strategy: StrategyCondition,
			Compute:  computeUnexpectedValues,
		},
		{
			Name:     m.Base + SuffixUnexpectedValueCounts,
			Strategy: StrategyCondition,
			Compute:  computeUnexpectedValueCounts,
		},
		{
			Name:     m.Base + SuffixUnexpectedIndexList,
			Strategy: StrategyCondition,
			Compute:  computeUnexpectedIndexList,
		},
		{
			Name:         m.Base + SuffixUnexpectedRows,
			Strategy:     StrategyCondition,
			Requires:     []string{TableColumns},
			Dependencies: tableColumnsDependency,
			Compute:      computeUnexpectedRows,
		},
	}

	count := m.Base + SuffixUnexpectedCount

	switch mode {
	case CountDirect:
		providers = append(providers, Provider{
			Name:     count,
			Strategy: StrategyCondition,
			Compute:  computeUnexpectedCount,
		})
	case CountDeferred:
		providers = append(providers,
			Provider{
				Name:     count,
				Strategy: StrategyAggregate,
				Compute:  finalizeUnexpectedCount,
			},
			Provider{
				Name:         PartialFnName(count),
				Strategy:     StrategyDirect,
				Requires:     []string{m.Base + SuffixCondition},
				Dependencies: conditionDependency,
				Compute:      deferUnexpectedCount,
			},
		)
	default:
		return fmt.Errorf("%w: unknown count mode %d", ErrInvalidProvider, mode)
	}

	for _, p := range providers {
		if err := c.Register(kind, p); err != nil {
			return err
		}
	}

	return nil
}

func conditionDependency(cfg Config) (map[Role]Config, error) {
	condition, err := ConditionConfig(cfg)
	if err != nil {
		return nil, err
	}

	return map[Role]Config{RoleCondition: condition}, nil
}

func tableColumnsDependency(cfg Config) (map[Role]Config, error) {
	columns, err := ColumnsConfig(cfg.Domain().BatchID)
	if err != nil {
		return nil, err
	}

	return map[Role]Config{RoleTableColumns: columns}, nil
}

// Limit returns the limit value kwarg of a request, 0 meaning unlimited.
func Limit(cfg Config) (int, error) {
	raw, ok := cfg.Value(ValueKeyLimit)
	if !ok || raw == nil {
		return 0, nil
	}

	limit, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: limit: %w", ErrConfiguration, err)
	}

	if limit < 0 {
		return 0, fmt.Errorf("%w: limit must not be negative", ErrConfiguration)
	}

	return limit, nil
}

func condition(in *Inputs) (any, error) {
	cond, ok := in.Value(RoleCondition)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no condition", ErrMetricResolution, in.Config.Name())
	}

	return cond, nil
}

func computeUnexpectedCount(ctx context.Context, in *Inputs) (any, error) {
	cond, err := condition(in)
	if err != nil {
		return nil, err
	}

	return in.Engine.CountUnexpected(ctx, in.Config.Domain(), cond)
}

func deferUnexpectedCount(_ context.Context, in *Inputs) (any, error) {
	cond, err := condition(in)
	if err != nil {
		return nil, err
	}

	return in.Engine.DeferUnexpectedCount(in.Config.Domain(), cond)
}

func finalizeUnexpectedCount(_ context.Context, in *Inputs) (any, error) {
	raw, ok := in.Value(RolePartialFn)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no materialized count", ErrMetricResolution, in.Config.Name())
	}

	if raw == nil {
		return 0, nil
	}

	count, err := cast.ToIntE(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: materialized count %v: %w", ErrMetricResolution, raw, err)
	}

	return count, nil
}

// selectUnexpected is the single row source of every list derivation, so counts,
// values, indexes and rows always enumerate the same rows in the same order.
func selectUnexpected(ctx context.Context, in *Inputs, columns []string) ([]IndexedRow, error) {
	cond, err := condition(in)
	if err != nil {
		return nil, err
	}

	limit, err := Limit(in.Config)
	if err != nil {
		return nil, err
	}

	return in.Engine.SelectUnexpected(ctx, in.Config.Domain(), cond, columns, limit)
}

func unexpectedValues(ctx context.Context, in *Inputs) ([]any, error) {
	column := in.Config.Domain().Column
	if column == "" {
		return nil, fmt.Errorf("%w: %s requires a column domain", ErrConfiguration, in.Config.Name())
	}

	rows, err := selectUnexpected(ctx, in, []string{column})
	if err != nil {
		return nil, err
	}

	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row.Values[column]
	}

	return values, nil
}

func computeUnexpectedValues(ctx context.Context, in *Inputs) (any, error) {
	return unexpectedValues(ctx, in)
}

func computeUnexpectedValueCounts(ctx context.Context, in *Inputs) (any, error) {
	values, err := unexpectedValues(ctx, in)
	if err != nil {
		return nil, err
	}

	return ValueCounts(values)
}

func computeUnexpectedIndexList(ctx context.Context, in *Inputs) (any, error) {
	rows, err := selectUnexpected(ctx, in, nil)
	if err != nil {
		return nil, err
	}

	indexes := make([]any, len(rows))
	for i, row := range rows {
		indexes[i] = row.Index
	}

	return indexes, nil
}

func computeUnexpectedRows(ctx context.Context, in *Inputs) (any, error) {
	columns, err := Input[[]string](in, RoleTableColumns)
	if err != nil {
		return nil, err
	}

	rows, err := selectUnexpected(ctx, in, columns)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = row.Values
	}

	return out, nil
}

// ValueCounts counts distinct values in order of first occurrence.
func ValueCounts(values []any) ([]ValueCount, error) {
	out := make([]ValueCount, 0)
	positions := make(map[string]int)

	for _, value := range values {
		key, err := metricid.CanonicalValue(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMetricResolution, err)
		}

		if i, ok := positions[key]; ok {
			out[i].Count++

			continue
		}

		positions[key] = len(out)
		out = append(out, ValueCount{Value: value, Count: 1})
	}

	return out, nil
}
