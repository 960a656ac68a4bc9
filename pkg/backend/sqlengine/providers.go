package sqlengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
	"github.com/ethpandaops/dqc/pkg/backend/predicate"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// ColumnAggregates are the column aggregates expressible as SQL aggregates.
// There is no portable median.
func ColumnAggregates() []string {
	return []string{
		metrics.ColumnMin,
		metrics.ColumnMax,
		metrics.ColumnSum,
		metrics.ColumnMean,
		metrics.ColumnStandardDeviation,
	}
}

// Register adds the SQL backend providers to a catalog.
func Register(c *metrics.Catalog) error {
	kind := metrics.KindSQL
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
		Partial:      deferExpressions(func(metrics.Config, Dialect) ([]string, error) { return []string{"COUNT(*)"}, nil }),
		Finalize:     finalizeInt,
	})
	if err != nil {
		return err
	}

	for _, name := range ColumnAggregates() {
		m := metrics.AggregateMetric{
			Name:         name,
			Requires:     filtered,
			Dependencies: metrics.ComputeDomainDependency,
			Partial:      deferExpressions(columnExpressions(name)),
			Finalize:     finalizeFloat,
		}

		if name == metrics.ColumnStandardDeviation {
			m.Requires = []string{metrics.TableRowFilter, metrics.ColumnMean}
			m.Dependencies = meanDependency
			m.Partial = deferStandardDeviation
			m.Finalize = finalizeStandardDeviation
		}

		if err := metrics.RegisterAggregate(c, kind, m); err != nil {
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
		return nil, fmt.Errorf("%w: sql provider on %T", metrics.ErrMetricResolution, in.Engine)
	}

	return engine, nil
}

func computeColumns(ctx context.Context, in *metrics.Inputs) (any, error) {
	engine, err := engineOf(in)
	if err != nil {
		return nil, err
	}

	return engine.Columns(ctx)
}

func computeRowFilter(_ context.Context, in *metrics.Inputs) (any, error) {
	engine, err := engineOf(in)
	if err != nil {
		return nil, err
	}

	where, err := engine.where(in.Config.Domain())
	if err != nil {
		return nil, err
	}

	return Condition(where), nil
}

func deferExpressions(build func(cfg metrics.Config, dialect Dialect) ([]string, error)) metrics.ComputeFunc {
	return func(_ context.Context, in *metrics.Inputs) (any, error) {
		engine, err := engineOf(in)
		if err != nil {
			return nil, err
		}

		// The row filter is applied by the domain's materialization.
		if _, _, err := metrics.OptionalInput[Condition](in, metrics.RoleComputeDomain); err != nil {
			return nil, err
		}

		expressions, err := build(in.Config, engine.dialect)
		if err != nil {
			return nil, err
		}

		return metrics.Partial{
			Domain: in.Config.Domain().Table(),
			Fn:     Aggregate{Expressions: expressions},
		}, nil
	}
}

func columnExpressions(name string) func(metrics.Config, Dialect) ([]string, error) {
	return func(cfg metrics.Config, dialect Dialect) ([]string, error) {
		column := cfg.Domain().Column
		if column == "" {
			return nil, fmt.Errorf("%w: %s requires a column domain", metrics.ErrConfiguration, name)
		}

		c := dialect.Ident(column)

		switch name {
		case metrics.ColumnMin:
			return []string{"MIN(" + c + ")"}, nil
		case metrics.ColumnMax:
			return []string{"MAX(" + c + ")"}, nil
		case metrics.ColumnSum:
			return []string{"SUM(" + c + ")"}, nil
		case metrics.ColumnMean:
			return []string{"AVG(" + c + ")"}, nil
		default:
			return nil, fmt.Errorf("%w: %s", metrics.ErrUnsupportedMetric, name)
		}
	}
}

func finalizeInt(_ metrics.Config, materialized any) (any, error) {
	if materialized == nil {
		return 0, nil
	}

	n, err := cast.ToIntE(materialized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v is not an integer: %w", metrics.ErrMetricResolution, materialized, err)
	}

	return n, nil
}

func finalizeFloat(cfg metrics.Config, materialized any) (any, error) {
	if materialized == nil {
		return nil, nil
	}

	f, err := cast.ToFloat64E(materialized)
	if err != nil {
		return nil, fmt.Errorf("%w: %s of %v is not numeric: %w", metrics.ErrMetricResolution, cfg.Name(), materialized, err)
	}

	return f, nil
}

// meanDependency binds the column mean next to the row filter. Sums of squares
// are taken around the mean so large values do not cancel.
func meanDependency(cfg metrics.Config) (map[metrics.Role]metrics.Config, error) {
	deps, err := metrics.ComputeDomainDependency(cfg)
	if err != nil {
		return nil, err
	}

	mean, err := metrics.NewConfig(metrics.ColumnMean, cfg.Domain(), nil)
	if err != nil {
		return nil, err
	}

	deps[metrics.RoleColumnMean] = mean

	return deps, nil
}

func deferStandardDeviation(ctx context.Context, in *metrics.Inputs) (any, error) {
	var shift float64

	if mean, ok := in.Value(metrics.RoleColumnMean); ok && mean != nil {
		f, err := cast.ToFloat64E(mean)
		if err != nil {
			return nil, fmt.Errorf("%w: mean %v: %w", metrics.ErrMetricResolution, mean, err)
		}

		shift = f
	}

	return deferExpressions(func(cfg metrics.Config, dialect Dialect) ([]string, error) {
		if _, err := metrics.DDOF(cfg); err != nil {
			return nil, err
		}

		column := cfg.Domain().Column
		if column == "" {
			return nil, fmt.Errorf("%w: %s requires a column domain", metrics.ErrConfiguration, cfg.Name())
		}

		literal, err := dialect.Literal(shift)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", metrics.ErrMetricResolution, err)
		}

		deviation := fmt.Sprintf("(%s - %s)", dialect.Ident(column), literal)

		return []string{
			"COUNT(" + dialect.Ident(column) + ")",
			"SUM" + deviation,
			fmt.Sprintf("SUM(%s * %s)", deviation, deviation),
		}, nil
	})(ctx, in)
}

func finalizeStandardDeviation(cfg metrics.Config, materialized any) (any, error) {
	ddof, err := metrics.DDOF(cfg)
	if err != nil {
		return nil, err
	}

	sums, ok := materialized.([]any)
	if !ok || len(sums) != 3 {
		return nil, fmt.Errorf("%w: standard deviation moments are %T", metrics.ErrMetricResolution, materialized)
	}

	n, err := cast.ToIntE(sums[0])
	if err != nil {
		return nil, fmt.Errorf("%w: count %v: %w", metrics.ErrMetricResolution, sums[0], err)
	}

	if n == 0 {
		return nil, nil
	}

	sum, err := cast.ToFloat64E(sums[1])
	if err != nil {
		return nil, fmt.Errorf("%w: sum %v: %w", metrics.ErrMetricResolution, sums[1], err)
	}

	sumSq, err := cast.ToFloat64E(sums[2])
	if err != nil {
		return nil, fmt.Errorf("%w: sum of squares %v: %w", metrics.ErrMetricResolution, sums[2], err)
	}

	// the spread does not depend on the shift
	return memory.ShiftedMoments(n, 0, sum, sumSq).StandardDeviation(ddof), nil
}

func computeCondition(base string) metrics.ComputeFunc {
	return func(_ context.Context, in *metrics.Inputs) (any, error) {
		engine, err := engineOf(in)
		if err != nil {
			return nil, err
		}

		expression, err := Predicate(engine.dialect, base, in.Config)
		if err != nil {
			return nil, err
		}

		filter, ok, err := metrics.OptionalInput[Condition](in, metrics.RoleComputeDomain)
		if err != nil {
			return nil, err
		}

		if ok && filter != "" {
			expression = fmt.Sprintf("%s AND (%s)", filter, expression)
		}

		return Condition(expression), nil
	}
}

// Predicate builds the SQL expression that is true for unexpected rows of a
// map metric. Null values are never unexpected except for the null checks.
func Predicate(dialect Dialect, base string, cfg metrics.Config) (string, error) {
	column := cfg.Domain().Column
	if column == "" {
		return "", fmt.Errorf("%w: %s requires a column domain", metrics.ErrConfiguration, cfg.Name())
	}

	c := dialect.Ident(column)
	notNull := c + " IS NOT NULL"

	switch base {
	case metrics.ColumnValuesNonNull:
		return c + " IS NULL", nil
	case metrics.ColumnValuesNull:
		return notNull, nil
	case metrics.ColumnValuesInSet, metrics.ColumnValuesNotInSet:
		set, err := predicate.ValueSet(cfg)
		if err != nil {
			return "", err
		}

		literals := make([]string, 0, len(set))
		for _, value := range set {
			if predicate.IsNull(value) {
				continue
			}

			literal, err := dialect.Literal(value)
			if err != nil {
				return "", err
			}

			literals = append(literals, literal)
		}

		if len(literals) == 0 {
			if base == metrics.ColumnValuesInSet {
				return notNull, nil
			}
			return "1 = 0", nil
		}

		operator := "NOT IN"
		if base == metrics.ColumnValuesNotInSet {
			operator = "IN"
		}

		return fmt.Sprintf("%s AND %s %s (%s)", notNull, c, operator, strings.Join(literals, ", ")), nil
	case metrics.ColumnValuesBetween:
		bounds, err := predicate.ParseBounds(cfg)
		if err != nil {
			return "", err
		}

		var checks []string

		if bounds.Min != nil {
			literal, err := dialect.Literal(bounds.Min)
			if err != nil {
				return "", err
			}

			operator := ">="
			if bounds.StrictMin {
				operator = ">"
			}

			checks = append(checks, fmt.Sprintf("%s %s %s", c, operator, literal))
		}

		if bounds.Max != nil {
			literal, err := dialect.Literal(bounds.Max)
			if err != nil {
				return "", err
			}

			operator := "<="
			if bounds.StrictMax {
				operator = "<"
			}

			checks = append(checks, fmt.Sprintf("%s %s %s", c, operator, literal))
		}

		return fmt.Sprintf("%s AND NOT (%s)", notNull, strings.Join(checks, " AND ")), nil
	case metrics.ColumnValuesMatchRegex:
		re, err := predicate.Regex(cfg)
		if err != nil {
			return "", err
		}

		match, err := dialect.Regex(c, re.String())
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("%s AND NOT (%s)", notNull, match), nil
	case metrics.ColumnValuesMatchLike:
		if _, err := predicate.Like(cfg); err != nil {
			return "", err
		}

		raw, _ := cfg.Value(metrics.ValueKeyLike)

		return fmt.Sprintf("%s AND %s", notNull, dialect.NotLike(c, cast.ToString(raw))), nil
	default:
		return "", fmt.Errorf("%w: %s", metrics.ErrUnsupportedMetric, base)
	}
}
