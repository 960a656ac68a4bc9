package expectations

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/ethpandaops/dqc/pkg/backend/predicate"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Rule specific kwargs
const (
	KeyColumnList = "column_list"
)

// Builtin returns a registry holding the builtin rules.
func Builtin() (*Registry, error) {
	r := NewRegistry()

	for _, rule := range builtinRules() {
		if err := r.Register(rule); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func builtinRules() []Rule {
	bounds := []string{
		metrics.ValueKeyMinValue,
		metrics.ValueKeyMaxValue,
		metrics.ValueKeyStrictMin,
		metrics.ValueKeyStrictMax,
	}

	rules := []Rule{
		mapRule("expect_column_values_to_be_in_set", metrics.ColumnValuesInSet, MissingNulls,
			[]string{metrics.ValueKeyValueSet}, nil),
		mapRule("expect_column_values_to_not_be_in_set", metrics.ColumnValuesNotInSet, MissingNulls,
			[]string{metrics.ValueKeyValueSet}, nil),
		mapRule("expect_column_values_to_not_be_null", metrics.ColumnValuesNonNull, MissingNone, nil, nil),
		mapRule("expect_column_values_to_be_null", metrics.ColumnValuesNull, MissingNone, nil, nil),
		mapRule("expect_column_values_to_be_between", metrics.ColumnValuesBetween, MissingNulls, nil, bounds),
		mapRule("expect_column_values_to_match_regex", metrics.ColumnValuesMatchRegex, MissingNulls,
			[]string{metrics.ValueKeyRegex}, nil),
		mapRule("expect_column_values_to_match_like_pattern", metrics.ColumnValuesMatchLike, MissingNulls,
			[]string{metrics.ValueKeyLike}, nil),
		betweenRule("expect_column_min_to_be_between", metrics.ColumnMin, ScopeColumn, bounds),
		betweenRule("expect_column_max_to_be_between", metrics.ColumnMax, ScopeColumn, bounds),
		betweenRule("expect_column_mean_to_be_between", metrics.ColumnMean, ScopeColumn, bounds),
		betweenRule("expect_column_sum_to_be_between", metrics.ColumnSum, ScopeColumn, bounds),
		betweenRule("expect_column_median_to_be_between", metrics.ColumnMedian, ScopeColumn, bounds),
		betweenRule("expect_table_row_count_to_be_between", metrics.TableRowCount, ScopeTable, bounds),
		{
			Type:     "expect_table_columns_to_match_ordered_list",
			Kind:     KindObserved,
			Scope:    ScopeTable,
			Metric:   metrics.TableColumns,
			Required: []string{KeyColumnList},
			Validate: func(kwargs metrics.Kwargs) error {
				_, err := columnList(kwargs)
				return err
			},
			Evaluate: matchOrderedList,
		},
	}

	stdev := betweenRule("expect_column_stdev_to_be_between", metrics.ColumnStandardDeviation, ScopeColumn, bounds)
	stdev.Optional = append(stdev.Optional, metrics.ValueKeyDDOF)
	stdev.ValueKeys = []string{metrics.ValueKeyDDOF}

	return append(rules, stdev)
}

func mapRule(ruleType, base string, missing MissingPolicy, required, optional []string) Rule {
	keys := append(append([]string(nil), required...), optional...)

	return Rule{
		Type:          ruleType,
		Kind:          KindMap,
		Scope:         ScopeColumn,
		Metric:        base,
		Required:      required,
		Optional:      optional,
		ValueKeys:     keys,
		MissingPolicy: missing,
	}
}

func betweenRule(ruleType, metric string, scope Scope, bounds []string) Rule {
	return Rule{
		Type:     ruleType,
		Kind:     KindObserved,
		Scope:    scope,
		Metric:   metric,
		Optional: append([]string(nil), bounds...),
		Validate: func(kwargs metrics.Kwargs) error {
			_, err := predicate.BoundsFromKwargs(ruleType, kwargs)
			return err
		},
		Evaluate: func(observed any, kwargs metrics.Kwargs) (bool, error) {
			b, err := predicate.BoundsFromKwargs(ruleType, kwargs)
			if err != nil {
				return false, err
			}

			if predicate.IsNull(observed) {
				return false, nil
			}

			ok, err := b.Contains(observed)
			if err != nil {
				return false, fmt.Errorf("%w: %w", metrics.ErrMetricResolution, err)
			}

			return ok, nil
		},
	}
}

func columnList(kwargs metrics.Kwargs) ([]string, error) {
	if s, ok := kwargs[KeyColumnList].(string); ok {
		return nil, fmt.Errorf("%w: %s must be a list, got %q", metrics.ErrConfiguration, KeyColumnList, s)
	}

	list, err := cast.ToStringSliceE(kwargs[KeyColumnList])
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a list of names: %w", metrics.ErrConfiguration, KeyColumnList, err)
	}

	return list, nil
}

func matchOrderedList(observed any, kwargs metrics.Kwargs) (bool, error) {
	want, err := columnList(kwargs)
	if err != nil {
		return false, err
	}

	got, ok := observed.([]string)
	if !ok {
		return false, fmt.Errorf("%w: table columns are %T", metrics.ErrMetricResolution, observed)
	}

	if len(got) != len(want) {
		return false, nil
	}

	for i := range got {
		if got[i] != want[i] {
			return false, nil
		}
	}

	return true, nil
}
