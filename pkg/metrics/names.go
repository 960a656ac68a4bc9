package metrics

import "strings"

// Table metrics
const (
	TableRowCount  = "table.row_count"
	TableColumns   = "table.columns"
	TableRowFilter = "table.row_filter"
)

// Column aggregate metrics
const (
	ColumnMin               = "column.min"
	ColumnMax               = "column.max"
	ColumnSum               = "column.sum"
	ColumnMean              = "column.mean"
	ColumnMedian            = "column.median"
	ColumnStandardDeviation = "column.standard_deviation"
)

// Column map metric bases. A base names a row condition, the derivations are
// formed by appending one of the map suffixes.
const (
	ColumnValuesInSet      = "column_values.in_set"
	ColumnValuesNotInSet   = "column_values.not_in_set"
	ColumnValuesNonNull    = "column_values.nonnull"
	ColumnValuesNull       = "column_values.null"
	ColumnValuesBetween    = "column_values.between"
	ColumnValuesMatchRegex = "column_values.match_regex"
	ColumnValuesMatchLike  = "column_values.match_like_pattern"
)

// Map metric suffixes
const (
	SuffixCondition             = ".condition"
	SuffixUnexpectedCount       = ".unexpected_count"
	SuffixUnexpectedValues      = ".unexpected_values"
	SuffixUnexpectedValueCounts = ".unexpected_value_counts"
	SuffixUnexpectedIndexList   = ".unexpected_index_list"
	SuffixUnexpectedRows        = ".unexpected_rows"
	SuffixAggregateFn           = ".aggregate_fn"
)

// Value kwarg keys shared by the builtin metrics
const (
	ValueKeyLimit     = "limit"
	ValueKeyValueSet  = "value_set"
	ValueKeyMinValue  = "min_value"
	ValueKeyMaxValue  = "max_value"
	ValueKeyStrictMin = "strict_min"
	ValueKeyStrictMax = "strict_max"
	ValueKeyRegex     = "regex"
	ValueKeyLike      = "like_pattern"
	ValueKeyDDOF      = "ddof"
)

// MapBases returns the builtin column map metric bases.
func MapBases() []string {
	return []string{
		ColumnValuesInSet,
		ColumnValuesNotInSet,
		ColumnValuesNonNull,
		ColumnValuesNull,
		ColumnValuesBetween,
		ColumnValuesMatchRegex,
		ColumnValuesMatchLike,
	}
}

// derivationSuffixes are the map derivations computed from a condition.
var derivationSuffixes = []string{
	SuffixUnexpectedCount,
	SuffixUnexpectedValues,
	SuffixUnexpectedValueCounts,
	SuffixUnexpectedIndexList,
	SuffixUnexpectedRows,
}

// PartialFnName returns the name of the deferred half of an aggregate metric.
func PartialFnName(name string) string {
	return name + SuffixAggregateFn
}

// IsPartialFn reports whether name is the deferred half of an aggregate split.
func IsPartialFn(name string) bool {
	return strings.HasSuffix(name, SuffixAggregateFn)
}

// MapBase returns the condition base of a map metric name, for example
// column_values.in_set for column_values.in_set.unexpected_count.aggregate_fn.
func MapBase(name string) (string, bool) {
	name = strings.TrimSuffix(name, SuffixAggregateFn)

	for _, suffix := range derivationSuffixes {
		if base, ok := strings.CutSuffix(name, suffix); ok && base != "" {
			return base, true
		}
	}

	if base, ok := strings.CutSuffix(name, SuffixCondition); ok && base != "" {
		return base, true
	}

	return "", false
}

// ConditionName returns the condition metric a map metric derives from.
func ConditionName(name string) (string, bool) {
	base, ok := MapBase(name)
	if !ok {
		return "", false
	}

	return base + SuffixCondition, true
}
