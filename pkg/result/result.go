package result

import (
	"fmt"
	"math"

	"github.com/spf13/cast"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Result field names
const (
	FieldElementCount                = "element_count"
	FieldUnexpectedCount             = "unexpected_count"
	FieldUnexpectedPercent           = "unexpected_percent"
	FieldUnexpectedPercentTotal      = "unexpected_percent_total"
	FieldUnexpectedPercentNonmissing = "unexpected_percent_nonmissing"
	FieldMissingCount                = "missing_count"
	FieldMissingPercent              = "missing_percent"
	FieldPartialUnexpectedList       = "partial_unexpected_list"
	FieldPartialUnexpectedIndexList  = "partial_unexpected_index_list"
	FieldPartialUnexpectedCounts     = "partial_unexpected_counts"
	FieldUnexpectedList              = "unexpected_list"
	FieldUnexpectedIndexList         = "unexpected_index_list"
	FieldUnexpectedRows              = "unexpected_rows"
	FieldObservedValue               = "observed_value"
)

// ExceptionInfo records a contained failure.
type ExceptionInfo struct {
	RaisedException    bool    `json:"raised_exception" yaml:"raised_exception"`
	ExceptionMessage   *string `json:"exception_message" yaml:"exception_message"`
	ExceptionTraceback *string `json:"exception_traceback" yaml:"exception_traceback"`
}

// ValidationResult is the outcome of one rule over one batch.
type ValidationResult struct {
	Success       bool           `json:"success" yaml:"success"`
	ObservedValue any            `json:"observed_value,omitempty" yaml:"observed_value,omitempty"`
	Result        map[string]any `json:"result" yaml:"result"`
	ExceptionInfo ExceptionInfo  `json:"exception_info" yaml:"exception_info"`
}

// New returns a result that raised nothing.
func New(success bool, observed any, fields map[string]any) ValidationResult {
	if fields == nil {
		fields = map[string]any{}
	}

	return ValidationResult{
		Success:       success,
		ObservedValue: observed,
		Result:        fields,
	}
}

// Failed returns the result of a contained failure: unsuccessful with an empty
// result mapping.
func Failed(err error) ValidationResult {
	message := err.Error()

	info := ExceptionInfo{
		RaisedException:  true,
		ExceptionMessage: &message,
	}

	if trace, ok := metrics.Traceback(err); ok {
		info.ExceptionTraceback = &trace
	}

	return ValidationResult{
		Success:       false,
		Result:        map[string]any{},
		ExceptionInfo: info,
	}
}

// MapInputs are the resolved metrics of a map rule. Lists hold what was
// fetched for the options in play.
type MapInputs struct {
	ElementCount        int
	UnexpectedCount     int
	MissingCount        int
	UnexpectedList      []any
	UnexpectedIndexList []any
	UnexpectedRows      []map[string]any
}

// Nonmissing is the number of rows a map rule is judged on.
func (in MapInputs) Nonmissing() int {
	return in.ElementCount - in.MissingCount
}

// Map builds the result mapping of a map rule.
func Map(opts Options, in MapInputs) (map[string]any, error) {
	fields := map[string]any{}

	if !opts.Format.AtLeast(FormatBasic) {
		return fields, nil
	}

	unexpectedPercent := Percent(in.UnexpectedCount, in.ElementCount)

	fields[FieldElementCount] = in.ElementCount
	fields[FieldUnexpectedCount] = in.UnexpectedCount
	fields[FieldUnexpectedPercent] = unexpectedPercent
	fields[FieldUnexpectedPercentTotal] = unexpectedPercent
	fields[FieldUnexpectedPercentNonmissing] = Percent(in.UnexpectedCount, in.Nonmissing())
	fields[FieldMissingCount] = in.MissingCount
	fields[FieldMissingPercent] = Percent(in.MissingCount, in.ElementCount)

	partialList := head(in.UnexpectedList, opts.PartialUnexpectedCount)
	fields[FieldPartialUnexpectedList] = partialList

	if opts.Format.AtLeast(FormatSummary) {
		counts, err := metrics.ValueCounts(partialList)
		if err != nil {
			return nil, err
		}

		fields[FieldPartialUnexpectedIndexList] = head(in.UnexpectedIndexList, opts.PartialUnexpectedCount)
		fields[FieldPartialUnexpectedCounts] = counts
	}

	if opts.Format.AtLeast(FormatComplete) {
		fields[FieldUnexpectedList] = orEmpty(in.UnexpectedList)
		fields[FieldUnexpectedIndexList] = orEmpty(in.UnexpectedIndexList)
	}

	if opts.NeedsRows() {
		rows := in.UnexpectedRows
		if rows == nil {
			rows = []map[string]any{}
		}

		fields[FieldUnexpectedRows] = rows
	}

	return fields, nil
}

// Observed builds the result mapping of a rule judged on one observed value.
func Observed(opts Options, value any) map[string]any {
	if !opts.Format.AtLeast(FormatBasic) {
		return map[string]any{}
	}

	return map[string]any{FieldObservedValue: value}
}

// Percent returns part/total*100 at full precision, 0 when total is 0.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}

	return float64(part) / float64(total) * 100
}

// MapSuccess reports whether the matching fraction of nonmissing rows reaches
// mostly. A rule with no nonmissing rows succeeds.
func MapSuccess(unexpected, nonmissing int, mostly float64) bool {
	if nonmissing == 0 {
		return true
	}

	return float64(nonmissing-unexpected)/float64(nonmissing) >= mostly
}

// ParseMostly reads the mostly kwarg, 1 when unset.
func ParseMostly(raw any) (float64, error) {
	if raw == nil {
		return 1, nil
	}

	mostly, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: mostly: %w", metrics.ErrConfiguration, err)
	}

	if math.IsNaN(mostly) || mostly < 0 || mostly > 1 {
		return 0, fmt.Errorf("%w: mostly must be within [0, 1], got %v", metrics.ErrConfiguration, raw)
	}

	return mostly, nil
}

func head(values []any, n int) []any {
	if len(values) > n {
		values = values[:n]
	}

	return orEmpty(values)
}

func orEmpty(values []any) []any {
	if values == nil {
		return []any{}
	}

	return values
}
