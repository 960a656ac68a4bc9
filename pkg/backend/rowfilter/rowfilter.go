// Package rowfilter implements the hcl row_condition dialect: a boolean HCL
// expression over the row's columns, for example `a > 3 && b != "cat"`.
package rowfilter

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/spf13/cast"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Dialect is the condition_parser tag of this package
const Dialect = "hcl"

//nolint:gochecknoglobals // read-only function table
var functions = map[string]function.Function{
	"upper":  stdlib.UpperFunc,
	"lower":  stdlib.LowerFunc,
	"strlen": stdlib.StrlenFunc,
	"abs":    stdlib.AbsoluteFunc,
}

// Filter is a compiled row condition.
type Filter struct {
	source  string
	expr    hclsyntax.Expression
	columns []string
}

// RowFunc returns the value of a column for the row being filtered.
type RowFunc func(column string) (any, bool)

// CheckDomain rejects filtered domains that do not use this dialect or whose
// row condition does not parse.
func CheckDomain(domain metrics.Domain) error {
	_, err := ForDomain(domain)
	return err
}

// ForDomain compiles the row condition of a domain. Unfiltered domains have no
// filter.
func ForDomain(domain metrics.Domain) (*Filter, error) {
	if !domain.Filtered() {
		return nil, nil
	}

	if domain.ConditionParser != Dialect {
		return nil, fmt.Errorf("%w: condition_parser %q is not supported, use %q",
			metrics.ErrConfiguration, domain.ConditionParser, Dialect)
	}

	return Compile(domain.RowCondition)
}

// Compile parses a row condition.
func Compile(source string) (*Filter, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(source), "row_condition", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: row_condition %q: %s", metrics.ErrConfiguration, source, diags.Error())
	}

	seen := make(map[string]bool)
	columns := make([]string, 0)

	for _, traversal := range expr.Variables() {
		name := traversal.RootName()
		if !seen[name] {
			seen[name] = true
			columns = append(columns, name)
		}
	}

	sort.Strings(columns)

	return &Filter{
		source:  source,
		expr:    expr,
		columns: columns,
	}, nil
}

// Columns returns the columns the condition references.
func (f *Filter) Columns() []string {
	return append([]string(nil), f.columns...)
}

func (f *Filter) String() string {
	return f.source
}

// Match evaluates the condition for one row. A row whose condition can not be
// evaluated because a referenced value is null does not match.
func (f *Filter) Match(row RowFunc) (bool, error) {
	vars := make(map[string]cty.Value, len(f.columns))
	hasNull := false

	for _, column := range f.columns {
		raw, ok := row(column)
		if !ok {
			return false, fmt.Errorf("%w: row_condition references unknown column %q", metrics.ErrMetricResolution, column)
		}

		value, err := ToCty(raw)
		if err != nil {
			return false, fmt.Errorf("%w: column %q: %w", metrics.ErrMetricResolution, column, err)
		}

		if value.IsNull() {
			hasNull = true
		}

		vars[column] = value
	}

	result, diags := f.expr.Value(&hcl.EvalContext{Variables: vars, Functions: functions})
	if diags.HasErrors() {
		if hasNull {
			return false, nil
		}

		return false, fmt.Errorf("%w: row_condition %q: %s", metrics.ErrMetricResolution, f.source, diags.Error())
	}

	if result.IsNull() || !result.IsKnown() {
		return false, nil
	}

	result, err := convert.Convert(result, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("%w: row_condition %q is not boolean: %w", metrics.ErrConfiguration, f.source, err)
	}

	return result.True(), nil
}

// ToCty converts a cell value.
func ToCty(v any) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int32:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case uint64:
		return cty.NumberUIntVal(t), nil
	case float32:
		return floatVal(float64(t)), nil
	case float64:
		return floatVal(t), nil
	case time.Time:
		return cty.StringVal(t.UTC().Format(time.RFC3339Nano)), nil
	}

	s, err := cast.ToStringE(v)
	if err != nil {
		return cty.NilVal, err
	}

	return cty.StringVal(s), nil
}

func floatVal(f float64) cty.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return cty.NullVal(cty.Number)
	}

	return cty.NumberFloatVal(f)
}
