// Package predicate builds the row predicates of the builtin map metrics for
// backends that evaluate rows in process.
package predicate

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Func reports whether a value is unexpected.
type Func func(value any) (bool, error)

// Build returns the unexpected-row predicate of a map metric base for a condition request.
func Build(base string, cfg metrics.Config) (Func, error) {
	switch base {
	case metrics.ColumnValuesNonNull:
		return func(value any) (bool, error) { return IsNull(value), nil }, nil
	case metrics.ColumnValuesNull:
		return func(value any) (bool, error) { return !IsNull(value), nil }, nil
	case metrics.ColumnValuesInSet, metrics.ColumnValuesNotInSet:
		set, err := ValueSet(cfg)
		if err != nil {
			return nil, err
		}

		member := InSet(set)
		unexpectedMember := base == metrics.ColumnValuesNotInSet

		return skipNulls(func(value any) (bool, error) {
			return member(value) == unexpectedMember, nil
		}), nil
	case metrics.ColumnValuesBetween:
		bounds, err := ParseBounds(cfg)
		if err != nil {
			return nil, err
		}

		return skipNulls(func(value any) (bool, error) {
			inside, err := bounds.Contains(value)
			if err != nil {
				return false, err
			}

			return !inside, nil
		}), nil
	case metrics.ColumnValuesMatchRegex:
		re, err := Regex(cfg)
		if err != nil {
			return nil, err
		}

		return skipNulls(matcher(re)), nil
	case metrics.ColumnValuesMatchLike:
		re, err := Like(cfg)
		if err != nil {
			return nil, err
		}

		return skipNulls(matcher(re)), nil
	default:
		return nil, fmt.Errorf("%w: no row predicate for %s", metrics.ErrUnsupportedMetric, base)
	}
}

// skipNulls makes null values never unexpected; they are counted as missing.
func skipNulls(fn Func) Func {
	return func(value any) (bool, error) {
		if IsNull(value) {
			return false, nil
		}

		return fn(value)
	}
}

func matcher(re *regexp.Regexp) Func {
	return func(value any) (bool, error) {
		s, err := cast.ToStringE(value)
		if err != nil {
			return false, fmt.Errorf("match %v: %w", value, err)
		}

		return !re.MatchString(s), nil
	}
}

// IsNull reports whether a value is missing. NaN counts as missing.
func IsNull(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(v)
	case float32:
		return math.IsNaN(float64(v))
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		return rv.IsNil()
	}

	return false
}

// ValueSet reads the value_set kwarg.
func ValueSet(cfg metrics.Config) ([]any, error) {
	raw, ok := cfg.Value(metrics.ValueKeyValueSet)
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s requires %s", metrics.ErrConfiguration, cfg.Name(), metrics.ValueKeyValueSet)
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %s must be a list, got %T", metrics.ErrConfiguration, metrics.ValueKeyValueSet, raw)
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, nil
}

// InSet returns a membership test over a value set using Equal.
func InSet(set []any) func(value any) bool {
	return func(value any) bool {
		for _, member := range set {
			if Equal(member, value) {
				return true
			}
		}

		return false
	}
}

// Equal compares two cell values. Numbers compare numerically regardless of
// their Go type; other values compare by type and content.
func Equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}

	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}

	return reflect.DeepEqual(a, b)
}

// Compare orders two cell values. Numbers compare numerically, strings
// lexically, times chronologically. Mixed values are coerced to numbers.
func Compare(a, b any) (int, error) {
	if isNumber(a) && isNumber(b) {
		return compareFloat(cast.ToFloat64(a), cast.ToFloat64(b)), nil
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), nil
		}
	}

	if at, ok := a.(time.Time); ok {
		bt, err := cast.ToTimeE(b)
		if err != nil {
			return 0, fmt.Errorf("compare %v with %v: %w", a, b, err)
		}

		return at.Compare(bt), nil
	}

	af, err := cast.ToFloat64E(a)
	if err != nil {
		return 0, fmt.Errorf("compare %v with %v: %w", a, b, err)
	}

	bf, err := cast.ToFloat64E(b)
	if err != nil {
		return 0, fmt.Errorf("compare %v with %v: %w", a, b, err)
	}

	return compareFloat(af, bf), nil
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}

	return false
}

// Bounds is an optionally open range.
type Bounds struct {
	Min       any
	Max       any
	StrictMin bool
	StrictMax bool
}

// ParseBounds reads min_value, max_value, strict_min and strict_max. At least
// one bound is required.
func ParseBounds(cfg metrics.Config) (Bounds, error) {
	return BoundsFromKwargs(cfg.Name(), cfg.ValueKwargs())
}

// BoundsFromKwargs reads bounds from a parameter mapping. name labels errors.
func BoundsFromKwargs(name string, kwargs metrics.Kwargs) (Bounds, error) {
	b := Bounds{
		Min: kwargs[metrics.ValueKeyMinValue],
		Max: kwargs[metrics.ValueKeyMaxValue],
	}

	if b.Min == nil && b.Max == nil {
		return Bounds{}, fmt.Errorf("%w: %s requires %s or %s",
			metrics.ErrConfiguration, name, metrics.ValueKeyMinValue, metrics.ValueKeyMaxValue)
	}

	for key, target := range map[string]*bool{
		metrics.ValueKeyStrictMin: &b.StrictMin,
		metrics.ValueKeyStrictMax: &b.StrictMax,
	} {
		raw := kwargs[key]
		if raw == nil {
			continue
		}

		strict, err := cast.ToBoolE(raw)
		if err != nil {
			return Bounds{}, fmt.Errorf("%w: %s: %w", metrics.ErrConfiguration, key, err)
		}

		*target = strict
	}

	if b.Min != nil && b.Max != nil {
		cmp, err := Compare(b.Min, b.Max)
		if err != nil {
			return Bounds{}, fmt.Errorf("%w: %w", metrics.ErrConfiguration, err)
		}

		if cmp > 0 {
			return Bounds{}, fmt.Errorf("%w: %s must not exceed %s",
				metrics.ErrConfiguration, metrics.ValueKeyMinValue, metrics.ValueKeyMaxValue)
		}
	}

	return b, nil
}

// Contains reports whether value lies within the bounds.
func (b Bounds) Contains(value any) (bool, error) {
	if b.Min != nil {
		cmp, err := Compare(value, b.Min)
		if err != nil {
			return false, err
		}

		if cmp < 0 || (b.StrictMin && cmp == 0) {
			return false, nil
		}
	}

	if b.Max != nil {
		cmp, err := Compare(value, b.Max)
		if err != nil {
			return false, err
		}

		if cmp > 0 || (b.StrictMax && cmp == 0) {
			return false, nil
		}
	}

	return true, nil
}

// Regex compiles the regex kwarg.
func Regex(cfg metrics.Config) (*regexp.Regexp, error) {
	pattern, err := stringKwarg(cfg, metrics.ValueKeyRegex)
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", metrics.ErrConfiguration, metrics.ValueKeyRegex, err)
	}

	return re, nil
}

// Like compiles the like_pattern kwarg into an anchored regular expression.
func Like(cfg metrics.Config) (*regexp.Regexp, error) {
	pattern, err := stringKwarg(cfg, metrics.ValueKeyLike)
	if err != nil {
		return nil, err
	}

	expr, err := LikeToRegex(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", metrics.ErrConfiguration, metrics.ValueKeyLike, err)
	}

	return regexp.Compile(expr)
}

// ErrLikeEscape is returned for a LIKE pattern ending in an escape.
var ErrLikeEscape = errors.New("like pattern ends with the escape character")

// LikeToRegex translates a SQL LIKE pattern: % matches any run, _ one
// character and a backslash makes the next character literal.
func LikeToRegex(pattern string) (string, error) {
	var sb strings.Builder

	sb.WriteString("(?s)^")

	escaped := false

	for _, r := range pattern {
		if escaped {
			sb.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false

			continue
		}

		switch r {
		case '\\':
			escaped = true
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	if escaped {
		return "", ErrLikeEscape
	}

	sb.WriteString("$")

	return sb.String(), nil
}

func stringKwarg(cfg metrics.Config, key string) (string, error) {
	raw, ok := cfg.Value(key)
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s requires %s", metrics.ErrConfiguration, cfg.Name(), key)
	}

	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", metrics.ErrConfiguration, key, raw)
	}

	return s, nil
}
