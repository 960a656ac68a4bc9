// Package result shapes resolved metrics into validation results.
package result

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Format is the detail level of a result.
type Format string

// Detail levels, each a superset of the previous one
const (
	FormatBooleanOnly Format = "BOOLEAN_ONLY"
	FormatBasic       Format = "BASIC"
	FormatSummary     Format = "SUMMARY"
	FormatComplete    Format = "COMPLETE"
)

// Option keys of a mapping-form result_format
const (
	KeyResultFormat           = "result_format"
	KeyPartialUnexpectedCount = "partial_unexpected_count"
	KeyIncludeUnexpectedRows  = "include_unexpected_rows"
)

// DefaultPartialUnexpectedCount is the partial list length when unset
const DefaultPartialUnexpectedCount = 20

func (f Format) rank() int {
	switch f {
	case FormatBooleanOnly:
		return 0
	case FormatBasic:
		return 1
	case FormatSummary:
		return 2
	case FormatComplete:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether f includes every field of other.
func (f Format) AtLeast(other Format) bool {
	return f.rank() >= other.rank()
}

// ParseFormat parses a detail level name, case insensitive.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	if f.rank() < 0 {
		return "", fmt.Errorf("%w: unknown result_format %q", metrics.ErrConfiguration, s)
	}

	return f, nil
}

// Options is a parsed result_format.
type Options struct {
	Format                 Format `json:"result_format" yaml:"result_format"`
	PartialUnexpectedCount int    `json:"partial_unexpected_count" yaml:"partial_unexpected_count"`
	IncludeUnexpectedRows  bool   `json:"include_unexpected_rows" yaml:"include_unexpected_rows"`
}

// DefaultOptions is the result_format of a rule that sets none.
func DefaultOptions() Options {
	return Options{
		Format:                 FormatBasic,
		PartialUnexpectedCount: DefaultPartialUnexpectedCount,
	}
}

// ParseOptions reads a result_format kwarg: nil, a level name, or a mapping.
// A mapping carrying include_unexpected_rows must name its result_format.
func ParseOptions(raw any) (Options, error) {
	opts := DefaultOptions()

	switch v := raw.(type) {
	case nil:
		return opts, nil
	case string:
		format, err := ParseFormat(v)
		if err != nil {
			return Options{}, err
		}

		opts.Format = format

		return opts, nil
	case Options:
		if v.Format.rank() < 0 {
			return Options{}, fmt.Errorf("%w: unknown result_format %q", metrics.ErrConfiguration, v.Format)
		}

		return v, nil
	}

	mapping, err := cast.ToStringMapE(raw)
	if err != nil {
		return Options{}, fmt.Errorf("%w: result_format must be a string or a mapping, got %T", metrics.ErrConfiguration, raw)
	}

	for key := range mapping {
		switch key {
		case KeyResultFormat, KeyPartialUnexpectedCount, KeyIncludeUnexpectedRows:
		default:
			return Options{}, fmt.Errorf("%w: unknown result_format option %q", metrics.ErrConfiguration, key)
		}
	}

	format, explicit := mapping[KeyResultFormat]
	if explicit {
		name, ok := format.(string)
		if !ok {
			return Options{}, fmt.Errorf("%w: %s must be a string, got %T", metrics.ErrConfiguration, KeyResultFormat, format)
		}

		if opts.Format, err = ParseFormat(name); err != nil {
			return Options{}, err
		}
	}

	if rows, ok := mapping[KeyIncludeUnexpectedRows]; ok {
		if !explicit {
			return Options{}, fmt.Errorf("%w: %s requires an explicit %s",
				metrics.ErrConfiguration, KeyIncludeUnexpectedRows, KeyResultFormat)
		}

		if opts.IncludeUnexpectedRows, err = cast.ToBoolE(rows); err != nil {
			return Options{}, fmt.Errorf("%w: %s: %w", metrics.ErrConfiguration, KeyIncludeUnexpectedRows, err)
		}
	}

	if count, ok := mapping[KeyPartialUnexpectedCount]; ok {
		n, err := cast.ToIntE(count)
		if err != nil {
			return Options{}, fmt.Errorf("%w: %s: %w", metrics.ErrConfiguration, KeyPartialUnexpectedCount, err)
		}

		if n < 0 {
			return Options{}, fmt.Errorf("%w: %s must not be negative", metrics.ErrConfiguration, KeyPartialUnexpectedCount)
		}

		opts.PartialUnexpectedCount = n
	}

	return opts, nil
}

// NeedsValues reports whether unexpected values are part of the result.
func (o Options) NeedsValues() bool { return o.Format.AtLeast(FormatBasic) }

// NeedsIndexes reports whether unexpected row identifiers are part of the result.
func (o Options) NeedsIndexes() bool { return o.Format.AtLeast(FormatSummary) }

// NeedsRows reports whether full unexpected rows are part of the result.
func (o Options) NeedsRows() bool {
	return o.IncludeUnexpectedRows && o.Format.AtLeast(FormatBasic)
}

// ListLimit returns the limit for list metrics, 0 meaning every row, and
// whether list metrics are fetched at all.
func (o Options) ListLimit() (int, bool) {
	switch {
	case o.Format.AtLeast(FormatComplete):
		return 0, true
	case !o.Format.AtLeast(FormatBasic), o.PartialUnexpectedCount == 0:
		return 0, false
	default:
		return o.PartialUnexpectedCount, true
	}
}
