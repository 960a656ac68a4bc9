package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    Options
		wantErr error
	}{
		{
			name: "unset",
			raw:  nil,
			want: Options{Format: FormatBasic, PartialUnexpectedCount: 20},
		},
		{
			name: "level name",
			raw:  "summary",
			want: Options{Format: FormatSummary, PartialUnexpectedCount: 20},
		},
		{
			name: "mapping",
			raw: map[string]any{
				"result_format":            "COMPLETE",
				"include_unexpected_rows":  true,
				"partial_unexpected_count": 5,
			},
			want: Options{Format: FormatComplete, PartialUnexpectedCount: 5, IncludeUnexpectedRows: true},
		},
		{
			name: "mapping with explicit false rows",
			raw:  map[string]any{"result_format": "SUMMARY", "include_unexpected_rows": false},
			want: Options{Format: FormatSummary, PartialUnexpectedCount: 20},
		},
		{
			name: "yaml style mapping",
			raw:  map[any]any{"result_format": "BOOLEAN_ONLY"},
			want: Options{Format: FormatBooleanOnly, PartialUnexpectedCount: 20},
		},
		{
			name:    "rows without explicit format",
			raw:     map[string]any{"include_unexpected_rows": true},
			wantErr: metrics.ErrConfiguration,
		},
		{
			name:    "explicit false rows without format",
			raw:     map[string]any{"include_unexpected_rows": false},
			wantErr: metrics.ErrConfiguration,
		},
		{
			name:    "unknown level",
			raw:     "VERBOSE",
			wantErr: metrics.ErrConfiguration,
		},
		{
			name:    "unknown option",
			raw:     map[string]any{"result_format": "BASIC", "colour": "red"},
			wantErr: metrics.ErrConfiguration,
		},
		{
			name:    "negative partial count",
			raw:     map[string]any{"result_format": "BASIC", "partial_unexpected_count": -1},
			wantErr: metrics.ErrConfiguration,
		},
		{
			name:    "wrong type",
			raw:     42,
			wantErr: metrics.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptions_ListLimit(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLimit int
		wantFetch bool
	}{
		{name: "boolean only", opts: Options{Format: FormatBooleanOnly, PartialUnexpectedCount: 20}},
		{name: "basic", opts: Options{Format: FormatBasic, PartialUnexpectedCount: 20}, wantLimit: 20, wantFetch: true},
		{name: "basic without partials", opts: Options{Format: FormatBasic}},
		{name: "complete", opts: Options{Format: FormatComplete, PartialUnexpectedCount: 3}, wantFetch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, fetch := tt.opts.ListLimit()
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantFetch, fetch)
		})
	}
}
