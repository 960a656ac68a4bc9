package rowfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

func rowOf(values map[string]any) RowFunc {
	return func(column string) (any, bool) {
		v, ok := values[column]
		return v, ok
	}
}

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		row       map[string]any
		expected  bool
		wantErr   error
	}{
		{name: "numeric comparison", condition: "a > 3", row: map[string]any{"a": 5}, expected: true},
		{name: "float column", condition: "a >= 3", row: map[string]any{"a": 2.5}, expected: false},
		{name: "string equality", condition: `b == "cat"`, row: map[string]any{"b": "cat"}, expected: true},
		{name: "conjunction", condition: `a > 3 && b != "lion"`, row: map[string]any{"a": 5, "b": "lion"}, expected: false},
		{name: "function", condition: `upper(b) == "ZEBRA"`, row: map[string]any{"b": "zebra"}, expected: true},
		{name: "null operand never matches", condition: "a > 3", row: map[string]any{"a": nil}, expected: false},
		{name: "null check", condition: "a == null", row: map[string]any{"a": nil}, expected: true},
		{name: "unknown column", condition: "c > 1", row: map[string]any{"a": 1}, wantErr: metrics.ErrMetricResolution},
		{name: "not boolean", condition: "a + 1", row: map[string]any{"a": 1}, wantErr: metrics.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := Compile(tt.condition)
			require.NoError(t, err)

			got, err := filter.Match(rowOf(tt.row))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCompile(t *testing.T) {
	filter, err := Compile(`b == "x" || a > 1 && a < 10`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, filter.Columns())

	_, err = Compile("a >")
	assert.ErrorIs(t, err, metrics.ErrConfiguration)
}

func TestCheckDomain(t *testing.T) {
	assert.NoError(t, CheckDomain(metrics.Domain{BatchID: "b"}))
	assert.NoError(t, CheckDomain(metrics.Domain{BatchID: "b", RowCondition: "a > 1", ConditionParser: Dialect}))

	err := CheckDomain(metrics.Domain{BatchID: "b", RowCondition: "a > 1", ConditionParser: "sql"})
	assert.ErrorIs(t, err, metrics.ErrConfiguration)

	err = CheckDomain(metrics.Domain{BatchID: "b", RowCondition: "a >", ConditionParser: Dialect})
	assert.ErrorIs(t, err, metrics.ErrConfiguration)
}

func TestForDomain(t *testing.T) {
	filter, err := ForDomain(metrics.Domain{BatchID: "b"})
	require.NoError(t, err)
	assert.Nil(t, filter)

	filter, err = ForDomain(metrics.Domain{BatchID: "b", RowCondition: "a > 1", ConditionParser: Dialect})
	require.NoError(t, err)

	matched, err := filter.Match(func(string) (any, bool) { return 3, true })
	require.NoError(t, err)
	assert.True(t, matched)
}
