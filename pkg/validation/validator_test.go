package validation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dqc/internal/testutil"
	"github.com/ethpandaops/dqc/pkg/backend/memory"
	"github.com/ethpandaops/dqc/pkg/backend/partitioned"
	"github.com/ethpandaops/dqc/pkg/backend/sqlengine"
	"github.com/ethpandaops/dqc/pkg/catalog"
	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/result"
	"github.com/ethpandaops/dqc/pkg/validation"
)

var errQuery = errors.New("connection reset")

// failingQuerier fails every query.
type failingQuerier struct{}

func (failingQuerier) QueryRows(context.Context, string) ([]string, [][]any, error) {
	return nil, nil, errQuery
}

// countingQuerier counts queries and fails them.
type countingQuerier struct {
	calls int
}

func (q *countingQuerier) QueryRows(context.Context, string) ([]string, [][]any, error) {
	q.calls++

	return nil, nil, errQuery
}

func newValidator(t *testing.T) validation.Validator {
	t.Helper()

	c, err := catalog.Default()
	require.NoError(t, err)

	registry, err := expectations.Builtin()
	require.NoError(t, err)

	resolver := metrics.NewResolver(testutil.Logger(), c, metrics.ResolverConfig{
		Concurrency:        4,
		MaterializeTimeout: 5 * time.Second,
	})

	return validation.NewValidator(testutil.Logger(), resolver, registry)
}

// fixtureEngines binds the fixture batch to every backend.
func fixtureEngines(t *testing.T) map[string]metrics.Engine {
	t.Helper()

	frame, err := partitioned.Split(testutil.FixtureTable(t), 3)
	require.NoError(t, err)

	return map[string]metrics.Engine{
		"memory":      memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t)),
		"partitioned": partitioned.NewEngine(testutil.Logger(), frame, 2),
		"sql": sqlengine.NewEngine(testutil.Logger(), testutil.SQLiteFixture(t), sqlengine.SQLite(),
			testutil.FixtureBatchID, testutil.FixtureTableName),
	}
}

func inSet(format any) expectations.Request {
	kwargs := metrics.Kwargs{
		expectations.KeyColumn: "a",
		metrics.ValueKeyValueSet: []any{1, 5, 22},
	}

	if format != nil {
		kwargs[expectations.KeyResultFormat] = format
	}

	return expectations.Request{Type: "expect_column_values_to_be_in_set", Kwargs: kwargs}
}

func TestValidateRule_CompleteFormat(t *testing.T) {
	v := newValidator(t)

	for name, engine := range fixtureEngines(t) {
		t.Run(name, func(t *testing.T) {
			res, err := v.ValidateRule(context.Background(), engine, inSet("COMPLETE"))
			require.NoError(t, err)

			assert.False(t, res.Success)
			assert.False(t, res.ExceptionInfo.RaisedException)
			assert.Equal(t, 6, res.Result[result.FieldElementCount])
			assert.Equal(t, 2, res.Result[result.FieldUnexpectedCount])
			assert.InDelta(t, 33.333, res.Result[result.FieldUnexpectedPercent], 0.001)
			assert.InDelta(t, 33.333, res.Result[result.FieldUnexpectedPercentNonmissing], 0.001)
			assert.Equal(t, []any{3, 10}, res.Result[result.FieldUnexpectedList])
			assert.Equal(t, []any{3, 5}, res.Result[result.FieldUnexpectedIndexList])
			assert.Equal(t, []any{3, 10}, res.Result[result.FieldPartialUnexpectedList])
			assert.NotContains(t, res.Result, result.FieldUnexpectedRows)
		})
	}
}

func TestValidateRule_UnexpectedRows(t *testing.T) {
	v := newValidator(t)

	format := map[string]any{
		result.KeyResultFormat:          "COMPLETE",
		result.KeyIncludeUnexpectedRows: true,
	}

	for name, engine := range fixtureEngines(t) {
		t.Run(name, func(t *testing.T) {
			res, err := v.ValidateRule(context.Background(), engine, inSet(format))
			require.NoError(t, err)

			assert.Equal(t, []map[string]any{
				{"a": 3, "b": "giraffe"},
				{"a": 10, "b": "zebra"},
			}, res.Result[result.FieldUnexpectedRows])
		})
	}
}

func TestValidateRule_RowsWithoutFormat(t *testing.T) {
	v := newValidator(t)
	engine := memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t))

	req := inSet(map[string]any{result.KeyIncludeUnexpectedRows: true})
	req.Kwargs[expectations.KeyCatchExceptions] = true

	_, err := v.ValidateRule(context.Background(), engine, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, metrics.ErrConfiguration)
}

func TestValidateRule_Mostly(t *testing.T) {
	v := newValidator(t)
	engine := memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t))

	tests := []struct {
		mostly  float64
		success bool
	}{
		{mostly: 0.9, success: false},
		{mostly: 0.6, success: true},
		{mostly: 4.0 / 6.0, success: true},
		{mostly: 0, success: true},
	}

	for _, tt := range tests {
		req := inSet(nil)
		req.Kwargs[expectations.KeyMostly] = tt.mostly

		res, err := v.ValidateRule(context.Background(), engine, req)
		require.NoError(t, err)
		assert.Equal(t, tt.success, res.Success, "mostly %v", tt.mostly)
	}
}

func TestValidateRule_Formats(t *testing.T) {
	v := newValidator(t)
	engine := memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t))

	t.Run("boolean only", func(t *testing.T) {
		res, err := v.ValidateRule(context.Background(), engine, inSet("BOOLEAN_ONLY"))
		require.NoError(t, err)

		assert.False(t, res.Success)
		assert.Empty(t, res.Result)
	})

	t.Run("basic", func(t *testing.T) {
		res, err := v.ValidateRule(context.Background(), engine, inSet(nil))
		require.NoError(t, err)

		assert.Equal(t, []any{3, 10}, res.Result[result.FieldPartialUnexpectedList])
		assert.NotContains(t, res.Result, result.FieldPartialUnexpectedIndexList)
		assert.NotContains(t, res.Result, result.FieldUnexpectedList)
	})

	t.Run("summary truncated", func(t *testing.T) {
		res, err := v.ValidateRule(context.Background(), engine, inSet(map[string]any{
			result.KeyResultFormat:           "SUMMARY",
			result.KeyPartialUnexpectedCount: 1,
		}))
		require.NoError(t, err)

		assert.Equal(t, []any{3}, res.Result[result.FieldPartialUnexpectedList])
		assert.Equal(t, []any{3}, res.Result[result.FieldPartialUnexpectedIndexList])
		assert.Equal(t, 2, res.Result[result.FieldUnexpectedCount])
	})
}

func TestValidateRule_MissingValues(t *testing.T) {
	v := newValidator(t)

	table, err := memory.FromRows("sparse", []string{"a"}, [][]any{{1}, {nil}, {3}, {7}})
	require.NoError(t, err)

	engine := memory.NewEngine(testutil.Logger(), table)

	res, err := v.ValidateRule(context.Background(), engine, expectations.Request{
		Type: "expect_column_values_to_be_in_set",
		Kwargs: metrics.Kwargs{
			expectations.KeyColumn:   "a",
			metrics.ValueKeyValueSet: []any{1, 3},
			expectations.KeyMostly:   0.6,
		},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 4, res.Result[result.FieldElementCount])
	assert.Equal(t, 1, res.Result[result.FieldMissingCount])
	assert.Equal(t, 1, res.Result[result.FieldUnexpectedCount])
	assert.InDelta(t, 25.0, res.Result[result.FieldUnexpectedPercent], 1e-9)
	assert.InDelta(t, 100.0/3.0, res.Result[result.FieldUnexpectedPercentNonmissing], 1e-9)
	assert.InDelta(t, 25.0, res.Result[result.FieldMissingPercent], 1e-9)
}

func TestValidateRule_NotNullHasNoMissing(t *testing.T) {
	v := newValidator(t)

	table, err := memory.FromRows("sparse", []string{"a"}, [][]any{{1}, {nil}, {3}, {nil}})
	require.NoError(t, err)

	res, err := v.ValidateRule(context.Background(), memory.NewEngine(testutil.Logger(), table), expectations.Request{
		Type:   "expect_column_values_to_not_be_null",
		Kwargs: metrics.Kwargs{expectations.KeyColumn: "a"},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Result[result.FieldMissingCount])
	assert.Equal(t, 2, res.Result[result.FieldUnexpectedCount])
	assert.Equal(t, []any{nil, nil}, res.Result[result.FieldPartialUnexpectedList])
}

func TestValidateRule_Observed(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name     string
		req      expectations.Request
		success  bool
		observed any
	}{
		{
			name: "max in range",
			req: expectations.Request{
				Type: "expect_column_max_to_be_between",
				Kwargs: metrics.Kwargs{
					expectations.KeyColumn:   "a",
					metrics.ValueKeyMinValue: 20,
					metrics.ValueKeyMaxValue: 25,
				},
			},
			success:  true,
			observed: 22.0,
		},
		{
			name: "row count strict max",
			req: expectations.Request{
				Type: "expect_table_row_count_to_be_between",
				Kwargs: metrics.Kwargs{
					metrics.ValueKeyMaxValue:  6,
					metrics.ValueKeyStrictMax: true,
				},
			},
			success:  false,
			observed: 6.0,
		},
		{
			name: "sum below",
			req: expectations.Request{
				Type: "expect_column_sum_to_be_between",
				Kwargs: metrics.Kwargs{
					expectations.KeyColumn:   "a",
					metrics.ValueKeyMinValue: 100,
				},
			},
			success:  false,
			observed: 46.0,
		},
	}

	for name, engine := range fixtureEngines(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				res, err := v.ValidateRule(context.Background(), engine, tt.req)
				require.NoError(t, err)

				assert.Equal(t, tt.success, res.Success)
				assert.InDelta(t, tt.observed, cast.ToFloat64(res.ObservedValue), 1e-9)
				assert.Equal(t, res.ObservedValue, res.Result[result.FieldObservedValue])
			})
		}
	}
}

func TestValidateRule_ColumnList(t *testing.T) {
	v := newValidator(t)

	for name, engine := range fixtureEngines(t) {
		t.Run(name, func(t *testing.T) {
			res, err := v.ValidateRule(context.Background(), engine, expectations.Request{
				Type:   "expect_table_columns_to_match_ordered_list",
				Kwargs: metrics.Kwargs{expectations.KeyColumnList: []any{"a", "b"}},
			})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, []string{"a", "b"}, res.ObservedValue)

			res, err = v.ValidateRule(context.Background(), engine, expectations.Request{
				Type:   "expect_table_columns_to_match_ordered_list",
				Kwargs: metrics.Kwargs{expectations.KeyColumnList: []any{"b", "a"}},
			})
			require.NoError(t, err)
			assert.False(t, res.Success)
		})
	}
}

func TestValidateRule_Containment(t *testing.T) {
	v := newValidator(t)
	engine := sqlengine.NewEngine(testutil.Logger(), failingQuerier{}, sqlengine.SQLite(),
		testutil.FixtureBatchID, testutil.FixtureTableName)

	t.Run("caught", func(t *testing.T) {
		req := inSet(nil)
		req.Kwargs[expectations.KeyCatchExceptions] = true

		res, err := v.ValidateRule(context.Background(), engine, req)
		require.NoError(t, err)

		assert.False(t, res.Success)
		assert.Empty(t, res.Result)
		assert.True(t, res.ExceptionInfo.RaisedException)
		require.NotNil(t, res.ExceptionInfo.ExceptionMessage)
		assert.Contains(t, *res.ExceptionInfo.ExceptionMessage, errQuery.Error())
	})

	t.Run("raised", func(t *testing.T) {
		_, err := v.ValidateRule(context.Background(), engine, inSet(nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, metrics.ErrBackendExecution)
	})

	t.Run("unsupported is never caught", func(t *testing.T) {
		_, err := v.ValidateRule(context.Background(), engine, expectations.Request{
			Type: "expect_column_median_to_be_between",
			Kwargs: metrics.Kwargs{
				expectations.KeyColumn:          "a",
				metrics.ValueKeyMinValue:        1,
				expectations.KeyCatchExceptions: true,
			},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, metrics.ErrUnsupportedMetric)
	})
}

func TestValidateRule_ConfigurationErrors(t *testing.T) {
	v := newValidator(t)
	engine := memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t))

	tests := []struct {
		name string
		req  expectations.Request
	}{
		{name: "unknown rule", req: expectations.Request{Type: "expect_nothing"}},
		{name: "missing column", req: expectations.Request{
			Type:   "expect_column_values_to_be_in_set",
			Kwargs: metrics.Kwargs{metrics.ValueKeyValueSet: []any{1}},
		}},
		{name: "mostly out of range", req: expectations.Request{
			Type: "expect_column_values_to_be_in_set",
			Kwargs: metrics.Kwargs{
				expectations.KeyColumn:   "a",
				metrics.ValueKeyValueSet: []any{1},
				expectations.KeyMostly:   1.5,
			},
		}},
		{name: "unknown format", req: inSet("EVERYTHING")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateRule(context.Background(), engine, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, metrics.ErrConfiguration)
		})
	}
}

const suiteYAML = `
name: fixture_checks
expectations:
  - expectation_type: expect_table_row_count_to_be_between
    kwargs:
      min_value: 1
      max_value: 10
  - expectation_type: expect_column_values_to_be_in_set
    kwargs:
      column: a
      value_set: [1, 5, 22]
      mostly: 0.9
  - expectation_type: expect_column_values_to_not_be_null
    kwargs:
      column: b
  - expectation_type: expect_table_columns_to_match_ordered_list
    kwargs:
      column_list: [a, b]
`

func TestValidateSuite(t *testing.T) {
	v := newValidator(t)

	suite, err := expectations.ParseSuite([]byte(suiteYAML))
	require.NoError(t, err)

	for name, engine := range fixtureEngines(t) {
		t.Run(name, func(t *testing.T) {
			out, err := v.ValidateSuite(context.Background(), engine, suite)
			require.NoError(t, err)

			assert.NotEmpty(t, out.RunID)
			assert.Equal(t, "fixture_checks", out.SuiteName)
			assert.Equal(t, testutil.FixtureBatchID, out.BatchID)
			assert.Equal(t, string(engine.Kind()), out.Backend)
			assert.False(t, out.Success)

			assert.Equal(t, 4, out.Statistics.EvaluatedExpectations)
			assert.Equal(t, 3, out.Statistics.SuccessfulExpectations)
			assert.Equal(t, 1, out.Statistics.UnsuccessfulExpectations)
			assert.InDelta(t, 75.0, out.Statistics.SuccessPercent, 1e-9)

			require.Len(t, out.Results, 4)
			assert.Equal(t, "expect_column_values_to_be_in_set", out.Results[1].ExpectationConfig.Type)
			assert.False(t, out.Results[1].Success)
		})
	}
}

func TestValidateSuite_ConfigurationFirst(t *testing.T) {
	filtered := func(condition, parser string) expectations.Request {
		req := inSet(nil)
		req.Kwargs[expectations.KeyRowCondition] = condition
		req.Kwargs[expectations.KeyConditionParser] = parser

		return req
	}

	// The first rule of every suite fails on execution against the sql engine.
	failing := sqlengine.NewEngine(testutil.Logger(), failingQuerier{}, sqlengine.SQLite(),
		testutil.FixtureBatchID, testutil.FixtureTableName)

	tests := []struct {
		name   string
		engine metrics.Engine
		broken expectations.Request
	}{
		{
			name:   "missing kwarg",
			engine: failing,
			broken: expectations.Request{Type: "expect_column_values_to_be_in_set", Kwargs: metrics.Kwargs{expectations.KeyColumn: "a"}},
		},
		{
			name:   "unknown condition parser",
			engine: failing,
			broken: filtered("a > 1", "bogus"),
		},
		{
			name:   "hcl condition on sql",
			engine: failing,
			broken: filtered("a > 1", "hcl"),
		},
		{
			name:   "hcl syntax error",
			engine: memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t)),
			broken: filtered("a >", "hcl"),
		},
		{
			name:   "sql condition in memory",
			engine: memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t)),
			broken: filtered("a > 1", "sql"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite := &expectations.Suite{
				Name:         "broken",
				Expectations: []expectations.Request{inSet(nil), tt.broken},
			}

			_, err := newValidator(t).ValidateSuite(context.Background(), tt.engine, suite)
			require.Error(t, err)
			assert.ErrorIs(t, err, metrics.ErrConfiguration)
			assert.NotErrorIs(t, err, metrics.ErrBackendExecution)
		})
	}
}

func TestValidateRule_RowConditionRejectedBeforeQuerying(t *testing.T) {
	querier := &countingQuerier{}
	engine := sqlengine.NewEngine(testutil.Logger(), querier, sqlengine.SQLite(),
		testutil.FixtureBatchID, testutil.FixtureTableName)

	req := inSet(nil)
	req.Kwargs[expectations.KeyRowCondition] = "a > 1"
	req.Kwargs[expectations.KeyConditionParser] = "hcl"
	req.Kwargs[expectations.KeyCatchExceptions] = true

	_, err := newValidator(t).ValidateRule(context.Background(), engine, req)
	require.ErrorIs(t, err, metrics.ErrConfiguration)
	assert.Equal(t, 0, querier.calls)
}

func TestValidateSuite_Nil(t *testing.T) {
	v := newValidator(t)

	_, err := v.ValidateSuite(context.Background(), memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t)), nil)
	assert.ErrorIs(t, err, validation.ErrNilSuite)
}

func TestRequestMetrics(t *testing.T) {
	v := newValidator(t)
	engine := memory.NewEngine(testutil.Logger(), testutil.FixtureTable(t))

	cfg, err := metrics.RowCountConfig(metrics.Domain{BatchID: testutil.FixtureBatchID})
	require.NoError(t, err)

	values, err := v.RequestMetrics(context.Background(), engine, []metrics.Config{cfg})
	require.NoError(t, err)

	value, ok := values.Get(cfg)
	require.True(t, ok)
	assert.Equal(t, 6, value)
}
