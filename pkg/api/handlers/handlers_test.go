package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dqc/internal/testutil"
	"github.com/ethpandaops/dqc/pkg/catalog"
	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/result"
	"github.com/ethpandaops/dqc/pkg/validation"
)

func newApp(t *testing.T, validator validation.Validator) *fiber.App {
	t.Helper()

	c, err := catalog.Default()
	require.NoError(t, err)

	server := NewServer(validator, c, 5*time.Second, 4, testutil.Logger())

	app := fiber.New()
	app.Post("/validate", server.Validate)
	app.Get("/expectations", server.ListExpectations)
	app.Get("/metrics", server.ListMetrics)

	return app
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

func do(t *testing.T, app *fiber.App, req *http.Request) (int, []byte) {
	t.Helper()

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func post(t *testing.T, app *fiber.App, body string) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	return do(t, app, req)
}

const fixtureBatch = `
	"batch_id": "fixture",
	"columns": ["a", "b"],
	"rows": [[1, "cat"], [5, "fish"], [22, "dog"], [3, "giraffe"], [5, "lion"], [10, "zebra"]]`

func TestValidate(t *testing.T) {
	app := newApp(t, newValidator(t))

	for _, partitions := range []int{1, 3} {
		t.Run(fmt.Sprintf("partitions %d", partitions), func(t *testing.T) {
			status, body := post(t, app, `{`+fixtureBatch+`,
				"partitions": `+fmt.Sprint(partitions)+`,
				"expectations": [{
					"expectation_type": "expect_column_values_to_be_in_set",
					"kwargs": {"column": "a", "value_set": [1, 5, 22], "result_format": "COMPLETE"}
				}, {
					"expectation_type": "expect_table_row_count_to_be_between",
					"kwargs": {"min_value": 1, "max_value": 10}
				}]
			}`)
			require.Equal(t, http.StatusOK, status, string(body))

			var out validation.SuiteResult
			require.NoError(t, json.Unmarshal(body, &out))

			assert.Equal(t, "inline", out.SuiteName)
			assert.Equal(t, "fixture", out.BatchID)
			assert.False(t, out.Success)
			assert.Equal(t, 2, out.Statistics.EvaluatedExpectations)
			assert.Equal(t, 1, out.Statistics.SuccessfulExpectations)

			require.Len(t, out.Results, 2)
			assert.Equal(t, []any{3.0, 10.0}, out.Results[0].Result[result.FieldUnexpectedList])
			assert.Equal(t, []any{3.0, 5.0}, out.Results[0].Result[result.FieldUnexpectedIndexList])
			assert.True(t, out.Results[1].Success)
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	app := newApp(t, newValidator(t))

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "malformed body",
			body:       `{"columns": [`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no columns",
			body:       `{"rows": [], "expectations": []}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no expectations",
			body:       `{` + fixtureBatch + `, "expectations": []}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too many partitions",
			body:       `{` + fixtureBatch + `, "partitions": 9, "expectations": [{"expectation_type": "expect_table_row_count_to_be_between", "kwargs": {"min_value": 1}}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "ragged rows",
			body:       `{"columns": ["a", "b"], "rows": [[1]], "expectations": [{"expectation_type": "expect_table_row_count_to_be_between", "kwargs": {"min_value": 1}}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "rows without result_format",
			body: `{` + fixtureBatch + `, "expectations": [{
				"expectation_type": "expect_column_values_to_be_in_set",
				"kwargs": {"column": "a", "value_set": [1], "result_format": {"include_unexpected_rows": true}}
			}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "duplicate list keys",
			body:       `{"columns": ["k"], "key_column": "k", "rows": [[[1]], [[1]]], "expectations": [{"expectation_type": "expect_table_row_count_to_be_between", "kwargs": {"min_value": 1}}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "sql row condition on an inline batch",
			body: `{` + fixtureBatch + `, "expectations": [{
				"expectation_type": "expect_column_values_to_be_in_set",
				"kwargs": {"column": "a", "value_set": [1], "row_condition": "a > 1", "condition_parser": "sql"}
			}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown rule",
			body:       `{` + fixtureBatch + `, "expectations": [{"expectation_type": "expect_magic", "kwargs": {}}]}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, app, tt.body)
			assert.Equal(t, tt.wantStatus, status, string(body))
		})
	}
}

func TestValidate_ValidatorFailure(t *testing.T) {
	mock := validation.NewMockValidator()
	mock.ValidateSuiteFunc = func(context.Context, metrics.Engine, *expectations.Suite) (*validation.SuiteResult, error) {
		return nil, fmt.Errorf("%w: boom", metrics.ErrBackendExecution)
	}

	app := newApp(t, mock)

	status, body := post(t, app, `{`+fixtureBatch+`, "expectations": [{"expectation_type": "expect_table_row_count_to_be_between", "kwargs": {"min_value": 1}}]}`)
	assert.Equal(t, http.StatusInternalServerError, status)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(body, &response))
	assert.Contains(t, response.Error, "boom")

	require.Equal(t, 1, mock.GetSuiteCallCount())
	assert.Equal(t, metrics.KindMemory, mock.SuiteCalls[0].Backend)
	assert.Equal(t, "fixture", mock.SuiteCalls[0].BatchID)
}

func TestValidate_NormalizesNumbers(t *testing.T) {
	mock := validation.NewMockValidator()
	app := newApp(t, mock)

	status, _ := post(t, app, `{`+fixtureBatch+`, "expectations": [{
		"expectation_type": "expect_column_values_to_be_between",
		"kwargs": {"column": "a", "min_value": 1, "max_value": 2.5}
	}]}`)
	require.Equal(t, http.StatusOK, status)

	require.Equal(t, 1, mock.GetSuiteCallCount())

	kwargs := mock.SuiteCalls[0].Suite.Expectations[0].Kwargs
	assert.Equal(t, 1, kwargs["min_value"])
	assert.Equal(t, 2.5, kwargs["max_value"])
}

func TestListExpectations(t *testing.T) {
	app := newApp(t, newValidator(t))

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/expectations", http.NoBody))
	require.Equal(t, http.StatusOK, status)

	var response struct {
		Expectations []struct {
			Type string `json:"expectation_type"`
			Kind string `json:"kind"`
		} `json:"expectations"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &response))

	assert.Equal(t, 15, response.Total)
	assert.Len(t, response.Expectations, 15)
}

func TestListMetrics(t *testing.T) {
	app := newApp(t, newValidator(t))

	tests := []struct {
		name         string
		query        string
		wantStatus   int
		wantBackends []string
	}{
		{name: "all", query: "", wantStatus: http.StatusOK, wantBackends: []string{"memory", "sql", "partitioned"}},
		{name: "sql", query: "?backend=sql", wantStatus: http.StatusOK, wantBackends: []string{"sql"}},
		{name: "unknown", query: "?backend=spark", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/metrics"+tt.query, http.NoBody))
			require.Equal(t, tt.wantStatus, status)

			if tt.wantStatus != http.StatusOK {
				return
			}

			var response MetricsResponse
			require.NoError(t, json.Unmarshal(body, &response))

			backends := make([]string, 0, len(response.Backends))
			for kind, descriptors := range response.Backends {
				backends = append(backends, string(kind))
				assert.NotEmpty(t, descriptors)
			}

			assert.ElementsMatch(t, tt.wantBackends, backends)
			assert.Positive(t, response.Total)
		})
	}
}

func TestNormalizeJSON(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{in: 3.0, want: 3},
		{in: 2.5, want: 2.5},
		{in: "x", want: "x"},
		{in: nil, want: nil},
		{in: []any{1.0, "a"}, want: []any{1, "a"}},
		{in: map[string]any{"n": 4.0}, want: map[string]any{"n": 4}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeJSON(tt.in))
	}
}
