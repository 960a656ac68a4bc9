package handlers

import (
	"errors"
	"fmt"
	"math"

	"github.com/gofiber/fiber/v3"

	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// ValidateRequest is the body of POST /api/v1/validate: an inline batch and the
// rules to validate it against.
type ValidateRequest struct {
	SuiteName    string                 `json:"suite_name"`
	BatchID      string                 `json:"batch_id"`
	Columns      []string               `json:"columns"`
	Rows         [][]any                `json:"rows"`
	KeyColumn    string                 `json:"key_column,omitempty"`
	Partitions   int                    `json:"partitions,omitempty"`
	Expectations []expectations.Request `json:"expectations"`
}

// ExpectationsResponse lists the registered rules
type ExpectationsResponse struct {
	Expectations []expectations.Rule `json:"expectations"`
	Total        int                 `json:"total"`
}

// MetricsResponse lists the metric providers of one or every backend
type MetricsResponse struct {
	Backends map[metrics.Kind][]metrics.Descriptor `json:"backends"`
	Total    int                                   `json:"total"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// statusOf maps a validation error to an HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, metrics.ErrConfiguration),
		errors.Is(err, expectations.ErrSuiteNameRequired),
		errors.Is(err, expectations.ErrEmptySuite):
		return fiber.StatusBadRequest
	case errors.Is(err, metrics.ErrUnsupportedMetric):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// normalizeJSON turns integral JSON numbers into ints so decoded batches and
// kwargs compare and render like loaded ones.
func normalizeJSON(value any) any {
	switch v := value.(type) {
	case float64:
		if v == math.Trunc(v) && math.Abs(v) <= 1<<53 {
			return int(v)
		}

		return v
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeJSON(item)
		}

		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeJSON(item)
		}

		return out
	default:
		return value
	}
}

func (r *ValidateRequest) normalize() {
	if r.SuiteName == "" {
		r.SuiteName = "inline"
	}

	if r.BatchID == "" {
		r.BatchID = "inline"
	}

	if r.Partitions == 0 {
		r.Partitions = 1
	}

	for i, row := range r.Rows {
		for j, value := range row {
			r.Rows[i][j] = normalizeJSON(value)
		}
	}

	for i, req := range r.Expectations {
		kwargs := make(metrics.Kwargs, len(req.Kwargs))
		for key, value := range req.Kwargs {
			kwargs[key] = normalizeJSON(value)
		}

		r.Expectations[i].Kwargs = kwargs
	}
}

func (r *ValidateRequest) check(maxPartitions int) error {
	if len(r.Columns) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "columns are required")
	}

	if r.Partitions < 1 || r.Partitions > maxPartitions {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("partitions must be within [1, %d]", maxPartitions))
	}

	return nil
}
