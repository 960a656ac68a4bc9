package handlers

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/source"
)

// Validate handles POST /api/v1/validate
func (s *Server) Validate(c fiber.Ctx) error {
	var req ValidateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrInvalidBody
	}

	req.normalize()

	if err := req.check(s.maxPartitions); err != nil {
		return err
	}

	suite := &expectations.Suite{Name: req.SuiteName, Expectations: req.Expectations}
	if err := suite.Validate(); err != nil {
		return s.fail(c, err)
	}

	var opts []memory.Option
	if req.KeyColumn != "" {
		opts = append(opts, memory.WithKeyColumn(req.KeyColumn))
	}

	table, err := memory.FromRows(req.BatchID, req.Columns, req.Rows, opts...)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	batch, err := source.NewMemoryBatch(s.log, table, req.Partitions)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	defer batch.Close()

	ctx, cancel := context.WithTimeout(c.Context(), s.requestTimeout)
	defer cancel()

	out, err := s.validator.ValidateSuite(ctx, batch.Engine, suite)
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(out)
}

// ListExpectations handles GET /api/v1/expectations
func (s *Server) ListExpectations(c fiber.Ctx) error {
	rules := s.validator.Registry().Rules()

	return c.Status(fiber.StatusOK).JSON(ExpectationsResponse{
		Expectations: rules,
		Total:        len(rules),
	})
}

// ListMetrics handles GET /api/v1/metrics, optionally filtered by ?backend=
func (s *Server) ListMetrics(c fiber.Ctx) error {
	kinds := metrics.Kinds()

	if backend := c.Query("backend"); backend != "" {
		kind, err := metrics.ParseKind(backend)
		if err != nil {
			return ErrUnknownBackend
		}

		kinds = []metrics.Kind{kind}
	}

	response := MetricsResponse{Backends: make(map[metrics.Kind][]metrics.Descriptor, len(kinds))}

	for _, kind := range kinds {
		descriptors := s.catalog.Descriptors(kind)
		response.Backends[kind] = descriptors
		response.Total += len(descriptors)
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (s *Server) fail(c fiber.Ctx, err error) error {
	code := statusOf(err)
	if code == fiber.StatusInternalServerError {
		s.log.WithError(err).Error("Validation failed")
	}

	return c.Status(code).JSON(ErrorResponse{Error: err.Error(), Code: code})
}
