// Package validation orchestrates rule validation: it turns rule requests into
// metric requests, resolves them and formats the results.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/observability"
	"github.com/ethpandaops/dqc/pkg/result"
)

// Validator validates rules against a batch bound to an engine
type Validator interface {
	// RequestMetrics resolves metric requests in one run
	RequestMetrics(ctx context.Context, engine metrics.Engine, configs []metrics.Config) (metrics.Values, error)

	// ValidateRule validates one rule. Configuration errors are always returned;
	// data dependent failures are recorded in the result when the rule sets catch_exceptions.
	ValidateRule(ctx context.Context, engine metrics.Engine, req expectations.Request) (result.ValidationResult, error)

	// ValidateSuite configures every rule of a suite, then validates them one by one
	ValidateSuite(ctx context.Context, engine metrics.Engine, suite *expectations.Suite) (*SuiteResult, error)

	// Registry returns the rule registry
	Registry() *expectations.Registry
}

// validator implements the Validator interface
type validator struct {
	log      logrus.FieldLogger
	resolver *metrics.Resolver
	registry *expectations.Registry
}

// NewValidator creates a new validator
func NewValidator(log logrus.FieldLogger, resolver *metrics.Resolver, registry *expectations.Registry) Validator {
	return &validator{
		log:      log.WithField("service", "validator"),
		resolver: resolver,
		registry: registry,
	}
}

func (v *validator) Registry() *expectations.Registry {
	return v.registry
}

func (v *validator) RequestMetrics(ctx context.Context, engine metrics.Engine, configs []metrics.Config) (metrics.Values, error) {
	return v.resolver.Resolve(ctx, engine, configs)
}

func (v *validator) ValidateRule(ctx context.Context, engine metrics.Engine, req expectations.Request) (result.ValidationResult, error) {
	plan, err := v.configure(engine, req)
	if err != nil {
		return result.ValidationResult{}, err
	}

	return v.run(ctx, engine, plan)
}

// configure binds a request to the batch and checks its domain against the
// engine, so row conditions fail before anything is resolved.
func (v *validator) configure(engine metrics.Engine, req expectations.Request) (*expectations.Plan, error) {
	plan, err := v.registry.Configure(req, engine.BatchID())
	if err == nil {
		err = engine.CheckDomain(plan.Domain)
	}

	if err != nil {
		observability.RecordValidation(req.Type, "error")

		return nil, err
	}

	return plan, nil
}

func (v *validator) ValidateSuite(ctx context.Context, engine metrics.Engine, suite *expectations.Suite) (*SuiteResult, error) {
	if suite == nil {
		return nil, ErrNilSuite
	}

	start := time.Now()

	out := &SuiteResult{
		RunID:     uuid.New().String(),
		SuiteName: suite.Name,
		BatchID:   engine.BatchID(),
		Backend:   string(engine.Kind()),
		Success:   true,
		Results:   make([]RuleResult, 0, len(suite.Expectations)),
	}

	log := v.log.WithFields(logrus.Fields{
		"run_id":  out.RunID,
		"suite":   suite.Name,
		"batch":   out.BatchID,
		"backend": out.Backend,
	})

	// Configuration errors surface before anything is resolved.
	plans := make([]*expectations.Plan, len(suite.Expectations))

	for i, req := range suite.Expectations {
		plan, err := v.configure(engine, req)
		if err != nil {
			return nil, fmt.Errorf("expectation %d (%s): %w", i, req.Type, err)
		}

		plans[i] = plan
	}

	for i, plan := range plans {
		res, err := v.run(ctx, engine, plan)
		if err != nil {
			return nil, fmt.Errorf("expectation %d (%s): %w", i, plan.Rule.Type, err)
		}

		out.Results = append(out.Results, RuleResult{
			ExpectationConfig: suite.Expectations[i],
			ValidationResult:  res,
		})

		out.Statistics.EvaluatedExpectations++

		if res.Success {
			out.Statistics.SuccessfulExpectations++
		} else {
			out.Statistics.UnsuccessfulExpectations++
			out.Success = false
		}
	}

	out.Statistics.SuccessPercent = result.Percent(
		out.Statistics.SuccessfulExpectations,
		out.Statistics.EvaluatedExpectations,
	)

	log.WithFields(logrus.Fields{
		"evaluated":  out.Statistics.EvaluatedExpectations,
		"successful": out.Statistics.SuccessfulExpectations,
		"success":    out.Success,
		"duration":   time.Since(start),
	}).Info("Validated suite")

	return out, nil
}

// run validates a configured rule inside its failure boundary.
func (v *validator) run(ctx context.Context, engine metrics.Engine, plan *expectations.Plan) (result.ValidationResult, error) {
	var (
		res result.ValidationResult
		err error
	)

	switch plan.Rule.Kind {
	case expectations.KindMap:
		res, err = v.validateMap(ctx, engine, plan)
	default:
		res, err = v.validateObserved(ctx, engine, plan)
	}

	if err != nil {
		if plan.CatchExceptions && metrics.Containable(err) {
			v.log.WithError(err).WithField("expectation", plan.Rule.Type).Warn("Rule raised, recording exception")

			observability.RecordValidation(plan.Rule.Type, "exception")

			return result.Failed(err), nil
		}

		observability.RecordValidation(plan.Rule.Type, "error")

		return result.ValidationResult{}, err
	}

	status := "failure"
	if res.Success {
		status = "success"
	}

	observability.RecordValidation(plan.Rule.Type, status)

	return res, nil
}

// mapRequests are the metric requests of a map rule. Optional ones are nil.
type mapRequests struct {
	elementCount    metrics.Config
	unexpectedCount metrics.Config
	missingCount    *metrics.Config
	values          *metrics.Config
	indexes         *metrics.Config
	rows            *metrics.Config
}

func (m mapRequests) configs() []metrics.Config {
	out := []metrics.Config{m.elementCount, m.unexpectedCount}

	for _, cfg := range []*metrics.Config{m.missingCount, m.values, m.indexes, m.rows} {
		if cfg != nil {
			out = append(out, *cfg)
		}
	}

	return out
}

func mapRequestsFor(plan *expectations.Plan) (mapRequests, error) {
	var (
		m   mapRequests
		err error
	)

	base := plan.Rule.Metric

	if m.elementCount, err = metrics.RowCountConfig(plan.Domain); err != nil {
		return m, err
	}

	if m.unexpectedCount, err = metrics.NewConfig(base+metrics.SuffixUnexpectedCount, plan.Domain, plan.Value); err != nil {
		return m, err
	}

	optional := func(name string, value metrics.Kwargs) (*metrics.Config, error) {
		cfg, err := metrics.NewConfig(name, plan.Domain, value)
		if err != nil {
			return nil, err
		}

		return &cfg, nil
	}

	if plan.Rule.MissingPolicy == expectations.MissingNulls {
		if m.missingCount, err = optional(metrics.ColumnValuesNonNull+metrics.SuffixUnexpectedCount, nil); err != nil {
			return m, err
		}
	}

	limit, fetch := plan.Options.ListLimit()
	if !fetch {
		return m, nil
	}

	listValue := plan.Value.Clone()
	if limit > 0 {
		listValue[metrics.ValueKeyLimit] = limit
	}

	if m.values, err = optional(base+metrics.SuffixUnexpectedValues, listValue); err != nil {
		return m, err
	}

	if plan.Options.NeedsIndexes() {
		if m.indexes, err = optional(base+metrics.SuffixUnexpectedIndexList, listValue); err != nil {
			return m, err
		}
	}

	if plan.Options.NeedsRows() {
		if m.rows, err = optional(base+metrics.SuffixUnexpectedRows, listValue); err != nil {
			return m, err
		}
	}

	return m, nil
}

// MetricRequests returns the metric requests a configured rule resolves.
func MetricRequests(plan *expectations.Plan) ([]metrics.Config, error) {
	if plan.Rule.Kind != expectations.KindMap {
		cfg, err := metrics.NewConfig(plan.Rule.Metric, plan.Domain, plan.Value)
		if err != nil {
			return nil, err
		}

		return []metrics.Config{cfg}, nil
	}

	requests, err := mapRequestsFor(plan)
	if err != nil {
		return nil, err
	}

	return requests.configs(), nil
}

func (v *validator) validateMap(ctx context.Context, engine metrics.Engine, plan *expectations.Plan) (result.ValidationResult, error) {
	requests, err := mapRequestsFor(plan)
	if err != nil {
		return result.ValidationResult{}, err
	}

	values, err := v.resolver.Resolve(ctx, engine, requests.configs())
	if err != nil {
		return result.ValidationResult{}, err
	}

	var in result.MapInputs

	if in.ElementCount, err = valueOf[int](values, requests.elementCount); err != nil {
		return result.ValidationResult{}, err
	}

	if in.UnexpectedCount, err = valueOf[int](values, requests.unexpectedCount); err != nil {
		return result.ValidationResult{}, err
	}

	if requests.missingCount != nil {
		if in.MissingCount, err = valueOf[int](values, *requests.missingCount); err != nil {
			return result.ValidationResult{}, err
		}
	}

	if requests.values != nil {
		if in.UnexpectedList, err = valueOf[[]any](values, *requests.values); err != nil {
			return result.ValidationResult{}, err
		}
	}

	if requests.indexes != nil {
		if in.UnexpectedIndexList, err = valueOf[[]any](values, *requests.indexes); err != nil {
			return result.ValidationResult{}, err
		}
	}

	if requests.rows != nil {
		if in.UnexpectedRows, err = valueOf[[]map[string]any](values, *requests.rows); err != nil {
			return result.ValidationResult{}, err
		}
	}

	fields, err := result.Map(plan.Options, in)
	if err != nil {
		return result.ValidationResult{}, err
	}

	success := result.MapSuccess(in.UnexpectedCount, in.Nonmissing(), plan.Mostly)

	return result.New(success, nil, fields), nil
}

func (v *validator) validateObserved(ctx context.Context, engine metrics.Engine, plan *expectations.Plan) (result.ValidationResult, error) {
	cfg, err := metrics.NewConfig(plan.Rule.Metric, plan.Domain, plan.Value)
	if err != nil {
		return result.ValidationResult{}, err
	}

	values, err := v.resolver.Resolve(ctx, engine, []metrics.Config{cfg})
	if err != nil {
		return result.ValidationResult{}, err
	}

	observed, ok := values.Get(cfg)
	if !ok {
		return result.ValidationResult{}, fmt.Errorf("%w: %w: %s", metrics.ErrMetricResolution, ErrUnknownObservedValue, cfg)
	}

	success, err := plan.Rule.Evaluate(observed, plan.Kwargs)
	if err != nil {
		return result.ValidationResult{}, err
	}

	return result.New(success, observed, result.Observed(plan.Options, observed)), nil
}

// valueOf returns a resolved value of the expected shape.
func valueOf[T any](values metrics.Values, cfg metrics.Config) (T, error) {
	var zero T

	raw, ok := values.Get(cfg)
	if !ok {
		return zero, fmt.Errorf("%w: %s was not resolved", metrics.ErrMetricResolution, cfg)
	}

	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, expected %T", metrics.ErrMetricResolution, cfg, raw, zero)
	}

	return value, nil
}
