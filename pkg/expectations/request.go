package expectations

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/ethpandaops/dqc/pkg/backend/predicate"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/result"
)

// Common kwargs
const (
	KeyColumn          = "column"
	KeyRowCondition    = "row_condition"
	KeyConditionParser = "condition_parser"
	KeyMostly          = "mostly"
	KeyResultFormat    = "result_format"
	KeyCatchExceptions = "catch_exceptions"
)

// Request asks for one rule to be validated.
type Request struct {
	Type   string         `json:"expectation_type" yaml:"expectation_type"`
	Kwargs metrics.Kwargs `json:"kwargs" yaml:"kwargs"`
	Meta   map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Plan is a validated request: everything needed to build metric requests.
type Plan struct {
	Rule            Rule
	Domain          metrics.Domain
	Value           metrics.Kwargs
	Mostly          float64
	Options         result.Options
	CatchExceptions bool
	Kwargs          metrics.Kwargs
}

// Configure validates a request against its rule and binds it to a batch.
// Every error is a configuration error.
func (r *Registry) Configure(req Request, batchID string) (*Plan, error) {
	rule, err := r.Lookup(req.Type)
	if err != nil {
		return nil, err
	}

	kwargs := req.Kwargs.Clone()

	if err := checkKwargs(rule, kwargs); err != nil {
		return nil, err
	}

	domain, err := domainOf(rule, kwargs, batchID)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Rule:   rule,
		Domain: domain,
		Value:  metrics.Kwargs{},
		Mostly: 1,
		Kwargs: kwargs,
	}

	for _, key := range rule.ValueKeys {
		if value, ok := kwargs[key]; ok && value != nil {
			plan.Value[key] = value
		}
	}

	if rule.Kind == KindMap {
		if plan.Mostly, err = result.ParseMostly(kwargs[KeyMostly]); err != nil {
			return nil, err
		}
	}

	if plan.Options, err = result.ParseOptions(kwargs[KeyResultFormat]); err != nil {
		return nil, err
	}

	if raw, ok := kwargs[KeyCatchExceptions]; ok && raw != nil {
		if plan.CatchExceptions, err = cast.ToBoolE(raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", metrics.ErrConfiguration, KeyCatchExceptions, err)
		}
	}

	if rule.Kind == KindMap {
		// Building the predicate checks value_set, bounds and patterns.
		cfg, err := metrics.NewConfig(rule.Metric+metrics.SuffixCondition, domain, plan.Value)
		if err != nil {
			return nil, err
		}

		if _, err := predicate.Build(rule.Metric, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", rule.Type, err)
		}
	}

	if rule.Validate != nil {
		if err := rule.Validate(kwargs); err != nil {
			return nil, fmt.Errorf("%s: %w", rule.Type, err)
		}
	}

	return plan, nil
}

func checkKwargs(rule Rule, kwargs metrics.Kwargs) error {
	allowed := map[string]bool{
		KeyRowCondition:    true,
		KeyConditionParser: true,
		KeyResultFormat:    true,
		KeyCatchExceptions: true,
	}

	if rule.Scope == ScopeColumn {
		allowed[KeyColumn] = true
	}

	if rule.Kind == KindMap {
		allowed[KeyMostly] = true
	}

	for _, key := range rule.Required {
		allowed[key] = true

		if value, ok := kwargs[key]; !ok || value == nil {
			return fmt.Errorf("%w: %s requires %s", metrics.ErrConfiguration, rule.Type, key)
		}
	}

	for _, key := range rule.Optional {
		allowed[key] = true
	}

	var unknown []string

	for key := range kwargs {
		if !allowed[key] {
			unknown = append(unknown, key)
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)

		return fmt.Errorf("%w: %s does not accept %s", metrics.ErrConfiguration, rule.Type, strings.Join(unknown, ", "))
	}

	return nil
}

func domainOf(rule Rule, kwargs metrics.Kwargs, batchID string) (metrics.Domain, error) {
	domain := metrics.Domain{BatchID: batchID}

	if rule.Scope == ScopeColumn {
		column, err := stringKwarg(kwargs, KeyColumn)
		if err != nil {
			return metrics.Domain{}, err
		}

		if column == "" {
			return metrics.Domain{}, fmt.Errorf("%w: %s requires %s", metrics.ErrConfiguration, rule.Type, KeyColumn)
		}

		domain.Column = column
	}

	condition, err := stringKwarg(kwargs, KeyRowCondition)
	if err != nil {
		return metrics.Domain{}, err
	}

	parser, err := stringKwarg(kwargs, KeyConditionParser)
	if err != nil {
		return metrics.Domain{}, err
	}

	if condition != "" && parser == "" {
		return metrics.Domain{}, fmt.Errorf("%w: %s requires %s", metrics.ErrConfiguration, KeyRowCondition, KeyConditionParser)
	}

	if condition != "" {
		domain.RowCondition = condition
		domain.ConditionParser = parser
	}

	return domain, nil
}

func stringKwarg(kwargs metrics.Kwargs, key string) (string, error) {
	raw, ok := kwargs[key]
	if !ok || raw == nil {
		return "", nil
	}

	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", metrics.ErrConfiguration, key, raw)
	}

	return s, nil
}
