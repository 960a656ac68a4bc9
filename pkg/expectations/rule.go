// Package expectations is the explicit registry of rule types and the parsing
// of rule requests into metric plans.
package expectations

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Registry errors
var (
	ErrInvalidRule   = errors.New("invalid rule")
	ErrDuplicateRule = errors.New("rule already registered")
)

// Kind is how a rule is judged.
type Kind string

const (
	// KindMap rules are judged on the unexpected rows of a map metric against mostly
	KindMap Kind = "map"
	// KindObserved rules are judged on one observed metric value
	KindObserved Kind = "observed"
)

// Scope is the domain shape a rule runs on.
type Scope string

const (
	ScopeColumn Scope = "column"
	ScopeTable  Scope = "table"
)

// MissingPolicy decides which rows a map rule counts as missing.
type MissingPolicy string

const (
	// MissingNulls treats null values as missing: never unexpected and excluded
	// from the nonmissing denominator
	MissingNulls MissingPolicy = "nulls"
	// MissingNone treats no row as missing
	MissingNone MissingPolicy = "none"
)

// EvaluateFunc judges an observed value.
type EvaluateFunc func(observed any, kwargs metrics.Kwargs) (bool, error)

// Rule is one registered rule type.
type Rule struct {
	Type  string `json:"expectation_type" yaml:"expectation_type"`
	Kind  Kind   `json:"kind" yaml:"kind"`
	Scope Scope  `json:"scope" yaml:"scope"`
	// Metric is the map metric base of a map rule or the observed metric
	Metric string `json:"metric" yaml:"metric"`
	// Required and Optional are the rule specific kwargs
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
	Optional []string `json:"optional,omitempty" yaml:"optional,omitempty"`
	// ValueKeys are forwarded to the metric request as value kwargs
	ValueKeys     []string      `json:"-" yaml:"-"`
	MissingPolicy MissingPolicy `json:"missing_policy,omitempty" yaml:"missing_policy,omitempty"`
	// Validate checks the rule specific kwargs before any resolution
	Validate func(kwargs metrics.Kwargs) error `json:"-" yaml:"-"`
	// Evaluate judges the observed value of an observed rule
	Evaluate EvaluateFunc `json:"-" yaml:"-"`
}

func (r Rule) check() error {
	if r.Type == "" || r.Metric == "" {
		return fmt.Errorf("%w: rule needs a type and a metric", ErrInvalidRule)
	}

	if r.Scope != ScopeColumn && r.Scope != ScopeTable {
		return fmt.Errorf("%w: %s has unknown scope %q", ErrInvalidRule, r.Type, r.Scope)
	}

	switch r.Kind {
	case KindMap:
		if r.Scope != ScopeColumn {
			return fmt.Errorf("%w: map rule %s must be column scoped", ErrInvalidRule, r.Type)
		}

		if r.MissingPolicy != MissingNulls && r.MissingPolicy != MissingNone {
			return fmt.Errorf("%w: %s has unknown missing policy %q", ErrInvalidRule, r.Type, r.MissingPolicy)
		}
	case KindObserved:
		if r.Evaluate == nil {
			return fmt.Errorf("%w: observed rule %s has no evaluate function", ErrInvalidRule, r.Type)
		}
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidRule, r.Type, r.Kind)
	}

	return nil
}

// Registry maps rule types to rules. It is passed explicitly to the validator.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register adds a rule type.
func (r *Registry) Register(rule Rule) error {
	if err := rule.check(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[rule.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Type)
	}

	r.rules[rule.Type] = rule

	return nil
}

// Lookup returns a rule type. Unknown types are configuration errors.
func (r *Registry) Lookup(ruleType string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[ruleType]
	if !ok {
		return Rule{}, fmt.Errorf("%w: unknown expectation_type %q", metrics.ErrConfiguration, ruleType)
	}

	return rule, nil
}

// Rules returns every rule sorted by type.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })

	return out
}
