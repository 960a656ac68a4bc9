package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Strategy is how a backend computes a metric.
type Strategy int

const (
	// StrategyDirect computes the value in one step from resolved dependencies
	StrategyDirect Strategy = iota
	// StrategyAggregate finalizes a value materialized from the metric's deferred partial
	StrategyAggregate
	// StrategyCondition derives the value from a boolean row condition
	StrategyCondition
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyAggregate:
		return "aggregate"
	case StrategyCondition:
		return "condition"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// DependencyFunc declares the dependencies of a metric request. It must be a pure
// function of the request.
type DependencyFunc func(cfg Config) (map[Role]Config, error)

// ComputeFunc computes a metric value from its resolved dependencies.
type ComputeFunc func(ctx context.Context, in *Inputs) (any, error)

// Provider is the capability descriptor of one metric on one backend.
type Provider struct {
	Name     string
	Strategy Strategy
	// Requires lists every metric name Dependencies may return
	Requires     []string
	Dependencies DependencyFunc
	Compute      ComputeFunc
}

// Descriptor is the public view of a registered provider.
type Descriptor struct {
	Name     string   `json:"name" yaml:"name"`
	Strategy string   `json:"strategy" yaml:"strategy"`
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`
}

type providerKey struct {
	kind Kind
	name string
}

// Catalog is an explicit mapping from (backend, metric name) to a provider.
// Registration happens once at startup; Validate seals the catalog and rejects
// dangling or malformed entries before anything is resolved.
type Catalog struct {
	mu        sync.RWMutex
	providers map[providerKey]Provider
	sealed    bool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		providers: make(map[providerKey]Provider),
	}
}

// Register adds a provider for one backend.
func (c *Catalog) Register(kind Kind, p Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return fmt.Errorf("%w: register %s/%s", ErrCatalogSealed, kind, p.Name)
	}

	if p.Name == "" {
		return fmt.Errorf("%w: provider name is required", ErrInvalidProvider)
	}

	if p.Compute == nil && p.Strategy != StrategyAggregate {
		return fmt.Errorf("%w: %s/%s has no compute function", ErrInvalidProvider, kind, p.Name)
	}

	if len(p.Requires) > 0 && p.Dependencies == nil {
		return fmt.Errorf("%w: %s/%s requires metrics but declares no dependencies", ErrInvalidProvider, kind, p.Name)
	}

	key := providerKey{kind: kind, name: p.Name}
	if _, exists := c.providers[key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateProvider, kind, p.Name)
	}

	c.providers[key] = p

	return nil
}

// MustRegister registers a provider and panics on failure. Used by builtin
// registration where a failure is a programming error.
func (c *Catalog) MustRegister(kind Kind, p Provider) {
	if err := c.Register(kind, p); err != nil {
		panic(err)
	}
}

// Validate checks every provider's implicit and declared requirements and seals
// the catalog.
func (c *Catalog) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, p := range c.providers {
		if err := c.validateProvider(key.kind, p); err != nil {
			return err
		}
	}

	c.sealed = true

	return nil
}

func (c *Catalog) validateProvider(kind Kind, p Provider) error {
	has := func(name string) bool {
		_, ok := c.providers[providerKey{kind: kind, name: name}]
		return ok
	}

	switch p.Strategy {
	case StrategyDirect:
	case StrategyAggregate:
		if !has(PartialFnName(p.Name)) {
			return fmt.Errorf("%w: %s/%s is an aggregate without %s", ErrInvalidProvider, kind, p.Name, PartialFnName(p.Name))
		}
	case StrategyCondition:
		condition, ok := ConditionName(p.Name)
		if !ok || condition == p.Name {
			return fmt.Errorf("%w: %s/%s is not a map metric derivation", ErrInvalidProvider, kind, p.Name)
		}

		if !has(condition) {
			return fmt.Errorf("%w: %s/%s has no condition %s", ErrInvalidProvider, kind, p.Name, condition)
		}
	default:
		return fmt.Errorf("%w: %s/%s has unknown strategy %s", ErrInvalidProvider, kind, p.Name, p.Strategy)
	}

	if IsPartialFn(p.Name) && p.Strategy != StrategyDirect {
		return fmt.Errorf("%w: partial function %s/%s must be direct", ErrInvalidProvider, kind, p.Name)
	}

	for _, name := range p.Requires {
		if !has(name) {
			return fmt.Errorf("%w: %s/%s requires unknown metric %s", ErrInvalidProvider, kind, p.Name, name)
		}
	}

	return nil
}

// Lookup returns the provider of a metric on a backend.
func (c *Catalog) Lookup(kind Kind, name string) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.sealed {
		return Provider{}, ErrCatalogNotSealed
	}

	p, ok := c.providers[providerKey{kind: kind, name: name}]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s on %s backend", ErrUnsupportedMetric, name, kind)
	}

	return p, nil
}

// Supports reports whether a backend has a provider for a metric.
func (c *Catalog) Supports(kind Kind, name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.providers[providerKey{kind: kind, name: name}]

	return ok
}

// Descriptors lists the providers of one backend sorted by name.
func (c *Catalog) Descriptors(kind Kind) []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, 0)

	for key, p := range c.providers {
		if key.kind != kind {
			continue
		}

		out = append(out, Descriptor{
			Name:     p.Name,
			Strategy: p.Strategy.String(),
			Requires: append([]string(nil), p.Requires...),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out
}
