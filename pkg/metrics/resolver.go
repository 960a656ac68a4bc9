package metrics

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/dqc/pkg/metrics/metricid"
	"github.com/ethpandaops/dqc/pkg/observability"
)

// ErrInvalidResolverConfig is returned when the resolver configuration is invalid
var ErrInvalidResolverConfig = errors.New("invalid resolver configuration")

// ResolverConfig configures metric resolution
type ResolverConfig struct {
	// Concurrency bounds the nodes computed at once within a wave
	Concurrency int `yaml:"concurrency" default:"8"`
	// MaterializeTimeout bounds a single batched materialization
	MaterializeTimeout time.Duration `yaml:"materializeTimeout" default:"30s"`
}

// Validate checks the resolver configuration
func (c *ResolverConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidResolverConfig)
	}

	if c.MaterializeTimeout <= 0 {
		return fmt.Errorf("%w: materializeTimeout must be positive", ErrInvalidResolverConfig)
	}

	return nil
}

// Resolver resolves metric requests against an engine. It holds no state
// between calls: every Resolve owns its graph and values.
type Resolver struct {
	log     logrus.FieldLogger
	catalog *Catalog
	config  ResolverConfig
}

// NewResolver creates a resolver over a validated catalog
func NewResolver(log logrus.FieldLogger, catalog *Catalog, config ResolverConfig) *Resolver {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}

	if config.MaterializeTimeout <= 0 {
		config.MaterializeTimeout = 30 * time.Second
	}

	return &Resolver{
		log:     log.WithField("component", "resolver"),
		catalog: catalog,
		config:  config,
	}
}

// Catalog returns the catalog the resolver looks providers up in
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Plan builds the dependency graph of the requested metrics without executing it.
func (r *Resolver) Plan(kind Kind, requested []Config) (*Graph, error) {
	return BuildGraph(r.catalog, kind, requested)
}

// Resolve computes the requested metrics and everything they depend on. Each
// node is computed at most once; partials are materialized once per domain.
func (r *Resolver) Resolve(ctx context.Context, engine Engine, requested []Config) (Values, error) {
	start := time.Now()

	if err := CheckDomains(engine, requested); err != nil {
		return nil, err
	}

	graph, err := r.Plan(engine.Kind(), requested)
	if err != nil {
		return nil, err
	}

	rn := &run{
		id:      uuid.NewString(),
		r:       r,
		engine:  engine,
		graph:   graph,
		values:  make(map[metricid.ID]any, graph.Len()),
		done:    make(map[metricid.ID]bool, graph.Len()),
		pending: make(map[metricid.ID]Partial),
	}

	rn.log = r.log.WithFields(logrus.Fields{
		"run_id":  rn.id,
		"backend": engine.Kind(),
		"batch":   engine.BatchID(),
	})

	if err := rn.execute(ctx); err != nil {
		observability.RecordError("resolver", errorType(err))

		return nil, err
	}

	duration := time.Since(start)
	observability.RecordResolution(string(engine.Kind()), duration.Seconds())

	rn.log.WithFields(logrus.Fields{
		"nodes":            graph.Len(),
		"computed":         rn.computed,
		"materializations": rn.materializations,
		"waves":            rn.waves,
		"duration":         duration,
	}).Info("Resolved metrics")

	out := make(Values, len(graph.requested))
	for _, id := range graph.requested {
		out[id] = rn.values[id]
	}

	return out, nil
}

// run is the state of one resolution. Values are only written between waves.
type run struct {
	id     string
	r      *Resolver
	log    logrus.FieldLogger
	engine Engine
	graph  *Graph

	values  map[metricid.ID]any
	done    map[metricid.ID]bool
	pending map[metricid.ID]Partial

	computed         int
	materializations int
	waves            int
}

func (rn *run) execute(ctx context.Context) error {
	for len(rn.done) < rn.graph.Len() {
		if err := ctx.Err(); err != nil {
			return err
		}

		ready := rn.graph.ready(rn.done, rn.isPending)

		if len(ready) == 0 {
			if len(rn.pending) == 0 {
				return fmt.Errorf("%w: %d nodes can not be scheduled", ErrMetricResolution, rn.graph.Len()-len(rn.done))
			}

			if err := rn.flush(ctx); err != nil {
				return err
			}

			continue
		}

		if err := rn.wave(ctx, ready); err != nil {
			return err
		}
	}

	return nil
}

func (rn *run) isPending(id metricid.ID) bool {
	_, ok := rn.pending[id]
	return ok
}

// wave computes independent ready nodes concurrently.
func (rn *run) wave(ctx context.Context, ready []metricid.ID) error {
	rn.waves++

	rn.log.WithFields(logrus.Fields{
		"wave":  rn.waves,
		"nodes": len(ready),
	}).Debug("Computing wave")

	results := make([]any, len(ready))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rn.r.config.Concurrency)

	for i, id := range ready {
		n := rn.graph.nodes[id]

		g.Go(func() error {
			value, err := rn.compute(gctx, n)
			if err != nil {
				return err
			}

			results[i] = value

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, id := range ready {
		rn.computed++

		if partial, ok := results[i].(Partial); ok {
			rn.pending[id] = partial

			continue
		}

		rn.values[id] = results[i]
		rn.done[id] = true
	}

	return nil
}

func (rn *run) compute(ctx context.Context, n *node) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = wrapResolution(n.cfg, &PanicError{Value: rec, Stack: debug.Stack()})
		}
	}()

	in := &Inputs{
		Config: n.cfg,
		Engine: rn.engine,
		deps:   make(map[Role]resolvedDep, len(n.deps)),
	}

	for role, id := range n.deps {
		in.deps[role] = resolvedDep{
			cfg:   rn.graph.nodes[id].cfg,
			value: rn.values[id],
		}
	}

	observability.RecordNodeResolved(string(rn.engine.Kind()), n.provider.Strategy.String())

	if n.provider.Compute == nil {
		value, ok := in.Value(RolePartialFn)
		if !ok {
			return nil, wrapResolution(n.cfg, fmt.Errorf("%w: no partial function value", ErrMetricResolution))
		}

		return value, nil
	}

	value, err = n.provider.Compute(ctx, in)
	if err != nil {
		return nil, wrapResolution(n.cfg, err)
	}

	if _, ok := value.(Partial); ok && !IsPartialFn(n.cfg.Name()) {
		return nil, wrapResolution(n.cfg, fmt.Errorf("%w: partial returned by a non partial function", ErrMetricResolution))
	}

	return value, nil
}

type partialGroup struct {
	domain Domain
	ids    []metricid.ID
}

// flush materializes every pending partial with one engine call per domain.
func (rn *run) flush(ctx context.Context) error {
	groups := make(map[string]*partialGroup)

	for id, partial := range rn.pending {
		key := partial.Domain.Key()

		group, ok := groups[key]
		if !ok {
			group = &partialGroup{domain: partial.Domain}
			groups[key] = group
		}

		group.ids = append(group.ids, id)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		group := groups[key]

		sort.Slice(group.ids, func(i, j int) bool {
			return group.ids[i].String() < group.ids[j].String()
		})

		partials := make([]Partial, len(group.ids))
		for i, id := range group.ids {
			partials[i] = rn.pending[id]
		}

		values, err := rn.materialize(ctx, group.domain, partials)
		if err != nil {
			return err
		}

		for i, id := range group.ids {
			rn.values[id] = values[i]
			rn.done[id] = true
			delete(rn.pending, id)
		}
	}

	return nil
}

type materialized struct {
	values []any
	err    error
}

// materialize runs one batched engine call and never waits longer than the
// configured timeout for it.
func (rn *run) materialize(ctx context.Context, domain Domain, partials []Partial) ([]any, error) {
	rn.materializations++

	mctx, cancel := context.WithTimeout(ctx, rn.r.config.MaterializeTimeout)
	defer cancel()

	backend := string(rn.engine.Kind())

	rn.log.WithFields(logrus.Fields{
		"domain":   domain.String(),
		"partials": len(partials),
	}).Debug("Materializing partials")

	result := make(chan materialized, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				result <- materialized{err: &PanicError{Value: rec, Stack: debug.Stack()}}
			}
		}()

		values, err := rn.engine.Materialize(mctx, domain, partials)
		result <- materialized{values: values, err: err}
	}()

	select {
	case out := <-result:
		if out.err != nil {
			observability.RecordMaterialization(backend, "error")

			return nil, wrapBackend(domain, out.err)
		}

		if len(out.values) != len(partials) {
			observability.RecordMaterialization(backend, "error")

			return nil, fmt.Errorf("%w: materialize %s returned %d values for %d partials",
				ErrBackendExecution, domain, len(out.values), len(partials))
		}

		observability.RecordMaterialization(backend, "success")

		return out.values, nil
	case <-mctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		observability.RecordMaterialization(backend, "timeout")

		return nil, fmt.Errorf("%w: materialize %s: %w", ErrBackendExecution, domain, mctx.Err())
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrUnsupportedMetric):
		return "unsupported"
	case errors.Is(err, ErrDependencyCycle):
		return "cycle"
	case errors.Is(err, ErrBackendExecution):
		return "backend"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "resolution"
	}
}
