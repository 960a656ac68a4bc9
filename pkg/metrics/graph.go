package metrics

import (
	"errors"
	"fmt"
	"sort"

	"github.com/heimdalr/dag"

	"github.com/ethpandaops/dqc/pkg/metrics/metricid"
)

// node is one metric request bound to its provider.
type node struct {
	cfg      Config
	provider Provider
	deps     map[Role]metricid.ID
}

// Graph is the dependency DAG of one resolution run. Edges point from a
// dependency to its dependent.
type Graph struct {
	kind      Kind
	dag       *dag.DAG
	nodes     map[metricid.ID]*node
	edges     []Edge
	edgeSet   map[[2]metricid.ID]struct{}
	requested []metricid.ID
}

// BuildGraph expands the requested metrics into every metric they transitively
// need on a backend. Nothing is executed.
func BuildGraph(catalog *Catalog, kind Kind, requested []Config) (*Graph, error) {
	g := &Graph{
		kind:    kind,
		dag:     dag.NewDAG(),
		nodes:   make(map[metricid.ID]*node),
		edgeSet: make(map[[2]metricid.ID]struct{}),
	}

	queue := make([]Config, 0, len(requested))

	for _, cfg := range requested {
		added, err := g.addNode(catalog, cfg)
		if err != nil {
			return nil, err
		}

		if !containsID(g.requested, cfg.ID()) {
			g.requested = append(g.requested, cfg.ID())
		}

		if added {
			queue = append(queue, cfg)
		}
	}

	for len(queue) > 0 {
		cfg := queue[0]
		queue = queue[1:]

		n := g.nodes[cfg.ID()]

		deps, err := dependenciesOf(n)
		if err != nil {
			return nil, err
		}

		for _, role := range sortedRoles(deps) {
			dep := deps[role]

			added, err := g.addNode(catalog, dep)
			if err != nil {
				return nil, fmt.Errorf("%s dependency of %s: %w", role, cfg.Name(), err)
			}

			if added {
				queue = append(queue, dep)
			}

			if err := g.addEdge(dep.ID(), cfg.ID(), role); err != nil {
				return nil, err
			}

			n.deps[role] = dep.ID()
		}
	}

	return g, nil
}

// dependenciesOf combines the declared dependencies of a node with the implicit
// edges of its strategy.
func dependenciesOf(n *node) (map[Role]Config, error) {
	deps := make(map[Role]Config)

	if n.provider.Dependencies != nil {
		declared, err := n.provider.Dependencies(n.cfg)
		if err != nil {
			return nil, wrapResolution(n.cfg, err)
		}

		for role, cfg := range declared {
			deps[role] = cfg
		}
	}

	switch n.provider.Strategy {
	case StrategyAggregate:
		partial, err := NewConfig(PartialFnName(n.cfg.Name()), n.cfg.Domain(), n.cfg.ValueKwargs())
		if err != nil {
			return nil, err
		}

		deps[RolePartialFn] = partial
	case StrategyCondition:
		if _, ok := deps[RoleCondition]; !ok {
			condition, err := ConditionConfig(n.cfg)
			if err != nil {
				return nil, err
			}

			deps[RoleCondition] = condition
		}
	}

	return deps, nil
}

// ConditionConfig returns the condition request a map metric derives from.
// Derivation-only value kwargs are not part of the condition identity.
func ConditionConfig(cfg Config) (Config, error) {
	name, ok := ConditionName(cfg.Name())
	if !ok {
		return Config{}, fmt.Errorf("%w: %s is not a map metric", ErrConfiguration, cfg.Name())
	}

	return NewConfig(name, cfg.Domain(), cfg.ValueKwargs().Without(ValueKeyLimit))
}

func (g *Graph) addNode(catalog *Catalog, cfg Config) (bool, error) {
	if _, ok := g.nodes[cfg.ID()]; ok {
		return false, nil
	}

	provider, err := catalog.Lookup(g.kind, cfg.Name())
	if err != nil {
		return false, err
	}

	if err := g.dag.AddVertexByID(cfg.ID().Hash(), cfg.ID().String()); err != nil {
		return false, fmt.Errorf("add %s to graph: %w", cfg, err)
	}

	g.nodes[cfg.ID()] = &node{
		cfg:      cfg,
		provider: provider,
		deps:     make(map[Role]metricid.ID),
	}

	return true, nil
}

func (g *Graph) addEdge(from, to metricid.ID, role Role) error {
	key := [2]metricid.ID{from, to}
	if _, ok := g.edgeSet[key]; ok {
		return nil
	}

	if err := g.dag.AddEdge(from.Hash(), to.Hash()); err != nil {
		var loopErr dag.EdgeLoopError
		var selfErr dag.SrcDstEqualError

		if errors.As(err, &loopErr) || errors.As(err, &selfErr) {
			return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, from, to)
		}

		return fmt.Errorf("add edge %s -> %s: %w", from, to, err)
	}

	g.edgeSet[key] = struct{}{}
	g.edges = append(g.edges, Edge{From: from, To: to, Role: role})

	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Edges returns every dependency edge.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Requested returns the identities the graph was built for.
func (g *Graph) Requested() []metricid.ID {
	return append([]metricid.ID(nil), g.requested...)
}

// Config returns the request of a node.
func (g *Graph) Config(id metricid.ID) (Config, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Config{}, false
	}

	return n.cfg, true
}

// Dependencies returns the dependencies of a node by role.
func (g *Graph) Dependencies(id metricid.ID) map[Role]metricid.ID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}

	out := make(map[Role]metricid.ID, len(n.deps))
	for role, dep := range n.deps {
		out[role] = dep
	}

	return out
}

// Order returns every node in a dependency-respecting order.
func (g *Graph) Order() []metricid.ID {
	order := make([]metricid.ID, 0, len(g.nodes))
	for _, level := range g.Levels() {
		order = append(order, level...)
	}

	return order
}

// Levels groups the nodes by dependency depth: level 0 has no dependencies and
// every other node sits one level above its deepest dependency.
func (g *Graph) Levels() [][]metricid.ID {
	done := make(map[metricid.ID]bool, len(g.nodes))
	levels := make([][]metricid.ID, 0)

	for len(done) < len(g.nodes) {
		wave := g.ready(done, nil)
		if len(wave) == 0 {
			break
		}

		for _, id := range wave {
			done[id] = true
		}

		levels = append(levels, wave)
	}

	return levels
}

// ready returns the unresolved nodes whose dependencies are all resolved, in
// canonical order. Nodes matched by skip are left out.
func (g *Graph) ready(done map[metricid.ID]bool, skip func(metricid.ID) bool) []metricid.ID {
	out := make([]metricid.ID, 0)

	for id, n := range g.nodes {
		if done[id] || (skip != nil && skip(id)) {
			continue
		}

		blocked := false

		for _, dep := range n.deps {
			if !done[dep] {
				blocked = true

				break
			}
		}

		if !blocked {
			out = append(out, id)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})

	return out
}

func sortedRoles(deps map[Role]Config) []Role {
	roles := make([]Role, 0, len(deps))
	for role := range deps {
		roles = append(roles, role)
	}

	sort.Slice(roles, func(i, j int) bool {
		return roles[i] < roles[j]
	})

	return roles
}

func containsID(ids []metricid.ID, id metricid.ID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}

	return false
}
