package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dqc/pkg/metrics/metricid"
)

func TestBuildGraph_MapMetricEdges(t *testing.T) {
	engine := newFakeEngine(KindSQL)
	c := testCatalog(t, engine, CountDeferred, nil)

	domain := Domain{BatchID: "batch", Column: "a"}
	rows := mustConfig(t, ColumnValuesInSet+SuffixUnexpectedRows, domain, Kwargs{ValueKeyValueSet: []any{1}, ValueKeyLimit: 5})
	count := mustConfig(t, ColumnValuesInSet+SuffixUnexpectedCount, domain, Kwargs{ValueKeyValueSet: []any{1}})

	graph, err := BuildGraph(c, KindSQL, []Config{rows, count})
	require.NoError(t, err)

	// rows, count, count.aggregate_fn, condition, table.columns
	assert.Equal(t, 5, graph.Len())

	rowDeps := graph.Dependencies(rows.ID())
	require.Contains(t, rowDeps, RoleCondition)
	require.Contains(t, rowDeps, RoleTableColumns)

	condition, ok := graph.Config(rowDeps[RoleCondition])
	require.True(t, ok)
	assert.Equal(t, ColumnValuesInSet+SuffixCondition, condition.Name())
	_, hasLimit := condition.Value(ValueKeyLimit)
	assert.False(t, hasLimit)

	countDeps := graph.Dependencies(count.ID())
	require.Contains(t, countDeps, RolePartialFn)

	partialDeps := graph.Dependencies(countDeps[RolePartialFn])
	assert.Equal(t, rowDeps[RoleCondition], partialDeps[RoleCondition])

	assert.Equal(t, []metricid.ID{rows.ID(), count.ID()}, graph.Requested())
	assert.Len(t, graph.Edges(), 4)
}

func TestBuildGraph_OrderRespectsDependencies(t *testing.T) {
	engine := newFakeEngine(KindSQL)
	c := testCatalog(t, engine, CountDeferred, nil)

	domain := Domain{BatchID: "batch", Column: "a"}
	requested := []Config{
		mustConfig(t, ColumnValuesInSet+SuffixUnexpectedRows, domain, inSet),
		mustConfig(t, ColumnValuesInSet+SuffixUnexpectedCount, domain, inSet),
		mustConfig(t, ColumnMax, domain, nil),
	}

	graph, err := BuildGraph(c, KindSQL, requested)
	require.NoError(t, err)

	order := graph.Order()
	require.Len(t, order, graph.Len())

	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id.String()] = i
	}

	for _, edge := range graph.Edges() {
		assert.Less(t, position[edge.From.String()], position[edge.To.String()], "%s before %s", edge.From, edge.To)
	}
}

func TestGraph_Levels(t *testing.T) {
	engine := newFakeEngine(KindSQL)
	c := testCatalog(t, engine, CountDeferred, nil)

	domain := Domain{BatchID: "batch", Column: "a"}
	requested := []Config{
		mustConfig(t, ColumnValuesInSet+SuffixUnexpectedValues, domain, inSet),
		mustConfig(t, ColumnValuesInSet+SuffixUnexpectedCount, domain, inSet),
	}

	graph, err := BuildGraph(c, KindSQL, requested)
	require.NoError(t, err)

	levels := graph.Levels()
	require.NotEmpty(t, levels)

	level := make(map[metricid.ID]int, graph.Len())
	total := 0

	for i, ids := range levels {
		assert.NotEmpty(t, ids)

		for _, id := range ids {
			level[id] = i
		}

		total += len(ids)
	}

	assert.Equal(t, graph.Len(), total)

	for _, edge := range graph.Edges() {
		assert.Less(t, level[edge.From], level[edge.To], "%s below %s", edge.From, edge.To)
	}

	for _, id := range levels[0] {
		assert.Empty(t, graph.Dependencies(id))
	}
}

func TestBuildGraph_Cycle(t *testing.T) {
	c := NewCatalog()

	dependsOn := func(name string) DependencyFunc {
		return func(cfg Config) (map[Role]Config, error) {
			dep, err := NewConfig(name, cfg.Domain(), nil)
			if err != nil {
				return nil, err
			}

			return map[Role]Config{RoleTableRowCount: dep}, nil
		}
	}

	compute := func(_ context.Context, _ *Inputs) (any, error) { return 1, nil }

	require.NoError(t, c.Register(KindMemory, Provider{
		Name: "x", Strategy: StrategyDirect, Requires: []string{"y"}, Dependencies: dependsOn("y"), Compute: compute,
	}))
	require.NoError(t, c.Register(KindMemory, Provider{
		Name: "y", Strategy: StrategyDirect, Requires: []string{"x"}, Dependencies: dependsOn("x"), Compute: compute,
	}))
	require.NoError(t, c.Validate())

	_, err := BuildGraph(c, KindMemory, []Config{mustConfig(t, "x", Domain{BatchID: "batch"}, nil)})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.False(t, Containable(err))
}

func TestBuildGraph_Unsupported(t *testing.T) {
	engine := newFakeEngine(KindMemory)
	c := testCatalog(t, engine, CountDirect, nil)

	_, err := BuildGraph(c, KindSQL, []Config{mustConfig(t, TableRowCount, Domain{BatchID: "batch"}, nil)})
	require.ErrorIs(t, err, ErrUnsupportedMetric)
}

func TestConditionConfig(t *testing.T) {
	domain := Domain{BatchID: "batch", Column: "a"}

	tests := []struct {
		name     string
		metric   string
		expected string
		wantErr  bool
	}{
		{name: "count", metric: "column_values.in_set.unexpected_count", expected: "column_values.in_set.condition"},
		{name: "partial fn", metric: "column_values.in_set.unexpected_count.aggregate_fn", expected: "column_values.in_set.condition"},
		{name: "rows", metric: "column_values.nonnull.unexpected_rows", expected: "column_values.nonnull.condition"},
		{name: "not a map metric", metric: "column.max", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustConfig(t, tt.metric, domain, Kwargs{ValueKeyLimit: 3, ValueKeyValueSet: []any{1}})

			condition, err := ConditionConfig(cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfiguration)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, condition.Name())
			assert.Equal(t, domain, condition.Domain())
			assert.Equal(t, Kwargs{ValueKeyValueSet: []any{1}}, condition.ValueKwargs())
		})
	}
}
