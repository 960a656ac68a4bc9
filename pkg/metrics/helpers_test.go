package metrics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeEngine evaluates boolean masks over a fixed two column table.
type fakeEngine struct {
	kind    Kind
	columns map[string][]any
	order   []string

	mu               sync.Mutex
	materializeCalls int
	blockMaterialize bool
	failMaterialize  error
}

func newFakeEngine(kind Kind) *fakeEngine {
	return &fakeEngine{
		kind: kind,
		columns: map[string][]any{
			"a": {1, 5, 22, 3, 5, 10},
			"b": {"cat", "fish", "dog", "giraffe", "lion", "zebra"},
		},
		order: []string{"a", "b"},
	}
}

func (e *fakeEngine) Kind() Kind      { return e.kind }
func (e *fakeEngine) BatchID() string { return "batch" }

func (e *fakeEngine) CheckDomain(domain Domain) error {
	if domain.Filtered() && domain.ConditionParser != "hcl" {
		return fmt.Errorf("%w: condition_parser %q", ErrConfiguration, domain.ConditionParser)
	}

	return nil
}

func (e *fakeEngine) materializations() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.materializeCalls
}

func (e *fakeEngine) Materialize(ctx context.Context, _ Domain, partials []Partial) ([]any, error) {
	e.mu.Lock()
	e.materializeCalls++
	e.mu.Unlock()

	if e.blockMaterialize {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	if e.failMaterialize != nil {
		return nil, e.failMaterialize
	}

	out := make([]any, len(partials))
	for i, p := range partials {
		out[i] = p.Fn.(func() any)()
	}

	return out, nil
}

func (e *fakeEngine) CountUnexpected(_ context.Context, _ Domain, condition any) (int, error) {
	count := 0

	for _, unexpected := range condition.([]bool) {
		if unexpected {
			count++
		}
	}

	return count, nil
}

func (e *fakeEngine) DeferUnexpectedCount(domain Domain, condition any) (Partial, error) {
	return Partial{
		Domain: domain.Table(),
		Fn: func() any {
			count, _ := e.CountUnexpected(context.Background(), domain, condition)
			return int64(count)
		},
	}, nil
}

func (e *fakeEngine) SelectUnexpected(_ context.Context, _ Domain, condition any, columns []string, limit int) ([]IndexedRow, error) {
	out := make([]IndexedRow, 0)

	for i, unexpected := range condition.([]bool) {
		if !unexpected {
			continue
		}

		if limit > 0 && len(out) == limit {
			break
		}

		values := make(map[string]any, len(columns))
		for _, column := range columns {
			values[column] = e.columns[column][i]
		}

		out = append(out, IndexedRow{Index: i, Values: values})
	}

	return out, nil
}

// testCatalog registers an in_set map metric, table metrics and a column.max
// aggregate for the fake engine.
func testCatalog(t *testing.T, e *fakeEngine, mode CountMode, conditionCalls *atomic.Int32) *Catalog {
	t.Helper()

	c := NewCatalog()

	require.NoError(t, c.Register(e.kind, Provider{
		Name:     TableColumns,
		Strategy: StrategyDirect,
		Compute: func(_ context.Context, _ *Inputs) (any, error) {
			return append([]string(nil), e.order...), nil
		},
	}))

	require.NoError(t, c.Register(e.kind, Provider{
		Name:     TableRowCount,
		Strategy: StrategyDirect,
		Compute: func(_ context.Context, _ *Inputs) (any, error) {
			return len(e.columns["a"]), nil
		},
	}))

	require.NoError(t, RegisterMapMetric(c, e.kind, MapMetric{
		Base: ColumnValuesInSet,
		Condition: func(_ context.Context, in *Inputs) (any, error) {
			if conditionCalls != nil {
				conditionCalls.Add(1)
			}

			raw, _ := in.Config.Value(ValueKeyValueSet)
			set, _ := raw.([]any)
			column := e.columns[in.Config.Domain().Column]

			mask := make([]bool, len(column))
			for i, value := range column {
				mask[i] = true

				for _, member := range set {
					if member == value {
						mask[i] = false
					}
				}
			}

			return mask, nil
		},
	}, mode))

	require.NoError(t, RegisterAggregate(c, e.kind, AggregateMetric{
		Name: ColumnMax,
		Partial: func(_ context.Context, in *Inputs) (any, error) {
			column := e.columns[in.Config.Domain().Column]

			return Partial{
				Domain: in.Config.Domain().Table(),
				Fn: func() any {
					out := column[0]
					for _, v := range column {
						if v.(int) > out.(int) {
							out = v
						}
					}

					return out
				},
			}, nil
		},
	}))

	require.NoError(t, c.Validate())

	return c
}

func testResolver(c *Catalog, timeout time.Duration) *Resolver {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	return NewResolver(logger, c, ResolverConfig{
		Concurrency:        4,
		MaterializeTimeout: timeout,
	})
}

func mustConfig(t *testing.T, name string, domain Domain, value Kwargs) Config {
	t.Helper()

	cfg, err := NewConfig(name, domain, value)
	require.NoError(t, err)

	return cfg
}
