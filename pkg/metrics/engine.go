package metrics

import (
	"context"
	"fmt"
)

// Engine is one execution substrate bound to a single batch snapshot.
type Engine interface {
	// Kind returns the backend variant used to look up providers
	Kind() Kind

	// BatchID identifies the batch the engine reads from
	BatchID() string

	// CheckDomain returns a configuration error when the backend cannot evaluate
	// the domain, such as a row condition in another dialect.
	CheckDomain(domain Domain) error

	// Materialize executes every pending partial of one domain in a single round trip
	// and returns one value per partial, in order.
	Materialize(ctx context.Context, domain Domain, partials []Partial) ([]any, error)

	MapOps
}

// CheckDomains checks the domain of every request once.
func CheckDomains(engine Engine, configs []Config) error {
	seen := make(map[string]bool, len(configs))

	for _, cfg := range configs {
		domain := cfg.Domain()

		key := domain.Key()
		if seen[key] {
			continue
		}

		seen[key] = true

		if err := engine.CheckDomain(domain); err != nil {
			return fmt.Errorf("%s: %w", cfg.Name(), err)
		}
	}

	return nil
}

// MapOps are the per-backend primitives the map-metric derivations are built on.
// Conditions are backend specific values produced by a condition provider.
type MapOps interface {
	// CountUnexpected counts rows where the condition holds.
	CountUnexpected(ctx context.Context, domain Domain, condition any) (int, error)

	// DeferUnexpectedCount returns a deferred count for a later batched materialization.
	DeferUnexpectedCount(domain Domain, condition any) (Partial, error)

	// SelectUnexpected returns the rows where the condition holds, in domain row
	// order, projected onto columns. A limit <= 0 returns every row.
	SelectUnexpected(ctx context.Context, domain Domain, condition any, columns []string, limit int) ([]IndexedRow, error)
}

// Partial is an unexecuted aggregate waiting for a batched materialization.
// It is only valid as an intermediate value.
type Partial struct {
	// Domain groups partials that can be materialized together
	Domain Domain
	// Fn is the backend specific deferred aggregate
	Fn any
}

// IndexedRow is one row of a domain with its row identifier.
type IndexedRow struct {
	Index  any
	Values map[string]any
}
