// Package catalog assembles the builtin metric providers of every backend.
package catalog

import (
	"fmt"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
	"github.com/ethpandaops/dqc/pkg/backend/partitioned"
	"github.com/ethpandaops/dqc/pkg/backend/sqlengine"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// registrar adds one backend's providers to a catalog
type registrar func(*metrics.Catalog) error

// Default returns a validated catalog holding the builtin providers of the
// memory, sql and partitioned backends.
func Default() (*metrics.Catalog, error) {
	c := metrics.NewCatalog()

	backends := []struct {
		kind     metrics.Kind
		register registrar
	}{
		{kind: metrics.KindMemory, register: memory.Register},
		{kind: metrics.KindSQL, register: sqlengine.Register},
		{kind: metrics.KindPartitioned, register: partitioned.Register},
	}

	for _, backend := range backends {
		if err := backend.register(c); err != nil {
			return nil, fmt.Errorf("failed to register %s providers: %w", backend.kind, err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid builtin catalog: %w", err)
	}

	return c, nil
}
