// Package metrics resolves graphs of named, parameterized statistics over a batch
// against a pluggable execution backend.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethpandaops/dqc/pkg/metrics/metricid"
)

// Kwargs is a parameter mapping.
type Kwargs map[string]any

// Clone returns a shallow copy.
func (k Kwargs) Clone() Kwargs {
	out := make(Kwargs, len(k))
	for key, value := range k {
		out[key] = value
	}

	return out
}

// Without returns a copy without the given keys.
func (k Kwargs) Without(keys ...string) Kwargs {
	out := k.Clone()
	for _, key := range keys {
		delete(out, key)
	}

	return out
}

// Kind is the closed set of execution substrates.
type Kind string

const (
	// KindMemory evaluates over an in-memory row/column table
	KindMemory Kind = "memory"
	// KindSQL generates SQL expressions and materializes them through a query engine
	KindSQL Kind = "sql"
	// KindPartitioned evaluates over a partitioned dataframe, one job per materialization
	KindPartitioned Kind = "partitioned"
)

// Kinds returns every supported backend kind.
func Kinds() []Kind {
	return []Kind{KindMemory, KindSQL, KindPartitioned}
}

// ParseKind validates a backend tag.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}

	return "", fmt.Errorf("%w: unknown backend %q", ErrConfiguration, s)
}

// Domain kwarg keys
const (
	DomainKeyBatchID         = "batch_id"
	DomainKeyColumn          = "column"
	DomainKeyRowCondition    = "row_condition"
	DomainKeyConditionParser = "condition_parser"
)

// Domain is the set of rows and columns a metric is evaluated over.
type Domain struct {
	BatchID         string
	Column          string
	RowCondition    string
	ConditionParser string
}

// Kwargs returns the domain as a parameter mapping containing only set fields.
func (d Domain) Kwargs() Kwargs {
	out := Kwargs{}
	if d.BatchID != "" {
		out[DomainKeyBatchID] = d.BatchID
	}
	if d.Column != "" {
		out[DomainKeyColumn] = d.Column
	}
	if d.RowCondition != "" {
		out[DomainKeyRowCondition] = d.RowCondition
	}
	if d.ConditionParser != "" {
		out[DomainKeyConditionParser] = d.ConditionParser
	}

	return out
}

// Table returns the row-level domain without the column.
func (d Domain) Table() Domain {
	d.Column = ""
	return d
}

// Filtered reports whether a row condition narrows the domain.
func (d Domain) Filtered() bool {
	return d.RowCondition != ""
}

// Key returns a stable string for grouping.
func (d Domain) Key() string {
	key, _ := metricid.Canonical(d.Kwargs()) //nolint:errcheck // string-only kwargs always canonicalize
	return key
}

func (d Domain) String() string {
	parts := []string{"batch=" + d.BatchID}
	if d.Column != "" {
		parts = append(parts, "column="+d.Column)
	}
	if d.RowCondition != "" {
		parts = append(parts, fmt.Sprintf("row_condition=%q (%s)", d.RowCondition, d.ConditionParser))
	}

	return strings.Join(parts, " ")
}

// Config is one immutable metric request.
type Config struct {
	name   string
	domain Domain
	value  Kwargs
	id     metricid.ID
}

// NewConfig creates a metric request and computes its identity.
func NewConfig(name string, domain Domain, value Kwargs) (Config, error) {
	if name == "" {
		return Config{}, fmt.Errorf("%w: metric name is required", ErrConfiguration)
	}

	id, err := metricid.Make(name, domain.Kwargs(), value)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return Config{
		name:   name,
		domain: domain,
		value:  value.Clone(),
		id:     id,
	}, nil
}

// Name returns the metric name.
func (c Config) Name() string { return c.name }

// Domain returns the metric domain.
func (c Config) Domain() Domain { return c.domain }

// ID returns the canonical identity.
func (c Config) ID() metricid.ID { return c.id }

// ValueKwargs returns a copy of the value parameters.
func (c Config) ValueKwargs() Kwargs { return c.value.Clone() }

// Value returns one value parameter.
func (c Config) Value(key string) (any, bool) {
	v, ok := c.value[key]
	return v, ok
}

func (c Config) String() string { return c.id.String() }

// Role labels a dependency edge.
type Role string

const (
	// RoleCondition points at the boolean condition a map metric derives from
	RoleCondition Role = "unexpected_condition"
	// RolePartialFn points at the deferred half of an aggregate split
	RolePartialFn Role = "metric_partial_fn"
	// RoleTableColumns points at the column list of the batch
	RoleTableColumns Role = "table.columns"
	// RoleTableRowCount points at the row count of the domain
	RoleTableRowCount Role = "table.row_count"
	// RoleComputeDomain points at the row filter of a filtered domain
	RoleComputeDomain Role = "compute_domain"
	// RoleColumnMean points at the mean of the same column domain
	RoleColumnMean Role = "column.mean"
)

// Edge is a dependency of one node on another.
type Edge struct {
	From metricid.ID
	To   metricid.ID
	Role Role
}

// Values maps metric identities to resolved values.
type Values map[metricid.ID]any

// Get returns the value resolved for a request.
func (v Values) Get(cfg Config) (any, bool) {
	value, ok := v[cfg.ID()]
	return value, ok
}

// IDs returns the resolved identities in canonical order.
func (v Values) IDs() []metricid.ID {
	ids := make([]metricid.ID, 0, len(v))
	for id := range v {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	return ids
}
