package memory

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/dqc/pkg/metrics/metricid"
)

// Table errors
var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrColumnLength    = errors.New("column length mismatch")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrDuplicateKey    = errors.New("duplicate key value")
	ErrInvalidKey      = errors.New("invalid key value")
)

// Table is an immutable column-oriented batch snapshot.
type Table struct {
	batchID   string
	columns   []string
	data      map[string][]any
	rows      int
	keyColumn string
}

// Option configures a table
type Option func(*Table)

// WithKeyColumn declares a unique key column; index lists then contain key
// values instead of row positions.
func WithKeyColumn(column string) Option {
	return func(t *Table) {
		t.keyColumn = column
	}
}

// NewTable creates a table from columns of equal length.
func NewTable(batchID string, columns []string, data map[string][]any, opts ...Option) (*Table, error) {
	t := &Table{
		batchID: batchID,
		columns: append([]string(nil), columns...),
		data:    make(map[string][]any, len(columns)),
	}

	for _, opt := range opts {
		opt(t)
	}

	for i, column := range columns {
		if _, ok := t.data[column]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, column)
		}

		values, ok := data[column]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no data", ErrUnknownColumn, column)
		}

		if i == 0 {
			t.rows = len(values)
		} else if len(values) != t.rows {
			return nil, fmt.Errorf("%w: %s has %d rows, expected %d", ErrColumnLength, column, len(values), t.rows)
		}

		t.data[column] = append([]any(nil), values...)
	}

	if t.keyColumn != "" {
		if err := t.checkKey(); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// FromRows creates a table from row-major records.
func FromRows(batchID string, columns []string, rows [][]any, opts ...Option) (*Table, error) {
	data := make(map[string][]any, len(columns))
	for _, column := range columns {
		data[column] = make([]any, len(rows))
	}

	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrColumnLength, i, len(row), len(columns))
		}

		for j, column := range columns {
			data[column][i] = row[j]
		}
	}

	return NewTable(batchID, columns, data, opts...)
}

func (t *Table) checkKey() error {
	values, ok := t.data[t.keyColumn]
	if !ok {
		return fmt.Errorf("%w: key column %s", ErrUnknownColumn, t.keyColumn)
	}

	// keyed by canonical form, key values may be slices or maps
	seen := make(map[string]int, len(values))

	for i, value := range values {
		key, err := metricid.CanonicalValue(value)
		if err != nil {
			return fmt.Errorf("%w: row %d: %w", ErrInvalidKey, i, err)
		}

		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %v in rows %d and %d", ErrDuplicateKey, value, prev, i)
		}

		seen[key] = i
	}

	return nil
}

// BatchID returns the batch identifier
func (t *Table) BatchID() string { return t.batchID }

// Columns returns the column names in table order
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// Len returns the number of rows
func (t *Table) Len() int { return t.rows }

// KeyColumn returns the declared key column, if any
func (t *Table) KeyColumn() string { return t.keyColumn }

// HasColumn reports whether the table has a column
func (t *Table) HasColumn(column string) bool {
	_, ok := t.data[column]
	return ok
}

// Column returns the values of a column. The slice must not be modified.
func (t *Table) Column(column string) ([]any, error) {
	values, ok := t.data[column]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}

	return values, nil
}

// Value returns one cell.
func (t *Table) Value(row int, column string) (any, bool) {
	values, ok := t.data[column]
	if !ok || row < 0 || row >= t.rows {
		return nil, false
	}

	return values[row], true
}

// Index returns the identifier of a row: its key value or its position.
func (t *Table) Index(row int) any {
	if t.keyColumn != "" {
		return t.data[t.keyColumn][row]
	}

	return row
}

// Slice returns the rows [start, end) as a table sharing the same columns.
func (t *Table) Slice(start, end int) *Table {
	out := &Table{
		batchID:   t.batchID,
		columns:   t.columns,
		data:      make(map[string][]any, len(t.columns)),
		rows:      end - start,
		keyColumn: t.keyColumn,
	}

	for column, values := range t.data {
		out.data[column] = values[start:end:end]
	}

	return out
}
