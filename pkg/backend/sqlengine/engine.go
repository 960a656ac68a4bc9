// Package sqlengine is the expression-generating backend: conditions are SQL
// boolean expressions and every batched materialization is one SELECT.
package sqlengine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

// ConditionParser is the row_condition dialect of this backend: a SQL boolean
// expression spliced into the WHERE clause.
const ConditionParser = "sql"

// Condition is a SQL boolean expression that is true for unexpected rows.
type Condition string

// Aggregate is the partial function value of this backend: aggregate
// expressions added to the SELECT list of its domain.
type Aggregate struct {
	Expressions []string
}

// Option configures an Engine
type Option func(*Engine)

// WithKeyColumn makes index lists report values of a unique key column.
func WithKeyColumn(column string) Option {
	return func(e *Engine) {
		e.keyColumn = column
	}
}

// Engine evaluates metrics by generating queries against one table.
type Engine struct {
	log       logrus.FieldLogger
	querier   Querier
	dialect   Dialect
	batchID   string
	table     string
	keyColumn string
	renderer  *renderer
}

var _ metrics.Engine = (*Engine)(nil)

// NewEngine creates an engine over a table reachable through querier.
func NewEngine(log logrus.FieldLogger, querier Querier, dialect Dialect, batchID, table string, opts ...Option) *Engine {
	e := &Engine{
		log: log.WithFields(logrus.Fields{
			"component": "sql_engine",
			"dialect":   dialect.Name,
		}),
		querier:  querier,
		dialect:  dialect,
		batchID:  batchID,
		table:    table,
		renderer: newRenderer(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Kind returns the backend kind
func (e *Engine) Kind() metrics.Kind { return metrics.KindSQL }

// BatchID returns the batch identifier
func (e *Engine) BatchID() string { return e.batchID }

// CheckDomain rejects row conditions that are not sql expressions.
func (e *Engine) CheckDomain(domain metrics.Domain) error {
	_, err := e.where(domain)
	return err
}

// Dialect returns the query dialect
func (e *Engine) Dialect() Dialect { return e.dialect }

// Materialize runs one SELECT holding the expressions of every partial.
// A partial with one expression gets its value, one with several gets a slice.
func (e *Engine) Materialize(ctx context.Context, domain metrics.Domain, partials []metrics.Partial) ([]any, error) {
	expressions := make([]string, 0, len(partials))
	widths := make([]int, len(partials))

	for i, partial := range partials {
		aggregate, ok := partial.Fn.(Aggregate)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected partial %T", metrics.ErrBackendExecution, partial.Fn)
		}

		if len(aggregate.Expressions) == 0 {
			return nil, fmt.Errorf("%w: partial has no expressions", metrics.ErrBackendExecution)
		}

		widths[i] = len(aggregate.Expressions)

		for _, expression := range aggregate.Expressions {
			expressions = append(expressions, fmt.Sprintf("%s AS m%d", expression, len(expressions)))
		}
	}

	where, err := e.where(domain)
	if err != nil {
		return nil, err
	}

	query, err := e.render("aggregate", map[string]any{
		"Expressions": expressions,
		"Where":       where,
	})
	if err != nil {
		return nil, err
	}

	_, rows, err := e.query(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(rows) != 1 || len(rows[0]) != len(expressions) {
		return nil, fmt.Errorf("%w: aggregate query returned %d rows", metrics.ErrBackendExecution, len(rows))
	}

	out := make([]any, len(partials))
	offset := 0

	for i, width := range widths {
		values := rows[0][offset : offset+width]
		offset += width

		if width == 1 {
			out[i] = values[0]

			continue
		}

		out[i] = append([]any(nil), values...)
	}

	return out, nil
}

// CountUnexpected counts rows where the condition holds.
func (e *Engine) CountUnexpected(ctx context.Context, _ metrics.Domain, condition any) (int, error) {
	cond, err := conditionOf(condition)
	if err != nil {
		return 0, err
	}

	query, err := e.render("count", map[string]any{"Where": string(cond)})
	if err != nil {
		return 0, err
	}

	_, rows, err := e.query(ctx, query)
	if err != nil {
		return 0, err
	}

	if len(rows) != 1 || len(rows[0]) != 1 {
		return 0, fmt.Errorf("%w: count query returned %d rows", metrics.ErrBackendExecution, len(rows))
	}

	count, err := cast.ToIntE(rows[0][0])
	if err != nil {
		return 0, fmt.Errorf("%w: count %v: %w", metrics.ErrBackendExecution, rows[0][0], err)
	}

	return count, nil
}

// DeferUnexpectedCount defers a conditional sum into the domain's SELECT.
func (e *Engine) DeferUnexpectedCount(domain metrics.Domain, condition any) (metrics.Partial, error) {
	cond, err := conditionOf(condition)
	if err != nil {
		return metrics.Partial{}, err
	}

	return metrics.Partial{
		Domain: domain.Table(),
		Fn: Aggregate{Expressions: []string{
			fmt.Sprintf("COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0)", cond),
		}},
	}, nil
}

// SelectUnexpected selects rows where the condition holds in table order.
func (e *Engine) SelectUnexpected(ctx context.Context, _ metrics.Domain, condition any, columns []string, limit int) ([]metrics.IndexedRow, error) {
	cond, err := conditionOf(condition)
	if err != nil {
		return nil, err
	}

	projection := []string{rowColumn}
	if e.keyColumn != "" {
		projection = append(projection, e.dialect.Ident(e.keyColumn))
	}

	leading := len(projection)

	for _, column := range columns {
		projection = append(projection, e.dialect.Ident(column))
	}

	query, err := e.render("select", map[string]any{
		"Projection": projection,
		"RowColumn":  rowColumn,
		"Where":      string(cond),
		"Limit":      limit,
	})
	if err != nil {
		return nil, err
	}

	_, rows, err := e.query(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]metrics.IndexedRow, 0, len(rows))

	for _, row := range rows {
		if len(row) != len(projection) {
			return nil, fmt.Errorf("%w: selection returned %d columns, expected %d",
				metrics.ErrBackendExecution, len(row), len(projection))
		}

		var index any = row[0]
		if e.keyColumn != "" {
			index = row[1]
		}

		values := make(map[string]any, len(columns))
		for i, column := range columns {
			values[column] = row[leading+i]
		}

		out = append(out, metrics.IndexedRow{Index: index, Values: values})
	}

	return out, nil
}

// Columns returns the table's column names in table order.
func (e *Engine) Columns(ctx context.Context) ([]string, error) {
	query, err := e.render("columns", nil)
	if err != nil {
		return nil, err
	}

	columns, _, err := e.query(ctx, query)
	if err != nil {
		return nil, err
	}

	return columns, nil
}

// where returns the row filter of a domain as a WHERE expression.
func (e *Engine) where(domain metrics.Domain) (string, error) {
	if !domain.Filtered() {
		return "", nil
	}

	if domain.ConditionParser != ConditionParser {
		return "", fmt.Errorf("%w: condition_parser %q is not supported, use %q",
			metrics.ErrConfiguration, domain.ConditionParser, ConditionParser)
	}

	return "(" + domain.RowCondition + ")", nil
}

func (e *Engine) render(name string, variables map[string]any) (string, error) {
	if variables == nil {
		variables = map[string]any{}
	}

	variables["Table"] = e.dialect.Ident(e.table)
	variables["Settings"] = e.dialect.settings

	query, err := e.renderer.Render(name, variables)
	if err != nil {
		return "", fmt.Errorf("%w: %w", metrics.ErrBackendExecution, err)
	}

	return query, nil
}

func (e *Engine) query(ctx context.Context, query string) ([]string, [][]any, error) {
	e.log.WithField("query", query).Debug("Executing query")

	columns, rows, err := e.querier.QueryRows(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}

		return nil, nil, fmt.Errorf("%w: %w", metrics.ErrBackendExecution, err)
	}

	for _, row := range rows {
		normalizeRow(row)
	}

	return columns, rows, nil
}

func conditionOf(condition any) (Condition, error) {
	cond, ok := condition.(Condition)
	if !ok {
		return "", fmt.Errorf("%w: condition is %T, expected a sql condition", metrics.ErrMetricResolution, condition)
	}

	return cond, nil
}
