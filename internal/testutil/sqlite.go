package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dqc/pkg/backend/sqlengine"
)

// FixtureTableName is the table holding the fixture batch in sqlite.
const FixtureTableName = "fixture"

// SQLiteFixture opens an in-memory sqlite database holding the fixture batch.
func SQLiteFixture(t *testing.T) *sqlengine.GormQuerier {
	t.Helper()

	return SQLiteTable(t, FixtureTableName, FixtureColumns(), FixtureRows())
}

// SQLiteTable opens an in-memory sqlite database with one untyped table.
func SQLiteTable(t *testing.T, table string, columns []string, rows [][]any) *sqlengine.GormQuerier {
	t.Helper()

	querier, err := sqlengine.OpenSQLite(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = querier.Close()
	})

	dialect := sqlengine.SQLite()

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))

	for i, column := range columns {
		quoted[i] = dialect.Ident(column)
		placeholders[i] = "?"
	}

	db := querier.DB()

	require.NoError(t, db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)",
		dialect.Ident(table), strings.Join(quoted, ", "))).Error)

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		dialect.Ident(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	for _, row := range rows {
		require.NoError(t, db.Exec(insert, row...).Error)
	}

	return querier
}
