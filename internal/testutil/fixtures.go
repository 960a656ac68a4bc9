package testutil

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
)

// FixtureBatchID is the batch identifier of the fixture table.
const FixtureBatchID = "fixture"

// FixtureColumns are the fixture column names in table order.
func FixtureColumns() []string {
	return []string{"a", "b"}
}

// FixtureRows returns the fixture rows: a numeric column and a paired animal column.
func FixtureRows() [][]any {
	return [][]any{
		{1, "cat"},
		{5, "fish"},
		{22, "dog"},
		{3, "giraffe"},
		{5, "lion"},
		{10, "zebra"},
	}
}

// FixtureTable returns the fixture batch as a memory table.
func FixtureTable(t *testing.T, opts ...memory.Option) *memory.Table {
	t.Helper()

	table, err := memory.FromRows(FixtureBatchID, FixtureColumns(), FixtureRows(), opts...)
	require.NoError(t, err)

	return table
}

// Logger returns a logger that discards output.
func Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}
