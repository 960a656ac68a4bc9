package source_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ethpandaops/dqc/internal/testutil"
	"github.com/ethpandaops/dqc/pkg/backend/memory"
	"github.com/ethpandaops/dqc/pkg/backend/sqlengine"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/source"
)

const fixtureCSV = `a,b
1,cat
5,fish
22,dog
3,giraffe
5,lion
10,zebra
`

func TestParseCell(t *testing.T) {
	tests := []struct {
		cell string
		want any
	}{
		{cell: "", want: nil},
		{cell: "  ", want: nil},
		{cell: "42", want: 42},
		{cell: "-7", want: -7},
		{cell: "2.5", want: 2.5},
		{cell: "1e3", want: 1000.0},
		{cell: "TRUE", want: true},
		{cell: "false", want: false},
		{cell: "NaN", want: "NaN"},
		{cell: " zebra ", want: "zebra"},
	}

	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			assert.Equal(t, tt.want, source.ParseCell(tt.cell))
		})
	}
}

func TestReadCSV(t *testing.T) {
	table, err := source.ReadCSV(strings.NewReader(fixtureCSV), "fixture")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, table.Columns())
	assert.Equal(t, 6, table.Len())

	values, err := table.Column("a")
	require.NoError(t, err)
	assert.Equal(t, []any{1, 5, 22, 3, 5, 10}, values)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty", input: "", wantErr: source.ErrNoHeader},
		{name: "duplicate header", input: "a,a\n1,2\n", wantErr: memory.ErrDuplicateColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := source.ReadCSV(strings.NewReader(tt.input), "fixture")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := source.ReadCSV(strings.NewReader("a,b\n1\n"), "fixture")
	assert.Error(t, err)
}

func writeWorkbook(t *testing.T, path string) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	records := append([][]any{{"a", "b"}}, testutil.FixtureRows()...)
	records = append(records, []any{7})

	for r, record := range records {
		for c, value := range record {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, value))
		}
	}

	require.NoError(t, f.SaveAs(path))
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.xlsx")
	writeWorkbook(t, path)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	_, err = source.ReadXLSX(file, "", "fixture", memory.WithKeyColumn("a"))
	require.ErrorIs(t, err, memory.ErrDuplicateKey)

	_, err = file.Seek(0, io.SeekStart)
	require.NoError(t, err)

	table, err := source.ReadXLSX(file, "", "fixture")
	require.NoError(t, err)

	assert.Equal(t, 7, table.Len())

	value, ok := table.Value(6, "b")
	assert.True(t, ok)
	assert.Nil(t, value)

	value, _ = table.Value(2, "b")
	assert.Equal(t, "dog", value)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     source.Config
		wantErr error
	}{
		{name: "csv", cfg: source.Config{Type: source.TypeCSV, Path: "a.csv", Partitions: 1}},
		{name: "csv partitioned", cfg: source.Config{Type: source.TypeCSV, Path: "a.csv", Partitions: 4}},
		{name: "csv without path", cfg: source.Config{Type: source.TypeCSV, Partitions: 1}, wantErr: source.ErrPathRequired},
		{name: "sqlite path", cfg: source.Config{Type: source.TypeSQLite, Path: "a.db", Table: "t", Partitions: 1}},
		{name: "sqlite without table", cfg: source.Config{Type: source.TypeSQLite, Path: "a.db", Partitions: 1}, wantErr: source.ErrTableRequired},
		{name: "postgres without dsn", cfg: source.Config{Type: source.TypePostgres, Table: "t", Partitions: 1}, wantErr: source.ErrDSNRequired},
		{name: "clickhouse without url", cfg: source.Config{Type: source.TypeClickHouse, Table: "t", Partitions: 1}, wantErr: source.ErrURLRequired},
		{name: "partitioned sql", cfg: source.Config{Type: source.TypeSQLite, Path: "a.db", Table: "t", Partitions: 2}, wantErr: source.ErrPartitionedSQL},
		{name: "zero partitions", cfg: source.Config{Type: source.TypeCSV, Path: "a.csv"}, wantErr: source.ErrInvalidPartitions},
		{name: "unknown", cfg: source.Config{Type: "parquet", Partitions: 1}, wantErr: source.ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestConfigApplyEnv(t *testing.T) {
	t.Setenv(source.EnvSourceDSN, "postgres://localhost/dqc")
	t.Setenv(source.EnvSourceURL, "")

	cfg := source.Config{DSN: "ignored", URL: "http://localhost:8123"}
	cfg.ApplyEnv()

	assert.Equal(t, "postgres://localhost/dqc", cfg.DSN)
	assert.Equal(t, "http://localhost:8123", cfg.URL)
}

func TestConfigBatch(t *testing.T) {
	assert.Equal(t, "orders", (&source.Config{Path: "/data/orders.csv"}).Batch())
	assert.Equal(t, "events", (&source.Config{Table: "events"}).Batch())
	assert.Equal(t, "b1", (&source.Config{Table: "events", BatchID: "b1"}).Batch())
}

func TestOpen_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.csv")
	require.NoError(t, os.WriteFile(path, []byte(fixtureCSV), 0o600))

	tests := []struct {
		partitions int
		kind       metrics.Kind
	}{
		{partitions: 1, kind: metrics.KindMemory},
		{partitions: 3, kind: metrics.KindPartitioned},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			batch, err := source.Open(context.Background(), testutil.Logger(), &source.Config{
				Type:       source.TypeCSV,
				Path:       path,
				Partitions: tt.partitions,
			})
			require.NoError(t, err)
			defer batch.Close()

			assert.Equal(t, tt.kind, batch.Engine.Kind())
			assert.Equal(t, "fixture", batch.Engine.BatchID())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.db")

	querier, err := sqlengine.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, querier.DB().Exec(`CREATE TABLE "events" ("a", "b")`).Error)
	require.NoError(t, querier.DB().Exec(`INSERT INTO "events" VALUES (1, 'cat')`).Error)
	require.NoError(t, querier.Close())

	batch, err := source.Open(context.Background(), testutil.Logger(), &source.Config{
		Type:       source.TypeSQLite,
		Path:       path,
		Table:      "events",
		Partitions: 1,
	})
	require.NoError(t, err)

	engine, ok := batch.Engine.(*sqlengine.Engine)
	require.True(t, ok)

	columns, err := engine.Columns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, columns)
	assert.Equal(t, "events", engine.BatchID())

	assert.NoError(t, batch.Close())
}

func TestOpen_ClickHouse(t *testing.T) {
	var queries []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		queries = append(queries, string(body))

		_, _ = fmt.Fprint(w, `{"meta":[{"name":"a","type":"Int64"}],"data":[]}`)
	}))
	defer server.Close()

	batch, err := source.Open(context.Background(), testutil.Logger(), &source.Config{
		Type:       source.TypeClickHouse,
		URL:        server.URL,
		Table:      "default.events",
		Partitions: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, metrics.KindSQL, batch.Engine.Kind())
	assert.Equal(t, "default.events", batch.Engine.BatchID())
	require.NotEmpty(t, queries)
	assert.Equal(t, "SELECT 1", queries[0])

	assert.NoError(t, batch.Close())
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := source.Open(context.Background(), testutil.Logger(), &source.Config{Type: source.TypeCSV, Partitions: 1})
	assert.ErrorIs(t, err, source.ErrPathRequired)
}
