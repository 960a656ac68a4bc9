package clickhouse

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, database string) ClientInterface {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := NewClient(logger, &Config{URL: server.URL, Database: database, QueryTimeout: 5 * time.Second})
	require.NoError(t, err)

	return c
}

func TestNewClientInvalidConfig(t *testing.T) {
	_, err := NewClient(logrus.New(), &Config{})
	require.ErrorIs(t, err, ErrURLRequired)
}

func TestQueryRows(t *testing.T) {
	var gotQuery, gotDatabase string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotQuery = string(body)
		gotDatabase = r.URL.Query().Get("database")

		_, _ = w.Write([]byte(`{
			"meta": [{"name": "a", "type": "Int64"}, {"name": "b", "type": "String"}, {"name": "c", "type": "Float64"}],
			"data": [[1, "giraffe", 1.5], [22, "zebra", null]],
			"rows": 2,
			"rows_read": 2
		}`))
	}, "events")

	columns, rows, err := c.QueryRows(context.Background(), "SELECT a, b, c FROM t")
	require.NoError(t, err)

	assert.Equal(t, "SELECT a, b, c FROM t FORMAT JSONCompact", gotQuery)
	assert.Equal(t, "events", gotDatabase)
	assert.Equal(t, []string{"a", "b", "c"}, columns)
	assert.Equal(t, [][]any{
		{int64(1), "giraffe", 1.5},
		{int64(22), "zebra", nil},
	}, rows)
}

func TestQueryRowsErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "exception payload",
			status:  http.StatusInternalServerError,
			body:    `{"exception": "Code: 60. Table does not exist"}`,
			wantErr: ErrClickHouseResponse,
		},
		{
			name:    "plain text error",
			status:  http.StatusBadRequest,
			body:    "Syntax error",
			wantErr: ErrClickHouseResponse,
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `{"meta": [`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "ragged row",
			status:  http.StatusOK,
			body:    `{"meta": [{"name": "a", "type": "Int64"}], "data": [[1, 2]]}`,
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, "")

			_, _, err := c.QueryRows(context.Background(), "SELECT 1")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStartStop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("1\n"))
	}, "")

	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  any
	}{
		{name: "integer", input: jsonNumber("42"), want: int64(42)},
		{name: "float", input: jsonNumber("4.5"), want: 4.5},
		{name: "string passthrough", input: "x", want: "x"},
		{name: "nil passthrough", input: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeNumber(tt.input))
		})
	}
}

func jsonNumber(s string) any {
	return json.Number(s)
}
