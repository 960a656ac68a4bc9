package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/spf13/cast"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/dqc/pkg/observability"
)

// Querier runs one query and returns its column names and rows.
// The ClickHouse client satisfies it as is.
type Querier interface {
	QueryRows(ctx context.Context, query string) ([]string, [][]any, error)
}

// GormQuerier queries through a gorm connection.
type GormQuerier struct {
	db *gorm.DB
}

var _ Querier = (*GormQuerier)(nil)

// NewGormQuerier wraps an open gorm connection.
func NewGormQuerier(db *gorm.DB) *GormQuerier {
	return &GormQuerier{db: db}
}

// OpenSQLite opens a sqlite database. Connections are limited to one so
// in-memory databases are shared by every query.
func OpenSQLite(dsn string) (*GormQuerier, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)

	return NewGormQuerier(db), nil
}

// DB returns the gorm connection
func (q *GormQuerier) DB() *gorm.DB { return q.db }

// QueryRows runs a raw query
func (q *GormQuerier) QueryRows(ctx context.Context, query string) (columns []string, out [][]any, err error) {
	defer recordQuery(q.db.Dialector.Name(), time.Now(), &err)

	rows, err := q.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// Close closes the underlying connection pool
func (q *GormQuerier) Close() error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// SQLXQuerier queries through an sqlx connection.
type SQLXQuerier struct {
	db *sqlx.DB
}

var _ Querier = (*SQLXQuerier)(nil)

// NewSQLXQuerier wraps an open sqlx connection.
func NewSQLXQuerier(db *sqlx.DB) *SQLXQuerier {
	return &SQLXQuerier{db: db}
}

// OpenPostgres connects to postgres.
func OpenPostgres(ctx context.Context, dsn string) (*SQLXQuerier, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return NewSQLXQuerier(db), nil
}

// QueryRows runs a query and scans every row as a slice
func (q *SQLXQuerier) QueryRows(ctx context.Context, query string) (columns []string, out [][]any, err error) {
	defer recordQuery(q.db.DriverName(), time.Now(), &err)

	rows, err := q.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err = rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out = make([][]any, 0)

	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, nil, err
		}

		out = append(out, normalizeRow(values))
	}

	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return columns, out, nil
}

// Close closes the connection pool
func (q *SQLXQuerier) Close() error {
	return q.db.Close()
}

// recordQuery records a finished query under the driver name.
func recordQuery(querier string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}

	observability.RecordQuery(querier, status, time.Since(start).Seconds())
}

func scanRows(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := make([][]any, 0)

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, nil, err
		}

		out = append(out, normalizeRow(values))
	}

	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return columns, out, nil
}

func normalizeRow(values []any) []any {
	for i, value := range values {
		values[i] = normalizeValue(value)
	}

	return values
}

// normalizeValue maps driver values onto the value shapes of the in-process
// backends: text as string and integers as int.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case int8, int16, int32, int64, uint8, uint16, uint32:
		return cast.ToInt(v)
	case uint64:
		if v <= uint64(^uint(0)>>1) {
			return int(v)
		}
		return v
	default:
		return value
	}
}
