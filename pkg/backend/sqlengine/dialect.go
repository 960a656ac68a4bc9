package sqlengine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Dialect describes how queries are spelled for one database.
type Dialect struct {
	Name string
	// quote wraps identifiers
	quote string
	// backslashEscapes is set when string literals treat backslash as an escape
	backslashEscapes bool
	// regex builds a boolean regex match, nil when the database has none
	regex func(column, pattern string) string
	// likeEscape is the ESCAPE clause of LIKE, empty where backslash is implicit
	likeEscape string
	// settings is appended to every query
	settings string
}

// Dialect names
const (
	DialectSQLite     = "sqlite"
	DialectPostgres   = "postgres"
	DialectClickHouse = "clickhouse"
)

// SQLite is the sqlite dialect. It has no regex operator.
func SQLite() Dialect {
	return Dialect{Name: DialectSQLite, quote: `"`, likeEscape: ` ESCAPE '\'`}
}

// Postgres is the postgres dialect.
func Postgres() Dialect {
	return Dialect{
		Name:       DialectPostgres,
		quote:      `"`,
		likeEscape: ` ESCAPE '\'`,
		regex: func(column, pattern string) string {
			return fmt.Sprintf("CAST(%s AS TEXT) ~ %s", column, pattern)
		},
	}
}

// ClickHouse is the ClickHouse dialect. 64 bit integers are requested unquoted
// so JSON results decode as numbers.
func ClickHouse() Dialect {
	return Dialect{
		Name:             DialectClickHouse,
		quote:            "`",
		backslashEscapes: true,
		regex: func(column, pattern string) string {
			return fmt.Sprintf("match(toString(%s), %s)", column, pattern)
		},
		settings: "SETTINGS output_format_json_quote_64bit_integers = 0",
	}
}

// ParseDialect returns a dialect by name.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case DialectSQLite:
		return SQLite(), nil
	case DialectPostgres, "postgresql":
		return Postgres(), nil
	case DialectClickHouse:
		return ClickHouse(), nil
	default:
		return Dialect{}, fmt.Errorf("%w: unknown sql dialect %q", metrics.ErrConfiguration, name)
	}
}

// Ident quotes an identifier. Dotted names are quoted per part.
func (d Dialect) Ident(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = d.quote + strings.ReplaceAll(part, d.quote, d.quote+d.quote) + d.quote
	}

	return strings.Join(parts, ".")
}

// String quotes a string literal.
func (d Dialect) String(s string) string {
	if d.backslashEscapes {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}

	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Literal renders a value as a SQL literal.
func (d Dialect) Literal(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case string:
		return d.String(v), nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(v), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32:
		return d.Literal(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("%w: %v has no sql literal", metrics.ErrConfiguration, v)
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case time.Time:
		return d.String(v.UTC().Format("2006-01-02 15:04:05.999999999")), nil
	default:
		return "", fmt.Errorf("%w: %T has no sql literal", metrics.ErrConfiguration, value)
	}
}

// NotLike returns an expression true when column does not match a LIKE
// pattern with backslash escapes.
func (d Dialect) NotLike(column, pattern string) string {
	return column + " NOT LIKE " + d.String(pattern) + d.likeEscape
}

// Regex returns a regex match expression or an unsupported metric error.
func (d Dialect) Regex(column, pattern string) (string, error) {
	if d.regex == nil {
		return "", fmt.Errorf("%w: %s has no regex operator", metrics.ErrUnsupportedMetric, d.Name)
	}

	return d.regex(column, d.String(pattern)), nil
}
