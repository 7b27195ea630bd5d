package planner

import "strconv"

// Dialect captures the SQL differences between supported backing stores.
type Dialect interface {
	Name() string
	// Placeholder returns the bind parameter marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// IntDiv returns an expression for integer division. Rounding of negative
	// quotients differs between engines, so callers divide exact multiples.
	IntDiv(a, b string) string
	// EpochSeconds returns an expression for the epoch seconds of a timestamp expression.
	EpochSeconds(ts string) string
	// ToTimestamp returns a time-zone-aware timestamp from integer epoch seconds.
	ToTimestamp(seconds string) string
}

// DuckDB is the default dialect.
var DuckDB Dialect = duckDialect{}

// Postgres targets a PostgreSQL trades relation.
var Postgres Dialect = postgresDialect{}

// DialectByName returns the dialect for a backend name ("duckdb" or "postgres").
func DialectByName(name string) (Dialect, bool) {
	switch name {
	case "", "duckdb":
		return DuckDB, true
	case "postgres", "postgresql", "pgx":
		return Postgres, true
	}
	return nil, false
}

type duckDialect struct{}

func (duckDialect) Name() string                      { return "duckdb" }
func (duckDialect) Placeholder(int) string            { return "?" }
func (duckDialect) IntDiv(a, b string) string         { return "(" + a + " // " + b + ")" }
func (duckDialect) EpochSeconds(ts string) string     { return "epoch(" + ts + ")" }
func (duckDialect) ToTimestamp(seconds string) string { return "to_timestamp(" + seconds + ")" }

type postgresDialect struct{}

func (postgresDialect) Name() string                      { return "postgres" }
func (postgresDialect) Placeholder(n int) string          { return "$" + strconv.Itoa(n) }
func (postgresDialect) IntDiv(a, b string) string         { return "(" + a + " / " + b + ")" }
func (postgresDialect) EpochSeconds(ts string) string     { return "EXTRACT(EPOCH FROM " + ts + ")" }
func (postgresDialect) ToTimestamp(seconds string) string { return "to_timestamp(" + seconds + ")" }
