// Package ddl builds DDL and session statements for the trades relation.
package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes a column for CREATE TABLE.
type ColumnDef struct {
	Name string
	Type string
}

// TradeColumns is the schema of the trades relation. The types are
// understood by both DuckDB and PostgreSQL.
var TradeColumns = []ColumnDef{
	{Name: "ticker", Type: "VARCHAR(10)"},
	{Name: "exchange", Type: "INTEGER"},
	{Name: "participant_timestamp", Type: "BIGINT"},
	{Name: "price", Type: "REAL"},
	{Name: "trade_size", Type: "INTEGER"},
	{Name: "del_t", Type: "BIGINT"},
	{Name: "del_p", Type: "REAL"},
}

// notNull lists the trade columns that may not hold NULL.
var notNull = map[string]bool{
	"ticker": true, "exchange": true, "participant_timestamp": true, "price": true, "trade_size": true,
}

// CreateTradesTable returns CREATE TABLE IF NOT EXISTS "<table>" (...) with
// the trade schema.
func CreateTradesTable(table string) (string, error) {
	return CreateTable(table, TradeColumns)
}

// CreateTable returns CREATE TABLE IF NOT EXISTS "<table>" ("<col1>" TYPE1, ...).
func CreateTable(table string, columns []ColumnDef) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}

	colDefs := make([]string, 0, len(columns))
	for _, c := range columns {
		if err := ValidateIdentifier(c.Name); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c.Name, err)
		}
		if err := ValidateColumnType(c.Type); err != nil {
			return "", fmt.Errorf("invalid column type for %q: %w", c.Name, err)
		}
		def := fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), c.Type)
		if notNull[c.Name] {
			def += " NOT NULL"
		}
		colDefs = append(colDefs, def)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		QuoteIdentifier(table),
		strings.Join(colDefs, ", "),
	), nil
}

// CreateTimestampIndex returns CREATE INDEX IF NOT EXISTS on the timestamp column.
func CreateTimestampIndex(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdentifier(table+"_ts_idx"),
		QuoteIdentifier(table),
		QuoteIdentifier("participant_timestamp"),
	), nil
}

// CreateSourceView generates a DuckDB view over Parquet or CSV files that
// exposes exactly the trade columns.
//
//	CREATE OR REPLACE VIEW "trades" AS SELECT ... FROM read_parquet(['s3://...'])
func CreateSourceView(table, sourcePath, fileFormat string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if sourcePath == "" {
		return "", fmt.Errorf("source path is required")
	}

	var readFunc string
	switch strings.ToLower(fileFormat) {
	case "parquet", "":
		readFunc = "read_parquet"
	case "csv":
		readFunc = "read_csv_auto"
	default:
		return "", fmt.Errorf("unsupported file format: %q", fileFormat)
	}

	cols := make([]string, len(TradeColumns))
	for i, c := range TradeColumns {
		cols[i] = QuoteIdentifier(c.Name)
	}

	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT %s FROM %s([%s])",
		QuoteIdentifier(table),
		strings.Join(cols, ", "),
		readFunc,
		QuoteLiteral(sourcePath),
	), nil
}

// CreateS3Secret returns a DuckDB statement that registers S3 credentials
// for reading remote trade files.
func CreateS3Secret(name, keyID, secret, endpoint, region, urlStyle string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name is required")
	}
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	return fmt.Sprintf(`CREATE OR REPLACE SECRET %s (
	TYPE S3,
	KEY_ID %s,
	SECRET %s,
	ENDPOINT %s,
	REGION %s,
	URL_STYLE %s
)`,
		QuoteIdentifier(name),
		QuoteLiteral(keyID),
		QuoteLiteral(secret),
		QuoteLiteral(endpoint),
		QuoteLiteral(region),
		QuoteLiteral(urlStyle),
	), nil
}

// LoadExtension returns INSTALL and LOAD statements for a DuckDB extension.
func LoadExtension(name string) ([]string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("invalid extension name: %w", err)
	}
	return []string{"INSTALL " + name, "LOAD " + name}, nil
}

// SetTimeZone returns a session statement that sets the time zone. Both
// DuckDB and PostgreSQL accept this form.
func SetTimeZone(zone string) (string, error) {
	if zone == "" {
		return "", fmt.Errorf("time zone is required")
	}
	if strings.ContainsAny(zone, ";'\"\\") {
		return "", fmt.Errorf("time zone %q contains invalid characters", zone)
	}
	return "SET TimeZone = " + QuoteLiteral(zone), nil
}
