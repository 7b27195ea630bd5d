// Package tradestore opens the backing trades relation (DuckDB or
// PostgreSQL) and exposes the read surface the export engine needs.
package tradestore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"trade-export/internal/ddl"
	"trade-export/internal/domain"
)

// Backend names.
const (
	BackendDuckDB   = "duckdb"
	BackendPostgres = "postgres"
)

// S3Source holds credentials for reading trade files from S3-compatible storage.
type S3Source struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string
}

// Config selects and configures the backing store.
type Config struct {
	Backend      string // "duckdb" (default) or "postgres"
	DuckDBPath   string // empty for in-memory
	PostgresDSN  string
	Table        string // default "trades"
	Source       string // optional Parquet/CSV path or glob exposed as the trades view (DuckDB only)
	SourceFormat string // "parquet" (default) or "csv"
	TimeZone     string // session time zone (default "UTC")
	S3           *S3Source
	ReadOnly     bool // skip table creation
}

// Store is the backing trades relation.
type Store struct {
	db      *sql.DB
	backend string
	table   string
	logger  *slog.Logger
}

// Open connects to the configured backend, sets the session time zone on
// every connection, and makes sure the trades relation exists.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Table == "" {
		cfg.Table = "trades"
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "UTC"
	}
	if err := ddl.ValidateIdentifier(cfg.Table); err != nil {
		return nil, fmt.Errorf("invalid trades table: %w", err)
	}
	setTZ, err := ddl.SetTimeZone(cfg.TimeZone)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	backend := strings.ToLower(cfg.Backend)
	switch backend {
	case "", BackendDuckDB:
		backend = BackendDuckDB
		db, err = openDuckDB(cfg.DuckDBPath, setTZ)
	case BackendPostgres, "postgresql":
		backend = BackendPostgres
		db, err = openPostgres(cfg.PostgresDSN, cfg.TimeZone)
	default:
		return nil, fmt.Errorf("unsupported trade backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, backend: backend, table: cfg.Table, logger: logger.With("component", "tradestore")}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", backend, err)
	}

	if err := s.ensureRelation(ctx, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("trade store ready", "backend", backend, "table", cfg.Table, "timezone", cfg.TimeZone)
	return s, nil
}

func openDuckDB(path, setTZ string) (*sql.DB, error) {
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		_, err := execer.ExecContext(context.Background(), setTZ, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func openPostgres(dsn, tz string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["timezone"] = tz
	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func (s *Store) ensureRelation(ctx context.Context, cfg Config) error {
	if cfg.Source != "" {
		if s.backend != BackendDuckDB {
			return fmt.Errorf("TRADE_SOURCE is only supported with the duckdb backend")
		}
		return s.attachSource(ctx, cfg)
	}
	if cfg.ReadOnly {
		return nil
	}
	create, err := ddl.CreateTradesTable(s.table)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create trades table: %w", err)
	}
	idx, err := ddl.CreateTimestampIndex(s.table)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create trades index: %w", err)
	}
	return nil
}

func (s *Store) attachSource(ctx context.Context, cfg Config) error {
	var stmts []string
	if isRemote(cfg.Source) {
		ext, err := ddl.LoadExtension("httpfs")
		if err != nil {
			return err
		}
		stmts = append(stmts, ext...)
	}
	if cfg.S3 != nil && strings.HasPrefix(cfg.Source, "s3://") {
		urlStyle := cfg.S3.URLStyle
		if urlStyle == "" {
			urlStyle = "vhost"
		}
		secret, err := ddl.CreateS3Secret("trade_source", cfg.S3.KeyID, cfg.S3.Secret, cfg.S3.Endpoint, cfg.S3.Region, urlStyle)
		if err != nil {
			return err
		}
		stmts = append(stmts, secret)
	}
	view, err := ddl.CreateSourceView(s.table, cfg.Source, cfg.SourceFormat)
	if err != nil {
		return err
	}
	stmts = append(stmts, view)

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("attach trade source: %w", err)
		}
	}
	s.logger.Info("trade source attached", "source", cfg.Source, "format", cfg.SourceFormat)
	return nil
}

func isRemote(path string) bool {
	for _, p := range []string{"s3://", "gs://", "gcs://", "az://", "azure://", "http://", "https://"} {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Backend returns the backend name ("duckdb" or "postgres").
func (s *Store) Backend() string { return s.backend }

// Table returns the trades relation name.
func (s *Store) Table() string { return s.table }

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// QueryContext runs a read query against the backing store.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Insert appends trades in one transaction. It is used for seeding and tests;
// the export path never writes.
func (s *Store) Insert(ctx context.Context, trades []domain.Trade) (err error) {
	if len(trades) == 0 {
		return nil
	}
	marks := make([]string, len(domain.TradeColumns))
	for i := range marks {
		if s.backend == BackendPostgres {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = "?"
		}
	}
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ddl.QuoteIdentifier(s.table),
		strings.Join(domain.TradeColumns, ", "),
		strings.Join(marks, ", "),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, t := range trades {
		if _, err = stmt.ExecContext(ctx,
			t.Ticker, t.Exchange, t.ParticipantTimestamp, t.Price, t.Size,
			nullInt(t.DelT), nullFloat(t.DelP),
		); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
