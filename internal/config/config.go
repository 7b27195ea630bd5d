// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DevJWTSecret is the HS256 secret used when neither JWT_SECRET nor an OIDC
// issuer is configured. It is rejected in production.
const DevJWTSecret = "dev-secret-change-in-production"

// Metadata backends.
const (
	MetadataSQLite = "sqlite"
	MetadataFile   = "file"
)

// AuthConfig holds bearer-token validation settings.
type AuthConfig struct {
	IssuerURL string // OIDC issuer URL; enables discovery-based validation
	JWTSecret string // HS256 shared secret for local/dev tokens
	Audience  string // required "aud" claim, empty to skip
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != ""
}

// Validate checks that the auth configuration is internally consistent.
func (a *AuthConfig) Validate() error {
	if a.IssuerURL == "" && a.JWTSecret == "" {
		return fmt.Errorf("one of AUTH_ISSUER_URL or JWT_SECRET must be set")
	}
	if a.IssuerURL != "" && a.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required when AUTH_ISSUER_URL is set")
	}
	return nil
}

// TradeConfig selects the backing trades relation.
type TradeConfig struct {
	Backend      string // "duckdb" (default) or "postgres"
	DuckDBPath   string // empty for in-memory
	PostgresDSN  string
	Table        string
	Source       string // optional parquet/csv path or glob
	SourceFormat string
	TimeZone     string
}

// JobConfig holds the cache manager's timing knobs.
type JobConfig struct {
	PollInterval      time.Duration
	WaitCeiling       time.Duration
	ErrorTTL          time.Duration
	RecordTTL         time.Duration
	StaleAfter        time.Duration
	HeartbeatInterval time.Duration
	GCSchedule        string
}

// ArtifactStoreConfig selects an optional object store for finished exports.
type ArtifactStoreConfig struct {
	Store  string // "", "s3", "azure" or "gcs"
	Prefix string
	Expiry time.Duration

	S3Endpoint string
	S3Region   string
	S3KeyID    string
	S3Secret   string
	S3Bucket   string
	S3URLStyle string

	AzureAccountName string
	AzureAccountKey  string
	AzureContainer   string

	GCSBucket          string
	GCSCredentialsFile string
}

// Config holds the configuration of the export server and CLI.
type Config struct {
	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	DataDir         string // root for results and metadata (default "data")
	ResultsDir      string // artifact directory (default DATA_DIR/results)
	MetaDir         string // job records, manifest, lock marker (default DATA_DIR/meta)
	MetadataBackend string // "sqlite" (default) or "file"
	MetaDBPath      string // SQLite metadata file (default META_DIR/meta.sqlite)

	Trade TradeConfig

	PageSize          int
	RetentionCapacity int
	Jobs              JobConfig

	ExchangesFile string // YAML exchange registry; empty uses the embedded one

	Auth AuthConfig

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 10)
	RateLimitBurst int     // burst capacity (default 20)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Artifacts ArtifactStoreConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Location returns the configured calendar time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Trade.TimeZone)
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		Env:             os.Getenv("ENV"),
		DataDir:         os.Getenv("DATA_DIR"),
		ResultsDir:      os.Getenv("RESULTS_DIR"),
		MetaDir:         os.Getenv("META_DIR"),
		MetadataBackend: strings.ToLower(os.Getenv("METADATA_BACKEND")),
		MetaDBPath:      os.Getenv("META_DB_PATH"),
		ExchangesFile:   os.Getenv("EXCHANGES_FILE"),
		Trade: TradeConfig{
			Backend:      strings.ToLower(os.Getenv("TRADE_BACKEND")),
			DuckDBPath:   os.Getenv("DUCKDB_PATH"),
			PostgresDSN:  os.Getenv("POSTGRES_DSN"),
			Table:        os.Getenv("TRADE_TABLE"),
			Source:       os.Getenv("TRADE_SOURCE"),
			SourceFormat: os.Getenv("TRADE_SOURCE_FORMAT"),
			TimeZone:     os.Getenv("TIMEZONE"),
		},
		Auth: AuthConfig{
			IssuerURL: os.Getenv("AUTH_ISSUER_URL"),
			JWTSecret: os.Getenv("JWT_SECRET"),
			Audience:  os.Getenv("AUTH_AUDIENCE"),
		},
		Artifacts: ArtifactStoreConfig{
			Store:              strings.ToLower(os.Getenv("ARTIFACT_STORE")),
			Prefix:             os.Getenv("ARTIFACT_PREFIX"),
			S3Endpoint:         os.Getenv("S3_ENDPOINT"),
			S3Region:           os.Getenv("S3_REGION"),
			S3KeyID:            os.Getenv("S3_KEY_ID"),
			S3Secret:           os.Getenv("S3_SECRET"),
			S3Bucket:           os.Getenv("S3_BUCKET"),
			S3URLStyle:         os.Getenv("S3_URL_STYLE"),
			AzureAccountName:   os.Getenv("AZURE_ACCOUNT_NAME"),
			AzureAccountKey:    os.Getenv("AZURE_ACCOUNT_KEY"),
			AzureContainer:     os.Getenv("AZURE_CONTAINER"),
			GCSBucket:          os.Getenv("GCS_BUCKET"),
			GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
		},
		Jobs: JobConfig{
			GCSchedule: os.Getenv("GC_SCHEDULE"),
		},
	}

	var errs []error
	cfg.PageSize = envInt("PAGE_SIZE", &errs)
	cfg.RetentionCapacity = envInt("RETENTION_CAPACITY", &errs)
	cfg.Jobs.PollInterval = envDuration("WAIT_POLL_INTERVAL", &errs)
	cfg.Jobs.WaitCeiling = envDuration("WAIT_CEILING", &errs)
	cfg.Jobs.ErrorTTL = envDuration("JOB_ERROR_TTL", &errs)
	cfg.Jobs.RecordTTL = envDuration("JOB_RECORD_TTL", &errs)
	cfg.Jobs.StaleAfter = envDuration("JOB_STALE_AFTER", &errs)
	cfg.Jobs.HeartbeatInterval = envDuration("JOB_HEARTBEAT_INTERVAL", &errs)
	cfg.Artifacts.Expiry = envDuration("PRESIGN_EXPIRY", &errs)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = filepath.Join(cfg.DataDir, "results")
	}
	if cfg.MetaDir == "" {
		cfg.MetaDir = filepath.Join(cfg.DataDir, "meta")
	}
	if cfg.MetadataBackend == "" {
		cfg.MetadataBackend = MetadataSQLite
	}
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = filepath.Join(cfg.MetaDir, "meta.sqlite")
	}
	if cfg.Trade.Backend == "" {
		cfg.Trade.Backend = "duckdb"
	}
	if cfg.Trade.Table == "" {
		cfg.Trade.Table = "trades"
	}
	if cfg.Trade.TimeZone == "" {
		cfg.Trade.TimeZone = "UTC"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	switch cfg.MetadataBackend {
	case MetadataSQLite, MetadataFile:
	default:
		return nil, fmt.Errorf("METADATA_BACKEND must be %q or %q, got %q", MetadataSQLite, MetadataFile, cfg.MetadataBackend)
	}
	switch cfg.Trade.Backend {
	case "duckdb":
	case "postgres", "postgresql":
		if cfg.Trade.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when TRADE_BACKEND=%s", cfg.Trade.Backend)
		}
	default:
		return nil, fmt.Errorf("TRADE_BACKEND must be duckdb or postgres, got %q", cfg.Trade.Backend)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Trade.TimeZone, err)
	}

	if !cfg.Auth.OIDCEnabled() && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = DevJWTSecret
		cfg.Warnings = append(cfg.Warnings, "no AUTH_ISSUER_URL or JWT_SECRET set, using the development HS256 secret")
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if !cfg.Auth.OIDCEnabled() && cfg.Auth.JWTSecret == DevJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET or AUTH_ISSUER_URL must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func envInt(key string, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a non-negative integer, got %q", key, v))
		return 0
	}
	return n
}

func envDuration(key string, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a positive duration, got %q", key, v))
		return 0
	}
	return d
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Environment variables take precedence.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
