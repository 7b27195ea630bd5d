package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"LISTEN_ADDR", "LOG_LEVEL", "ENV", "DATA_DIR", "RESULTS_DIR", "META_DIR",
	"METADATA_BACKEND", "META_DB_PATH", "TRADE_BACKEND", "DUCKDB_PATH",
	"POSTGRES_DSN", "TRADE_TABLE", "TRADE_SOURCE", "TIMEZONE", "PAGE_SIZE",
	"RETENTION_CAPACITY", "WAIT_POLL_INTERVAL", "WAIT_CEILING", "JOB_ERROR_TTL",
	"JOB_RECORD_TTL", "JOB_STALE_AFTER", "GC_SCHEDULE", "JWT_SECRET",
	"AUTH_ISSUER_URL", "AUTH_AUDIENCE", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "ARTIFACT_STORE", "PRESIGN_EXPIRY", "S3_BUCKET",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, filepath.Join("data", "results"), cfg.ResultsDir)
	assert.Equal(t, filepath.Join("data", "meta"), cfg.MetaDir)
	assert.Equal(t, filepath.Join("data", "meta", "meta.sqlite"), cfg.MetaDBPath)
	assert.Equal(t, MetadataSQLite, cfg.MetadataBackend)
	assert.Equal(t, "duckdb", cfg.Trade.Backend)
	assert.Equal(t, "trades", cfg.Trade.Table)
	assert.Equal(t, "UTC", cfg.Trade.TimeZone)
	assert.Equal(t, DevJWTSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Zero(t, cfg.Jobs.WaitCeiling, "zero defers to the service default")
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/srv/export")
	t.Setenv("METADATA_BACKEND", "FILE")
	t.Setenv("TRADE_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/trades")
	t.Setenv("TIMEZONE", "America/New_York")
	t.Setenv("PAGE_SIZE", "5000")
	t.Setenv("RETENTION_CAPACITY", "3")
	t.Setenv("WAIT_CEILING", "90s")
	t.Setenv("JOB_ERROR_TTL", "5m")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ARTIFACT_STORE", "S3")
	t.Setenv("S3_BUCKET", "exports")
	t.Setenv("PRESIGN_EXPIRY", "15m")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/srv/export/results", cfg.ResultsDir)
	assert.Equal(t, MetadataFile, cfg.MetadataBackend)
	assert.Equal(t, "postgres", cfg.Trade.Backend)
	assert.Equal(t, 5000, cfg.PageSize)
	assert.Equal(t, 3, cfg.RetentionCapacity)
	assert.Equal(t, 90*time.Second, cfg.Jobs.WaitCeiling)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.ErrorTTL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "s3", cfg.Artifacts.Store)
	assert.Equal(t, "exports", cfg.Artifacts.S3Bucket)
	assert.Equal(t, 15*time.Minute, cfg.Artifacts.Expiry)
	assert.Empty(t, cfg.Warnings)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"WAIT_CEILING": "soon"}},
		{"negative int", map[string]string{"RETENTION_CAPACITY": "-1"}},
		{"bad metadata backend", map[string]string{"METADATA_BACKEND": "redis"}},
		{"bad trade backend", map[string]string{"TRADE_BACKEND": "mysql"}},
		{"postgres without dsn", map[string]string{"TRADE_BACKEND": "postgres"}},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
		{"issuer without audience", map[string]string{"AUTH_ISSUER_URL": "https://idp.example"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadFromEnv_Production(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := LoadFromEnv()
	require.Error(t, err, "dev secret is rejected")

	t.Setenv("JWT_SECRET", "s3cret")
	_, err = LoadFromEnv()
	require.Error(t, err, "CORS wildcard is rejected")

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO"} {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel().String(), in)
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_KEY=test_value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_KEY"); val != "test_value" {
		t.Errorf("TEST_KEY = %q, want %q", val, "test_value")
	}
	_ = os.Unsetenv("TEST_KEY")
}

func TestLoadDotEnv_SkipsComments(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("# comment\nTEST_COMMENT_KEY=value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_COMMENT_KEY"); val != "value" {
		t.Errorf("TEST_COMMENT_KEY = %q, want %q", val, "value")
	}
	_ = os.Unsetenv("TEST_COMMENT_KEY")
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from_env")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_PRECEDENCE_KEY=from_file\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_PRECEDENCE_KEY"); val != "from_env" {
		t.Errorf("TEST_PRECEDENCE_KEY = %q, want %q (env precedence)", val, "from_env")
	}
}
