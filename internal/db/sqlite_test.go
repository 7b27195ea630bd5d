package db

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	write := buildDSN("/tmp/meta.sqlite", "write")
	assert.True(t, strings.HasPrefix(write, "/tmp/meta.sqlite?"))
	assert.Contains(t, write, "_journal_mode=WAL")
	assert.Contains(t, write, "_busy_timeout=5000")
	assert.Contains(t, write, "_txlock=immediate")

	read := buildDSN("/tmp/meta.sqlite", "read")
	assert.Contains(t, read, "_synchronous=NORMAL")
	assert.NotContains(t, read, "_txlock")
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "meta.sqlite"), "append", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, err := OpenSQLite("/nonexistent/dir/meta.sqlite", "write", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping sqlite")
}

func TestOpenSQLitePair(t *testing.T) {
	writeDB, readDB, err := OpenSQLitePair(filepath.Join(t.TempDir(), "meta.sqlite"), 3)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	assert.Equal(t, 1, writeDB.Stats().MaxOpenConnections)
	assert.Equal(t, 3, readDB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, writeDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", strings.ToLower(journalMode))
}

func TestOpen_AppliesMigrations(t *testing.T) {
	pool, err := Open(context.Background(), filepath.Join(t.TempDir(), "meta.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	for _, table := range []string{"job_records", "manifest_entries"} {
		var name string
		err := pool.Read.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	v, err := SchemaVersion(pool.Write)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// Re-running is a no-op.
	require.NoError(t, RunMigrations(pool.Write))
}

func TestJobRecordsStatusCheck(t *testing.T) {
	writeDB, _ := OpenTestSQLite(t)

	_, err := writeDB.Exec(`INSERT INTO job_records (signature, identity, status, created_at, updated_at)
		VALUES ('abc', 'alice', 'PAUSED', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHECK constraint failed")
}

func TestOpenSQLitePair_ConcurrentWriters(t *testing.T) {
	writeDB, readDB := OpenTestSQLite(t)

	_, err := writeDB.Exec(`INSERT INTO manifest_entries (identity, filename, updated_at) VALUES ('n', '0', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = writeDB.Exec(`UPDATE manifest_entries SET filename = CAST(CAST(filename AS INTEGER) + 1 AS TEXT) WHERE identity = 'n'`)
		}(i)
	}
	wg.Wait()
	for i, e := range errs {
		assert.NoError(t, e, "writer %d", i)
	}

	var got string
	require.NoError(t, readDB.QueryRow(`SELECT filename FROM manifest_entries WHERE identity = 'n'`).Scan(&got))
	assert.Equal(t, "20", got)
}
