package filestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-export/internal/domain"
)

func openStores(t *testing.T) (*JobStore, *ManifestStore, string) {
	t.Helper()
	root := t.TempDir()
	jobs, manifest, err := Open(root)
	require.NoError(t, err)
	return jobs, manifest, root
}

func TestJobStore_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, _, root := openStores(t)

	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	created, err := jobs.Create(ctx, &domain.JobRecord{
		Signature: "abc123",
		Identity:  "alice",
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.FileExists(t, filepath.Join(root, "jobs", "abc123.json"))

	running := created.Clone()
	running.Status = domain.JobStatusRunning
	started := now.Add(time.Second)
	running.StartedAt = &started
	running.UpdatedAt = started
	running, err = jobs.CompareAndSwap(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, int64(2), running.Version)

	loaded, err := jobs.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, loaded.Status)
	assert.Equal(t, "alice", loaded.Identity)
	require.NotNil(t, loaded.StartedAt)
	assert.True(t, started.Equal(*loaded.StartedAt))

	list, err := jobs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, jobs.Delete(ctx, "abc123", 2))
	_, err = jobs.Get(ctx, "abc123")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestJobStore_Conflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, _, _ := openStores(t)

	rec := &domain.JobRecord{Signature: "dup", Identity: "bob", Status: domain.JobStatusQueued}
	_, err := jobs.Create(ctx, rec)
	require.NoError(t, err)

	var conflict *domain.ConflictError
	_, err = jobs.Create(ctx, rec)
	require.ErrorAs(t, err, &conflict)

	stale := rec.Clone()
	stale.Version = 7
	_, err = jobs.CompareAndSwap(ctx, stale)
	require.ErrorAs(t, err, &conflict)

	require.ErrorAs(t, jobs.Delete(ctx, "dup", 9), &conflict)

	var nf *domain.NotFoundError
	_, err = jobs.CompareAndSwap(ctx, &domain.JobRecord{Signature: "missing", Version: 1})
	require.ErrorAs(t, err, &nf)
}

func TestJobStore_RejectsUnsafeSignature(t *testing.T) {
	t.Parallel()
	jobs, _, _ := openStores(t)

	_, err := jobs.Get(context.Background(), "../escape")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestJobStore_ConcurrentCreateHasOneWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, _, _ := openStores(t)

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := jobs.Create(ctx, &domain.JobRecord{Signature: "race", Status: domain.JobStatusQueued}); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	assert.Len(t, wins, 1)
}

func TestManifestStore_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, manifest, root := openStores(t)

	entries, err := manifest.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err = manifest.Update(ctx, func(cur []domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		return append(cur,
			domain.ManifestEntry{Identity: "a", Filename: "trades_a.csv", UpdatedAt: t0},
			domain.ManifestEntry{Identity: "b", Filename: "trades_b.csv", UpdatedAt: t0.Add(time.Minute)},
		), nil
	})
	require.NoError(t, err)

	entries, err = manifest.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Identity)
	assert.Equal(t, "a", entries[1].Identity)

	err = manifest.Update(ctx, func(cur []domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		return append(cur, domain.ManifestEntry{Identity: "a", Filename: "again.csv"}), nil
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	// Failed updates leave the document untouched and no pending files behind.
	entries, err = manifest.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	dirEntries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range dirEntries {
		assert.NotContains(t, e.Name(), ".manifest.json")
	}
}
