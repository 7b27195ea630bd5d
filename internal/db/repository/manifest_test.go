package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-export/internal/db"
	"trade-export/internal/domain"
)

func TestManifestRepo_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	writeDB, readDB := db.OpenTestSQLite(t)
	repo := NewManifestRepo(writeDB, readDB)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	err := repo.Update(ctx, func(cur []domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		assert.Empty(t, cur)
		return []domain.ManifestEntry{
			{Identity: "alice", Filename: "a.csv", UpdatedAt: base},
			{Identity: "bob", Filename: "b.csv", UpdatedAt: base.Add(time.Minute)},
		}, nil
	})
	require.NoError(t, err)

	got, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bob", got[0].Identity)
	assert.Equal(t, "alice", got[1].Identity)
	assert.True(t, base.Equal(got[1].UpdatedAt))

	err = repo.Update(ctx, func(cur []domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		require.Len(t, cur, 2)
		return cur[:1], nil
	})
	require.NoError(t, err)

	got, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Identity)
}

func TestManifestRepo_UpdateErrorRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewManifestRepo(writeDB, nil)

	require.NoError(t, repo.Update(ctx, func([]domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		return []domain.ManifestEntry{{Identity: "alice", Filename: "a.csv", UpdatedAt: time.Now()}}, nil
	}))

	boom := errors.New("boom")
	err := repo.Update(ctx, func([]domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestManifestRepo_DuplicateIdentityRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewManifestRepo(writeDB, nil)

	err := repo.Update(ctx, func([]domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		return []domain.ManifestEntry{
			{Identity: "alice", Filename: "a.csv", UpdatedAt: time.Now()},
			{Identity: "alice", Filename: "b.csv", UpdatedAt: time.Now()},
		}, nil
	})
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)

	got, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
