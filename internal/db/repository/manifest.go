package repository

import (
	"context"
	"database/sql"
	"fmt"

	"trade-export/internal/domain"
)

var _ domain.ManifestStore = (*ManifestRepo)(nil)

// ManifestRepo stores the retention manifest in SQLite. Update runs in an
// immediate transaction on the write pool, so concurrent updates serialize.
type ManifestRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewManifestRepo creates a ManifestRepo. read may be nil.
func NewManifestRepo(write, read *sql.DB) *ManifestRepo {
	if read == nil {
		read = write
	}
	return &ManifestRepo{write: write, read: read}
}

// List returns all entries, most recent first.
func (r *ManifestRepo) List(ctx context.Context) ([]domain.ManifestEntry, error) {
	return listManifest(ctx, r.read)
}

// Update replaces the manifest with fn's result inside one transaction.
func (r *ManifestRepo) Update(ctx context.Context, fn func([]domain.ManifestEntry) ([]domain.ManifestEntry, error)) (err error) {
	tx, err := r.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin manifest update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := listManifest(ctx, tx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM manifest_entries`); err != nil {
		return mapDBError(err)
	}
	for _, e := range next {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO manifest_entries (identity, filename, updated_at) VALUES (?, ?, ?)`,
			e.Identity, e.Filename, e.UpdatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("store manifest entry %q: %w", e.Identity, mapDBError(err))
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit manifest update: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listManifest(ctx context.Context, q queryer) ([]domain.ManifestEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT identity, filename, updated_at FROM manifest_entries ORDER BY updated_at DESC, identity`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.ManifestEntry
	for rows.Next() {
		var e domain.ManifestEntry
		if err := rows.Scan(&e.Identity, &e.Filename, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.UpdatedAt = e.UpdatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
