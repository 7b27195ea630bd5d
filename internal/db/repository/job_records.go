package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trade-export/internal/domain"
)

var _ domain.JobStore = (*JobRecordRepo)(nil)

const jobColumns = `signature, identity, status, filename, error_message,
	created_at, started_at, completed_at, updated_at, version`

// JobRecordRepo stores job lifecycle state in SQLite. Writes go through the
// single-connection write pool; reads may use the read pool.
type JobRecordRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewJobRecordRepo creates a JobRecordRepo. read may be nil, in which case
// write is used for everything.
func NewJobRecordRepo(write, read *sql.DB) *JobRecordRepo {
	if read == nil {
		read = write
	}
	return &JobRecordRepo{write: write, read: read}
}

// Get returns a record by signature.
func (r *JobRecordRepo) Get(ctx context.Context, signature string) (*domain.JobRecord, error) {
	rec, err := scanJob(r.read.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM job_records WHERE signature = ?`, signature))
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return nil, domain.ErrNotFound("job %q not found", signature)
		}
		return nil, err
	}
	return rec, nil
}

// Create inserts a new record with Version 1. A concurrent insert of the
// same signature yields a ConflictError.
func (r *JobRecordRepo) Create(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, error) {
	if rec == nil || rec.Signature == "" {
		return nil, domain.ErrValidation("job signature is required")
	}
	out := rec.Clone()
	out.Version = 1
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}

	res, err := r.write.ExecContext(ctx, `
		INSERT INTO job_records (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO NOTHING
	`, out.Signature, out.Identity, string(out.Status), out.Filename, out.ErrorMessage,
		out.CreatedAt.UTC(), nullTime(out.StartedAt), nullTime(out.CompletedAt), out.UpdatedAt.UTC(), out.Version)
	if err != nil {
		return nil, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrConflict("job %q already exists", out.Signature)
	}
	return out, nil
}

// CompareAndSwap stores rec if the stored version still equals rec.Version.
func (r *JobRecordRepo) CompareAndSwap(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, error) {
	if rec == nil || rec.Signature == "" {
		return nil, domain.ErrValidation("job signature is required")
	}
	out := rec.Clone()
	out.Version = rec.Version + 1
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now().UTC()
	}

	res, err := r.write.ExecContext(ctx, `
		UPDATE job_records
		SET identity = ?, status = ?, filename = ?, error_message = ?,
		    created_at = ?, started_at = ?, completed_at = ?, updated_at = ?, version = ?
		WHERE signature = ? AND version = ?
	`, out.Identity, string(out.Status), out.Filename, out.ErrorMessage,
		out.CreatedAt.UTC(), nullTime(out.StartedAt), nullTime(out.CompletedAt), out.UpdatedAt.UTC(), out.Version,
		out.Signature, rec.Version)
	if err != nil {
		return nil, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return out, nil
	}
	return nil, r.missOrConflict(ctx, rec.Signature, rec.Version)
}

// Delete removes the record if its version still matches.
func (r *JobRecordRepo) Delete(ctx context.Context, signature string, version int64) error {
	res, err := r.write.ExecContext(ctx,
		`DELETE FROM job_records WHERE signature = ? AND version = ?`, signature, version)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	return r.missOrConflict(ctx, signature, version)
}

// List returns every record ordered by last update.
func (r *JobRecordRepo) List(ctx context.Context) ([]domain.JobRecord, error) {
	rows, err := r.read.QueryContext(ctx, `SELECT `+jobColumns+` FROM job_records ORDER BY updated_at`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *JobRecordRepo) missOrConflict(ctx context.Context, signature string, expected int64) error {
	var current int64
	err := r.write.QueryRowContext(ctx, `SELECT version FROM job_records WHERE signature = ?`, signature).Scan(&current)
	if err != nil {
		if mapped, ok := mapDBError(err).(*domain.NotFoundError); ok {
			mapped.Message = fmt.Sprintf("job %q not found", signature)
			return mapped
		}
		return err
	}
	return domain.ErrConflict("job %q changed: expected version %d, found %d", signature, expected, current)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.JobRecord, error) {
	var (
		rec                    domain.JobRecord
		status                 string
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&rec.Signature,
		&rec.Identity,
		&status,
		&rec.Filename,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&startedAt,
		&completedAt,
		&rec.UpdatedAt,
		&rec.Version,
	)
	if err != nil {
		return nil, mapDBError(err)
	}
	rec.Status = domain.JobStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.StartedAt = timePtr(startedAt)
	rec.CompletedAt = timePtr(completedAt)
	return &rec, nil
}
