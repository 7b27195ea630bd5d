// Package filestore implements the job and manifest stores as JSON
// documents on local disk. Each write goes to a pending file that is renamed
// over the target, so readers never observe a torn document. Mutations are
// serialized by an in-process mutex; the store is meant for a single
// process per metadata directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"trade-export/internal/domain"
)

var (
	_ domain.JobStore      = (*JobStore)(nil)
	_ domain.ManifestStore = (*ManifestStore)(nil)
)

// signatureRe keeps signatures usable as file names.
var signatureRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

const (
	jobsDir      = "jobs"
	manifestFile = "manifest.json"
	filePerm     = 0o644
)

// JobStore keeps one JSON file per job signature under <root>/jobs.
type JobStore struct {
	root string
	mu   sync.Mutex
}

// ManifestStore keeps the retention manifest in <root>/manifest.json.
type ManifestStore struct {
	path string
	mu   sync.Mutex
}

// Open prepares the directory layout under root and returns both stores.
func Open(root string) (*JobStore, *ManifestStore, error) {
	if root == "" {
		return nil, nil, fmt.Errorf("filestore root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, jobsDir), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create filestore: %w", err)
	}
	return &JobStore{root: root}, &ManifestStore{path: filepath.Join(root, manifestFile)}, nil
}

type jobDoc struct {
	Signature    string     `json:"signature"`
	Identity     string     `json:"identity"`
	Status       string     `json:"status"`
	Filename     string     `json:"filename,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

type manifestDoc struct {
	Entries []manifestEntryDoc `json:"entries"`
}

type manifestEntryDoc struct {
	Identity  string    `json:"identity"`
	Filename  string    `json:"filename"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *JobStore) jobPath(signature string) (string, error) {
	if !signatureRe.MatchString(signature) {
		return "", domain.ErrValidation("invalid job signature %q", signature)
	}
	return filepath.Join(s.root, jobsDir, signature+".json"), nil
}

// Get returns a record by signature.
func (s *JobStore) Get(_ context.Context, signature string) (*domain.JobRecord, error) {
	path, err := s.jobPath(signature)
	if err != nil {
		return nil, err
	}
	return readJob(path, signature)
}

// Create stores a new record with Version 1.
func (s *JobStore) Create(_ context.Context, rec *domain.JobRecord) (*domain.JobRecord, error) {
	if rec == nil || rec.Signature == "" {
		return nil, domain.ErrValidation("job signature is required")
	}
	path, err := s.jobPath(rec.Signature)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil, domain.ErrConflict("job %q already exists", rec.Signature)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat job: %w", err)
	}

	out := rec.Clone()
	out.Version = 1
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	if err := writeJSON(path, toJobDoc(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// CompareAndSwap replaces the record when the stored version matches.
func (s *JobStore) CompareAndSwap(_ context.Context, rec *domain.JobRecord) (*domain.JobRecord, error) {
	if rec == nil || rec.Signature == "" {
		return nil, domain.ErrValidation("job signature is required")
	}
	path, err := s.jobPath(rec.Signature)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := readJob(path, rec.Signature)
	if err != nil {
		return nil, err
	}
	if current.Version != rec.Version {
		return nil, domain.ErrConflict("job %q changed: expected version %d, found %d", rec.Signature, rec.Version, current.Version)
	}

	out := rec.Clone()
	out.Version = rec.Version + 1
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now().UTC()
	}
	if err := writeJSON(path, toJobDoc(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record when the stored version matches.
func (s *JobStore) Delete(_ context.Context, signature string, version int64) error {
	path, err := s.jobPath(signature)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := readJob(path, signature)
	if err != nil {
		return err
	}
	if current.Version != version {
		return domain.ErrConflict("job %q changed: expected version %d, found %d", signature, version, current.Version)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// List returns every stored record ordered by last update.
func (s *JobStore) List(_ context.Context) ([]domain.JobRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, jobsDir))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var out []domain.JobRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		sig := strings.TrimSuffix(name, ".json")
		rec, err := readJob(filepath.Join(s.root, jobsDir, name), sig)
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				continue // removed concurrently
			}
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// List returns the manifest entries, most recent first.
func (m *ManifestStore) List(_ context.Context) ([]domain.ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

// Update runs fn on the manifest and writes the result atomically.
func (m *ManifestStore) Update(_ context.Context, fn func([]domain.ManifestEntry) ([]domain.ManifestEntry, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.read()
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(next))
	doc := manifestDoc{Entries: make([]manifestEntryDoc, 0, len(next))}
	for _, e := range next {
		if seen[e.Identity] {
			return domain.ErrConflict("duplicate manifest entry for %q", e.Identity)
		}
		seen[e.Identity] = true
		doc.Entries = append(doc.Entries, manifestEntryDoc{Identity: e.Identity, Filename: e.Filename, UpdatedAt: e.UpdatedAt.UTC()})
	}
	return writeJSON(m.path, doc)
}

func (m *ManifestStore) read() ([]domain.ManifestEntry, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	out := make([]domain.ManifestEntry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		out = append(out, domain.ManifestEntry{Identity: e.Identity, Filename: e.Filename, UpdatedAt: e.UpdatedAt})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func readJob(path, signature string) (*domain.JobRecord, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a validated signature
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrNotFound("job %q not found", signature)
		}
		return nil, fmt.Errorf("read job: %w", err)
	}
	var doc jobDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode job %q: %w", signature, err)
	}
	return &domain.JobRecord{
		Signature:    doc.Signature,
		Identity:     doc.Identity,
		Status:       domain.JobStatus(doc.Status),
		Filename:     doc.Filename,
		ErrorMessage: doc.ErrorMessage,
		CreatedAt:    doc.CreatedAt,
		StartedAt:    doc.StartedAt,
		CompletedAt:  doc.CompletedAt,
		UpdatedAt:    doc.UpdatedAt,
		Version:      doc.Version,
	}, nil
}

func toJobDoc(r *domain.JobRecord) jobDoc {
	return jobDoc{
		Signature:    r.Signature,
		Identity:     r.Identity,
		Status:       string(r.Status),
		Filename:     r.Filename,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt.UTC(),
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		UpdatedAt:    r.UpdatedAt.UTC(),
		Version:      r.Version,
	}
}

// writeJSON writes v to a pending file next to path and renames it into place.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithStaticPermissions(filePerm),
	)
	if err != nil {
		return fmt.Errorf("create pending %s: %w", filepath.Base(path), err)
	}
	defer pf.Cleanup() //nolint:errcheck

	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
