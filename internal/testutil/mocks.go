// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"errors"
	"sync"

	"trade-export/internal/domain"
)

// errNotImplemented is returned by a mock method whose Fn field is unset.
var errNotImplemented = errors.New("mock: not implemented")

// === Job Store Mock ===

// MockJobStore implements domain.JobStore for testing.
type MockJobStore struct {
	GetFn            func(ctx context.Context, signature string) (*domain.JobRecord, error)
	CreateFn         func(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, error)
	CompareAndSwapFn func(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, error)
	DeleteFn         func(ctx context.Context, signature string, version int64) error
	ListFn           func(ctx context.Context) ([]domain.JobRecord, error)

	mu      sync.Mutex
	Deleted []string // signatures passed to Delete, for assertions
}

var _ domain.JobStore = (*MockJobStore)(nil)

// Get implements the interface method for testing.
func (m *MockJobStore) Get(ctx context.Context, signature string) (*domain.JobRecord, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, signature)
	}
	return nil, domain.ErrNotFound("job %q not found", signature)
}

// Create implements the interface method for testing.
func (m *MockJobStore) Create(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, rec)
	}
	out := rec.Clone()
	out.Version = 1
	return out, nil
}

// CompareAndSwap implements the interface method for testing.
func (m *MockJobStore) CompareAndSwap(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, error) {
	if m.CompareAndSwapFn != nil {
		return m.CompareAndSwapFn(ctx, rec)
	}
	out := rec.Clone()
	out.Version++
	return out, nil
}

// Delete implements the interface method for testing.
func (m *MockJobStore) Delete(ctx context.Context, signature string, version int64) error {
	if m.DeleteFn != nil {
		if err := m.DeleteFn(ctx, signature, version); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Deleted = append(m.Deleted, signature)
	m.mu.Unlock()
	return nil
}

// List implements the interface method for testing.
func (m *MockJobStore) List(ctx context.Context) ([]domain.JobRecord, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	return nil, nil
}

// === Manifest Store Mock ===

// MockManifestStore implements domain.ManifestStore for testing. Without
// Fn overrides it keeps entries in memory.
type MockManifestStore struct {
	UpdateFn func(ctx context.Context, fn func([]domain.ManifestEntry) ([]domain.ManifestEntry, error)) error
	ListFn   func(ctx context.Context) ([]domain.ManifestEntry, error)

	mu      sync.Mutex
	Entries []domain.ManifestEntry
}

var _ domain.ManifestStore = (*MockManifestStore)(nil)

// Update implements the interface method for testing.
func (m *MockManifestStore) Update(ctx context.Context, fn func([]domain.ManifestEntry) ([]domain.ManifestEntry, error)) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(append([]domain.ManifestEntry(nil), m.Entries...))
	if err != nil {
		return err
	}
	m.Entries = next
	return nil
}

// List implements the interface method for testing.
func (m *MockManifestStore) List(ctx context.Context) ([]domain.ManifestEntry, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ManifestEntry(nil), m.Entries...), nil
}

// FailingManifestStore returns a MockManifestStore whose every call fails
// with err.
func FailingManifestStore(err error) *MockManifestStore {
	if err == nil {
		err = errNotImplemented
	}
	return &MockManifestStore{
		UpdateFn: func(context.Context, func([]domain.ManifestEntry) ([]domain.ManifestEntry, error)) error { return err },
		ListFn:   func(context.Context) ([]domain.ManifestEntry, error) { return nil, err },
	}
}
