// Package retention bounds the number of live export artifacts. The
// manifest maps each identity to its most recent artifact; only the K most
// recently used entries survive, and evicted artifacts are deleted.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"trade-export/internal/domain"
)

// Defaults.
const (
	DefaultCapacity   = 5
	DefaultSweepGrace = time.Hour
)

var (
	artifactRe = regexp.MustCompile(`^trades_[0-9a-f]{8}_[0-9]+\.csv$`)
	// pendingRe matches temp files left by an interrupted artifact write.
	pendingRe = regexp.MustCompile(`^\.trades_[0-9a-f]{8}_[0-9]+\.csv[0-9]+$`)
)

// ValidArtifactName reports whether name looks like an export artifact.
// It rejects anything that could escape the results directory.
func ValidArtifactName(name string) bool {
	return artifactRe.MatchString(name)
}

// RemoveHook is called after an artifact is deleted locally, so copies
// elsewhere (object storage) can follow.
type RemoveHook func(ctx context.Context, filename string)

// Options configure a Manager.
type Options struct {
	Capacity   int
	SweepGrace time.Duration
	OnRemove   RemoveHook
	Now        func() time.Time
}

// Manager owns the manifest and the results directory.
type Manager struct {
	store    domain.ManifestStore
	dir      string
	capacity int
	grace    time.Duration
	onRemove RemoveHook
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Manager over resultsDir.
func New(store domain.ManifestStore, resultsDir string, opts Options, logger *slog.Logger) *Manager {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.SweepGrace <= 0 {
		opts.SweepGrace = DefaultSweepGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:    store,
		dir:      resultsDir,
		capacity: opts.Capacity,
		grace:    opts.SweepGrace,
		onRemove: opts.OnRemove,
		now:      opts.Now,
		logger:   logger.With("component", "retention"),
	}
}

// Capacity returns K.
func (m *Manager) Capacity() int { return m.capacity }

// Dir returns the results directory.
func (m *Manager) Dir() string { return m.dir }

// Path returns the absolute location of an artifact.
func (m *Manager) Path(filename string) string {
	return filepath.Join(m.dir, filename)
}

// Exists reports whether the artifact is present on disk.
func (m *Manager) Exists(filename string) bool {
	if filename == "" || !ValidArtifactName(filename) {
		return false
	}
	info, err := os.Stat(m.Path(filename))
	return err == nil && info.Mode().IsRegular()
}

// Register records filename as identity's most recent artifact, evicting
// the least recently used entries beyond capacity.
func (m *Manager) Register(ctx context.Context, identity, filename string) error {
	if identity == "" {
		return domain.ErrValidation("identity is required")
	}
	if !ValidArtifactName(filename) {
		return domain.ErrValidation("invalid artifact name %q", filename)
	}

	var candidates []string
	err := m.store.Update(ctx, func(entries []domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		candidates = candidates[:0]
		live := make([]domain.ManifestEntry, 0, len(entries)+1)
		for _, e := range entries {
			if !m.Exists(e.Filename) {
				m.logger.Debug("purging stale manifest entry", "identity", e.Identity, "filename", e.Filename)
				continue
			}
			if e.Identity == identity {
				if e.Filename != filename {
					candidates = append(candidates, e.Filename)
				}
				continue
			}
			live = append(live, e)
		}
		live = append(live, domain.ManifestEntry{Identity: identity, Filename: filename, UpdatedAt: m.now().UTC()})
		sort.SliceStable(live, func(i, j int) bool { return live[i].UpdatedAt.After(live[j].UpdatedAt) })

		if len(live) > m.capacity {
			for _, e := range live[m.capacity:] {
				candidates = append(candidates, e.Filename)
			}
			live = live[:m.capacity]
		}

		referenced := make(map[string]bool, len(live))
		for _, e := range live {
			referenced[e.Filename] = true
		}
		kept := candidates[:0]
		for _, f := range candidates {
			if !referenced[f] {
				kept = append(kept, f)
			}
		}
		candidates = kept
		return live, nil
	})
	if err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}

	for _, f := range candidates {
		m.remove(ctx, f, "evicted")
	}
	return nil
}

// Lookup returns identity's retained artifact. An entry whose file is gone
// is dropped and reported as not found.
func (m *Manager) Lookup(ctx context.Context, identity string) (string, error) {
	entries, err := m.store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list manifest: %w", err)
	}
	for _, e := range entries {
		if e.Identity != identity {
			continue
		}
		if m.Exists(e.Filename) {
			return e.Filename, nil
		}
		if err := m.drop(ctx, identity, e.Filename); err != nil {
			return "", err
		}
		break
	}
	return "", domain.ErrNotFound("no retained artifact for %q", identity)
}

// Owns reports whether filename is the artifact retained for identity.
func (m *Manager) Owns(ctx context.Context, identity, filename string) (bool, error) {
	current, err := m.Lookup(ctx, identity)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return current == filename, nil
}

// Sweep deletes artifacts in the results directory that no manifest entry
// references, plus abandoned temp files, once they are older than the grace
// period. It returns the number of files removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	entries, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list manifest: %w", err)
	}
	referenced := make(map[string]bool, len(entries))
	for _, e := range entries {
		referenced[e.Filename] = true
	}

	files, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read results dir: %w", err)
	}

	cutoff := m.now().Add(-m.grace)
	removed := 0
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || referenced[name] {
			continue
		}
		pending := pendingRe.MatchString(name)
		if !pending && !ValidArtifactName(name) {
			continue
		}
		info, err := f.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if pending {
			if err := os.Remove(filepath.Join(m.dir, name)); err == nil {
				removed++
			}
			continue
		}
		if m.remove(ctx, name, "orphaned") {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("swept orphaned artifacts", "removed", removed)
	}
	return removed, nil
}

func (m *Manager) drop(ctx context.Context, identity, filename string) error {
	err := m.store.Update(ctx, func(entries []domain.ManifestEntry) ([]domain.ManifestEntry, error) {
		out := entries[:0]
		for _, e := range entries {
			if e.Identity == identity && e.Filename == filename {
				continue
			}
			out = append(out, e)
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("drop manifest entry: %w", err)
	}
	m.logger.Debug("dropped stale manifest entry", "identity", identity, "filename", filename)
	return nil
}

func (m *Manager) remove(ctx context.Context, filename, reason string) bool {
	if !ValidArtifactName(filename) {
		return false
	}
	err := os.Remove(m.Path(filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("remove artifact", "filename", filename, "error", err)
		return false
	}
	m.logger.Info("artifact removed", "filename", filename, "reason", reason)
	if m.onRemove != nil {
		m.onRemove(ctx, filename)
	}
	return err == nil
}
