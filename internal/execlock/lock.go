// Package execlock serializes heavy export execution. A Lock combines an
// in-process mutex with an advisory lock on a marker file, so separate
// processes sharing a metadata directory also run one export at a time. The
// kernel drops the file lock when its holder exits, so a crashed process never
// leaves the lock behind.
package execlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// MarkerName is the lock marker file inside the metadata directory. The
	// file is never removed; holding the lock means holding its file lock.
	MarkerName = "exec.lock"

	DefaultPollInterval = 250 * time.Millisecond
)

// Owner is the JSON payload written into the marker while the lock is held.
// It is informational only.
type Owner struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Options tunes marker polling.
type Options struct {
	PollInterval time.Duration
	Now          func() time.Time
}

// Lock is the global execution lock. It is not FIFO-fair.
type Lock struct {
	path   string
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File // open while held
}

// New creates a lock whose marker lives in dir.
func New(dir string, opts Options, logger *slog.Logger) *Lock {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Lock{
		path:   filepath.Join(dir, MarkerName),
		opts:   opts,
		logger: logger.With("component", "execlock"),
	}
}

// Path returns the marker file path.
func (l *Lock) Path() string { return l.path }

// Acquire blocks until the lock is held or ctx is done. Execution callers
// pass a context without a deadline; the context only matters at shutdown.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := l.lockMutex(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()
	logged := false
	for {
		ok, err := l.tryFile()
		if err != nil {
			l.mu.Unlock()
			return err
		}
		if ok {
			return nil
		}
		if !logged {
			if owner, held, _ := l.Holder(); held {
				l.logger.Info("waiting for execution lock", "owner_pid", owner.PID, "owner_host", owner.Host)
			}
			logged = true
		}
		select {
		case <-ctx.Done():
			l.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release clears the owner payload, drops the file lock and unlocks the
// mutex. The marker file itself stays in place.
func (l *Lock) Release() {
	if f := l.file; f != nil {
		if err := f.Truncate(0); err != nil {
			l.logger.Warn("clear lock marker", "path", l.path, "error", err)
		}
		if err := unlockFile(f); err != nil {
			l.logger.Warn("unlock lock marker", "path", l.path, "error", err)
		}
		_ = f.Close()
		l.file = nil
	}
	l.mu.Unlock()
}

// Holder reports the owner recorded in the marker. held is false when the
// marker is missing or empty.
func (l *Lock) Holder() (owner Owner, held bool, err error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return owner, false, nil
		}
		return owner, false, err
	}
	if len(data) == 0 {
		return owner, false, nil
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return owner, false, fmt.Errorf("decode lock marker: %w", err)
	}
	return owner, true, nil
}

// lockMutex waits for the in-process mutex while honouring ctx.
func (l *Lock) lockMutex(ctx context.Context) error {
	if l.mu.TryLock() {
		return nil
	}
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.mu.TryLock() {
				return nil
			}
		}
	}
}

// tryFile opens the marker and takes its file lock without blocking. On
// success the owner payload is rewritten and the file stays open.
func (l *Lock) tryFile() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // fixed name under the metadata dir
	if err != nil {
		return false, fmt.Errorf("open lock marker: %w", err)
	}
	ok, err := lockFile(f)
	if err != nil || !ok {
		_ = f.Close()
		if err != nil {
			return false, fmt.Errorf("lock marker: %w", err)
		}
		return false, nil
	}

	if err := writeOwner(f, l.opts.Now().UTC()); err != nil {
		l.logger.Warn("write lock owner", "path", l.path, "error", err)
	}
	l.file = f
	return true, nil
}

func writeOwner(f *os.File, now time.Time) error {
	host, _ := os.Hostname()
	payload, err := json.Marshal(Owner{PID: os.Getpid(), Host: host, AcquiredAt: now})
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = f.Write(payload)
	return err
}
