// Package jobs deduplicates export requests. Each (identity, query) pair maps
// to one JobRecord keyed by its signature: finished artifacts are served from
// cache, concurrent duplicates wait for the running job, and new work runs
// under the global execution lock.
package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"trade-export/internal/domain"
	"trade-export/internal/execlock"
	"trade-export/internal/planner"
	"trade-export/internal/service/retention"
)

// Defaults for Config.
const (
	DefaultPollInterval      = time.Second
	DefaultWaitCeiling       = 900 * time.Second
	DefaultErrorTTL          = 10 * time.Minute
	DefaultRecordTTL         = 24 * time.Hour
	DefaultStaleAfter        = 2 * time.Hour
	DefaultHeartbeatInterval = 30 * time.Second
)

const artifactBufferSize = 1 << 20

// ResultWriter streams a plan to out. *writer.Writer implements it.
type ResultWriter interface {
	Write(ctx context.Context, plan *planner.Plan, out io.Writer) (int64, error)
}

// Publisher copies finished artifacts elsewhere and returns a download URL.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) (string, error)
}

// Config tunes waiting, record lifetimes and plan construction.
type Config struct {
	PollInterval      time.Duration
	WaitCeiling       time.Duration
	ErrorTTL          time.Duration
	RecordTTL         time.Duration
	StaleAfter        time.Duration
	HeartbeatInterval time.Duration
	Planner           planner.Options
	Now               func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WaitCeiling <= 0 {
		c.WaitCeiling = DefaultWaitCeiling
	}
	if c.ErrorTTL <= 0 {
		c.ErrorTTL = DefaultErrorTTL
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = DefaultRecordTTL
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Result describes the artifact answering a Submit call.
type Result struct {
	Signature        string
	Filename         string
	Path             string
	Cached           bool
	Rows             int64
	DownloadURL      string
	UnknownExchanges []string
}

// Service is the job signature and cache manager.
type Service struct {
	jobs      domain.JobStore
	retention *retention.Manager
	lock      *execlock.Lock
	writer    ResultWriter
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
}

// NewService wires the cache manager. publisher may be nil.
func NewService(
	jobs domain.JobStore,
	ret *retention.Manager,
	lock *execlock.Lock,
	w ResultWriter,
	publisher Publisher,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		jobs:      jobs,
		retention: ret,
		lock:      lock,
		writer:    w,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "jobs"),
	}
}

// Submit returns the artifact for spec, executing it only when no usable
// result exists and no identical job is already in flight.
func (s *Service) Submit(ctx context.Context, identity string, spec domain.QuerySpec) (*Result, error) {
	if identity == "" {
		return nil, domain.ErrValidation("identity is required")
	}
	spec = spec.Normalize()
	plan, err := planner.Build(spec, s.cfg.Planner)
	if err != nil {
		return nil, err
	}
	if len(plan.UnknownExchanges) > 0 {
		s.logger.Warn("ignoring unknown exchanges", "identity", identity, "exchanges", plan.UnknownExchanges)
	}
	sig, err := Signature(identity, spec)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("signature", sig, "identity", identity)

	deadline := s.cfg.Now().Add(s.cfg.WaitCeiling)
	waiting := false
	for {
		rec, err := s.jobs.Get(ctx, sig)
		if err != nil {
			var nf *domain.NotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("get job: %w", err)
			}
			now := s.cfg.Now().UTC()
			created, err := s.jobs.Create(ctx, &domain.JobRecord{
				Signature: sig,
				Identity:  identity,
				Status:    domain.JobStatusQueued,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				var conflict *domain.ConflictError
				if errors.As(err, &conflict) {
					continue // lost the race; follow the winner
				}
				return nil, fmt.Errorf("create job: %w", err)
			}
			log.Info("job queued")
			return s.execute(ctx, created, plan)
		}

		switch rec.Status {
		case domain.JobStatusDone:
			if s.retention.Exists(rec.Filename) {
				return s.cached(ctx, rec, plan, waiting)
			}
			log.Info("artifact missing, regenerating", "filename", rec.Filename)
			if res, ok, err := s.takeOver(ctx, rec, plan); ok {
				return res, err
			}

		case domain.JobStatusError:
			if s.cfg.Now().Sub(rec.UpdatedAt) < s.cfg.ErrorTTL || waiting {
				return nil, domain.ErrExecution(sig, "%s", rec.ErrorMessage)
			}
			log.Info("retrying expired failure")
			if res, ok, err := s.takeOver(ctx, rec, plan); ok {
				return res, err
			}

		default:
			if s.cfg.Now().Sub(rec.UpdatedAt) > s.cfg.StaleAfter {
				log.Warn("taking over abandoned job", "status", rec.Status, "updated_at", rec.UpdatedAt)
				if res, ok, err := s.takeOver(ctx, rec, plan); ok {
					return res, err
				}
				continue
			}
			if !s.cfg.Now().Before(deadline) {
				return nil, domain.ErrTimeout("timed out waiting for job %s", sig)
			}
			if !waiting {
				log.Info("waiting for in-flight job", "status", rec.Status)
				waiting = true
			}
			if err := sleep(ctx, s.cfg.PollInterval); err != nil {
				return nil, err
			}
		}
	}
}

// Status returns the record for signature when it belongs to identity.
func (s *Service) Status(ctx context.Context, identity, signature string) (*domain.JobRecord, error) {
	rec, err := s.jobs.Get(ctx, signature)
	if err != nil {
		return nil, err
	}
	if rec.Identity != identity {
		return nil, domain.ErrNotFound("job %q not found", signature)
	}
	return rec, nil
}

// Retention exposes the artifact manager for download handlers.
func (s *Service) Retention() *retention.Manager { return s.retention }

func (s *Service) cached(ctx context.Context, rec *domain.JobRecord, plan *planner.Plan, waited bool) (*Result, error) {
	if err := s.retention.Register(ctx, rec.Identity, rec.Filename); err != nil {
		return nil, fmt.Errorf("register artifact: %w", err)
	}
	res := &Result{
		Signature:        rec.Signature,
		Filename:         rec.Filename,
		Path:             s.retention.Path(rec.Filename),
		Cached:           !waited,
		UnknownExchanges: plan.UnknownExchanges,
	}
	res.DownloadURL = s.publish(ctx, res.Path, rec.Filename)
	return res, nil
}

// takeOver moves a superseded record back to QUEUED and runs it. ok is
// false when another caller changed the record first.
func (s *Service) takeOver(ctx context.Context, rec *domain.JobRecord, plan *planner.Plan) (*Result, bool, error) {
	now := s.cfg.Now().UTC()
	next := rec.Clone()
	next.Status = domain.JobStatusQueued
	next.Filename = ""
	next.ErrorMessage = ""
	next.StartedAt = nil
	next.CompletedAt = nil
	next.UpdatedAt = now
	claimed, err := s.jobs.CompareAndSwap(ctx, next)
	if err != nil {
		var conflict *domain.ConflictError
		var nf *domain.NotFoundError
		if errors.As(err, &conflict) || errors.As(err, &nf) {
			return nil, false, nil
		}
		return nil, true, fmt.Errorf("requeue job: %w", err)
	}
	res, err := s.execute(ctx, claimed, plan)
	return res, true, err
}

// execute runs a QUEUED record this caller owns. The request context is
// detached: once claimed, a job runs to completion.
func (s *Service) execute(ctx context.Context, rec *domain.JobRecord, plan *planner.Plan) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("signature", rec.Signature, "identity", rec.Identity)

	t := &tracker{store: s.jobs, rec: rec, now: s.cfg.Now, logger: log}
	stop := t.heartbeat(ctx, s.cfg.HeartbeatInterval)
	defer stop()

	if err := s.lock.Acquire(ctx); err != nil {
		stop()
		return nil, s.fail(ctx, t, fmt.Errorf("acquire execution lock: %w", err))
	}
	defer s.lock.Release()

	startedAt := s.cfg.Now().UTC()
	if err := t.update(ctx, func(r *domain.JobRecord) {
		r.Status = domain.JobStatusRunning
		r.StartedAt = &startedAt
	}); err != nil {
		stop()
		return nil, s.fail(ctx, t, fmt.Errorf("mark running: %w", err))
	}
	log.Info("job running", "mode", plan.Mode.String())

	filename := artifactName(startedAt)
	path := s.retention.Path(filename)
	rows, err := s.writeArtifact(ctx, plan, path)
	stop()
	if err != nil {
		return nil, s.fail(ctx, t, err)
	}

	completedAt := s.cfg.Now().UTC()
	if err := t.update(ctx, func(r *domain.JobRecord) {
		r.Status = domain.JobStatusDone
		r.Filename = filename
		r.CompletedAt = &completedAt
	}); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Warn("remove unrecorded artifact", "filename", filename, "error", rmErr)
		}
		return nil, s.fail(ctx, t, fmt.Errorf("mark done: %w", err))
	}
	if err := s.retention.Register(ctx, rec.Identity, filename); err != nil {
		return nil, fmt.Errorf("register artifact: %w", err)
	}
	log.Info("job done", "filename", filename, "rows", rows, "elapsed", completedAt.Sub(startedAt).String())

	res := &Result{
		Signature:        rec.Signature,
		Filename:         filename,
		Path:             path,
		Rows:             rows,
		UnknownExchanges: plan.UnknownExchanges,
	}
	res.DownloadURL = s.publish(ctx, path, filename)
	return res, nil
}

// fail records cause on the job and returns it as an ExecutionError.
func (s *Service) fail(ctx context.Context, t *tracker, cause error) error {
	msg := fmt.Sprintf("error generating CSV: %v", cause)
	if err := t.update(ctx, func(r *domain.JobRecord) {
		r.Status = domain.JobStatusError
		r.ErrorMessage = msg
		r.Filename = ""
	}); err != nil {
		t.logger.Error("record job failure", "error", err)
	}
	t.logger.Error("job failed", "error", cause)
	return domain.ErrExecution(t.current().Signature, "%s", msg)
}

// writeArtifact writes through a pending temp file that only replaces path
// once the export completed.
func (s *Service) writeArtifact(ctx context.Context, plan *planner.Plan, path string) (int64, error) {
	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithStaticPermissions(0o644),
	)
	if err != nil {
		return 0, fmt.Errorf("create artifact: %w", err)
	}
	defer pf.Cleanup() //nolint:errcheck

	bw := bufio.NewWriterSize(pf, artifactBufferSize)
	rows, err := s.writer.Write(ctx, plan, bw)
	if err != nil {
		return rows, err
	}
	if err := bw.Flush(); err != nil {
		return rows, fmt.Errorf("flush artifact: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return rows, fmt.Errorf("commit artifact: %w", err)
	}
	return rows, nil
}

func (s *Service) publish(ctx context.Context, path, filename string) string {
	if s.publisher == nil {
		return ""
	}
	url, err := s.publisher.Publish(ctx, path, filename)
	if err != nil {
		s.logger.Warn("publish artifact", "filename", filename, "error", err)
		return ""
	}
	return url
}

// artifactName follows trades_<8 hex>_<unix seconds>.csv.
func artifactName(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("trades_%x_%d.csv", id[:4], now.Unix())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tracker owns the latest version of a running job's record and serializes
// its compare-and-swap updates.
type tracker struct {
	mu     sync.Mutex
	store  domain.JobStore
	rec    *domain.JobRecord
	now    func() time.Time
	logger *slog.Logger
}

func (t *tracker) current() *domain.JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.Clone()
}

func (t *tracker) update(ctx context.Context, fn func(*domain.JobRecord)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.rec.Clone()
	fn(next)
	next.UpdatedAt = t.now().UTC()
	stored, err := t.store.CompareAndSwap(ctx, next)
	if err != nil {
		return err
	}
	t.rec = stored
	return nil
}

// heartbeat refreshes UpdatedAt until the returned stop func is called, so
// waiters never mistake a long export for an abandoned one. stop is
// idempotent.
func (t *tracker) heartbeat(ctx context.Context, interval time.Duration) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := t.update(ctx, func(*domain.JobRecord) {}); err != nil {
					t.logger.Warn("job heartbeat", "error", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}
