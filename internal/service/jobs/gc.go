package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-export/internal/domain"
)

// GCStats counts records removed by CollectGarbage.
type GCStats struct {
	Scanned int
	Deleted int
}

// CollectGarbage deletes job records that can no longer serve a request:
// finished jobs whose artifact is gone, expired failures, abandoned
// in-flight jobs, and anything idle for longer than RecordTTL.
func (s *Service) CollectGarbage(ctx context.Context) (GCStats, error) {
	var stats GCStats
	records, err := s.jobs.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list jobs: %w", err)
	}
	now := s.cfg.Now()
	for i := range records {
		rec := &records[i]
		stats.Scanned++

		reason := s.gcReason(rec, now.Sub(rec.UpdatedAt))
		if reason == "" {
			continue
		}
		if err := s.jobs.Delete(ctx, rec.Signature, rec.Version); err != nil {
			var conflict *domain.ConflictError
			var nf *domain.NotFoundError
			if errors.As(err, &conflict) || errors.As(err, &nf) {
				continue // changed underneath us; the next run decides again
			}
			return stats, fmt.Errorf("delete job %s: %w", rec.Signature, err)
		}
		stats.Deleted++
		s.logger.Debug("job record collected", "signature", rec.Signature, "status", rec.Status, "reason", reason)
	}
	if stats.Deleted > 0 {
		s.logger.Info("job records collected", "scanned", stats.Scanned, "deleted", stats.Deleted)
	}
	return stats, nil
}

func (s *Service) gcReason(rec *domain.JobRecord, age time.Duration) string {
	switch {
	case age > s.cfg.RecordTTL:
		return "expired"
	case rec.Status == domain.JobStatusDone && !s.retention.Exists(rec.Filename):
		return "artifact missing"
	case rec.Status == domain.JobStatusError && age > s.cfg.ErrorTTL:
		return "failure expired"
	case !rec.Status.Terminal() && age > s.cfg.StaleAfter:
		return "abandoned"
	}
	return ""
}
