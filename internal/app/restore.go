package app

import (
	"context"
	"fmt"
	"log/slog"

	"trade-export/internal/config"
	"trade-export/internal/db"
	"trade-export/internal/db/repository"
	"trade-export/internal/domain"
	"trade-export/internal/filestore"
	"trade-export/internal/service/jobs"
	"trade-export/internal/service/retention"
)

// openMetadata opens the configured job record and manifest backend. The
// returned closer is nil when nothing needs closing.
func openMetadata(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.JobStore, domain.ManifestStore, func() error, error) {
	switch cfg.MetadataBackend {
	case config.MetadataFile:
		js, ms, err := filestore.Open(cfg.MetaDir)
		if err != nil {
			return nil, nil, nil, err
		}
		return js, ms, nil, nil
	default:
		pool, err := db.Open(ctx, cfg.MetaDBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open metadata db: %w", err)
		}
		version, err := db.SchemaVersion(pool.Write)
		if err != nil {
			_ = pool.Close()
			return nil, nil, nil, fmt.Errorf("metadata schema: %w", err)
		}
		logger.Info("metadata database ready", "path", cfg.MetaDBPath, "schema_version", version)
		return repository.NewJobRecordRepo(pool.Write, pool.Read),
			repository.NewManifestRepo(pool.Write, pool.Read),
			pool.Close, nil
	}
}

// restoreState cleans up after an unclean shutdown: expired or abandoned job
// records are collected and artifacts nothing references are swept.
// Errors are logged but not fatal (best-effort).
func restoreState(ctx context.Context, svc *jobs.Service, ret *retention.Manager, logger *slog.Logger) {
	stats, err := svc.CollectGarbage(ctx)
	if err != nil {
		logger.Warn("startup job gc failed", "error", err)
	} else if stats.Deleted > 0 {
		logger.Info("collected stale job records", "scanned", stats.Scanned, "deleted", stats.Deleted)
	}

	removed, err := ret.Sweep(ctx)
	if err != nil {
		logger.Warn("startup artifact sweep failed", "error", err)
	} else if removed > 0 {
		logger.Info("removed orphaned artifacts", "count", removed)
	}
}
