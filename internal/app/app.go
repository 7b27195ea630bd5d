// Package app provides application-level wiring and dependency injection
// for the trade export server and CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"trade-export/internal/api"
	"trade-export/internal/config"
	"trade-export/internal/domain"
	"trade-export/internal/exchange"
	"trade-export/internal/execlock"
	"trade-export/internal/middleware"
	"trade-export/internal/planner"
	"trade-export/internal/service/jobs"
	"trade-export/internal/service/publish"
	"trade-export/internal/service/retention"
	"trade-export/internal/tradestore"
	"trade-export/internal/writer"
)

// Deps holds what main() must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// App holds the fully-wired export engine.
type App struct {
	Cfg       *config.Config
	Trades    *tradestore.Store
	Exchanges *exchange.Registry
	Jobs      *jobs.Service
	Retention *retention.Manager
	Lock      *execlock.Lock
	Publisher publish.Publisher // nil when no artifact store is configured
	Scheduler *jobs.Scheduler

	logger  *slog.Logger
	closers []func() error
}

// New opens the backing stores and wires the engine. Callers must Close the
// returned App.
func New(ctx context.Context, deps Deps) (_ *App, err error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &App{Cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	for _, dir := range []string{cfg.ResultsDir, cfg.MetaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("time zone: %w", err)
	}
	dialect, ok := planner.DialectByName(cfg.Trade.Backend)
	if !ok {
		return nil, fmt.Errorf("unsupported trade backend %q", cfg.Trade.Backend)
	}

	a.Exchanges, err = exchange.Load(cfg.ExchangesFile)
	if err != nil {
		return nil, err
	}

	// === Backing trades relation ===
	a.Trades, err = tradestore.Open(ctx, tradeStoreConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("open trade store: %w", err)
	}
	a.closers = append(a.closers, a.Trades.Close)

	// === Job records and manifest ===
	jobStore, manifestStore, closeMeta, err := openMetadata(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeMeta != nil {
		a.closers = append(a.closers, closeMeta)
	}

	// === Optional object store ===
	a.Publisher, err = publish.New(ctx, publishConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	retOpts := retention.Options{Capacity: cfg.RetentionCapacity}
	var pub jobs.Publisher
	if a.Publisher != nil {
		p := a.Publisher
		pub = p
		retOpts.OnRemove = func(ctx context.Context, filename string) {
			if err := p.Remove(ctx, filename); err != nil {
				logger.Warn("remove published artifact failed", "filename", filename, "error", err)
			}
		}
		logger.Info("artifact publishing enabled", "store", cfg.Artifacts.Store)
	}
	a.Retention = retention.New(manifestStore, cfg.ResultsDir, retOpts, logger)

	a.Lock = execlock.New(cfg.MetaDir, execlock.Options{}, logger)

	w := writer.New(a.Trades, a.Exchanges, logger)
	a.Jobs = jobs.NewService(jobStore, a.Retention, a.Lock, w, pub, jobs.Config{
		PollInterval:      cfg.Jobs.PollInterval,
		WaitCeiling:       cfg.Jobs.WaitCeiling,
		ErrorTTL:          cfg.Jobs.ErrorTTL,
		RecordTTL:         cfg.Jobs.RecordTTL,
		StaleAfter:        cfg.Jobs.StaleAfter,
		HeartbeatInterval: cfg.Jobs.HeartbeatInterval,
		Planner: planner.Options{
			Table:     a.Trades.Table(),
			Location:  loc,
			PageSize:  cfg.PageSize,
			Exchanges: a.Exchanges,
			Dialect:   dialect,
		},
	}, logger)

	a.Scheduler, err = jobs.NewScheduler(a.Jobs, cfg.Jobs.GCSchedule, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Handler builds the HTTP router with the configured token validator.
func (a *App) Handler(ctx context.Context) (http.Handler, error) {
	var (
		validator middleware.TokenValidator
		err       error
	)
	if a.Cfg.Auth.OIDCEnabled() {
		validator, err = middleware.NewOIDCValidator(ctx, a.Cfg.Auth.IssuerURL, a.Cfg.Auth.Audience)
	} else {
		validator, err = middleware.NewHS256Validator(a.Cfg.Auth.JWTSecret, a.Cfg.Auth.Audience)
	}
	if err != nil {
		return nil, fmt.Errorf("token validator: %w", err)
	}

	h := api.NewHandler(a.Jobs, a.Retention, a.logger)
	return api.NewRouter(ctx, h, api.RouterConfig{
		Validator:      validator,
		AllowedOrigins: a.Cfg.CORSAllowedOrigins,
		RateLimit: &middleware.RateLimitConfig{
			RequestsPerSecond: a.Cfg.RateLimitRPS,
			Burst:             a.Cfg.RateLimitBurst,
		},
		Logger: a.logger,
	}), nil
}

// Serve cleans up leftovers from a previous run, then runs the HTTP server
// and the maintenance scheduler until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	handler, err := a.Handler(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.Cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// Queries block until their artifact is ready.
		WriteTimeout: a.writeTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	restoreState(ctx, a.Jobs, a.Retention, a.logger)
	a.Scheduler.Start()
	defer a.Scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("export server listening", "addr", a.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down export server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) writeTimeout() time.Duration {
	ceiling := a.Cfg.Jobs.WaitCeiling
	if ceiling <= 0 {
		ceiling = jobs.DefaultWaitCeiling
	}
	return ceiling + time.Minute
}

// Close releases the stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func tradeStoreConfig(cfg *config.Config) tradestore.Config {
	tc := tradestore.Config{
		Backend:      cfg.Trade.Backend,
		DuckDBPath:   cfg.Trade.DuckDBPath,
		PostgresDSN:  cfg.Trade.PostgresDSN,
		Table:        cfg.Trade.Table,
		Source:       cfg.Trade.Source,
		SourceFormat: cfg.Trade.SourceFormat,
		TimeZone:     cfg.Trade.TimeZone,
	}
	if cfg.Trade.Source != "" && cfg.Artifacts.S3KeyID != "" {
		tc.S3 = &tradestore.S3Source{
			KeyID:    cfg.Artifacts.S3KeyID,
			Secret:   cfg.Artifacts.S3Secret,
			Endpoint: cfg.Artifacts.S3Endpoint,
			Region:   cfg.Artifacts.S3Region,
			URLStyle: cfg.Artifacts.S3URLStyle,
		}
	}
	return tc
}

func publishConfig(cfg *config.Config) publish.Config {
	ac := cfg.Artifacts
	return publish.Config{
		Store:  ac.Store,
		Prefix: ac.Prefix,
		Expiry: ac.Expiry,
		S3: publish.S3Config{
			Endpoint: ac.S3Endpoint,
			Region:   ac.S3Region,
			KeyID:    ac.S3KeyID,
			Secret:   ac.S3Secret,
			Bucket:   ac.S3Bucket,
			URLStyle: ac.S3URLStyle,
		},
		Azure: publish.AzureConfig{
			AccountName: ac.AzureAccountName,
			AccountKey:  ac.AzureAccountKey,
			Container:   ac.AzureContainer,
		},
		GCS: publish.GCSConfig{
			Bucket:          ac.GCSBucket,
			CredentialsFile: ac.GCSCredentialsFile,
		},
	}
}

var (
	_ domain.TradeSource = (*tradestore.Store)(nil)
	_ jobs.ResultWriter  = (*writer.Writer)(nil)
)
