// Package app initializes and holds long-lived application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shelfminer/shelfminer/internal/api"
	"github.com/shelfminer/shelfminer/internal/clock/system"
	"github.com/shelfminer/shelfminer/internal/config"
	"github.com/shelfminer/shelfminer/internal/crawl"
	"github.com/shelfminer/shelfminer/internal/discovery"
	"github.com/shelfminer/shelfminer/internal/extract"
	"github.com/shelfminer/shelfminer/internal/id/uuid"
	"github.com/shelfminer/shelfminer/internal/jobs"
	"github.com/shelfminer/shelfminer/internal/label"
	"github.com/shelfminer/shelfminer/internal/labeler"
	"github.com/shelfminer/shelfminer/internal/logging"
	"github.com/shelfminer/shelfminer/internal/metrics"
	memorystore "github.com/shelfminer/shelfminer/internal/store/memory"
	pgstore "github.com/shelfminer/shelfminer/internal/store/postgres"
	"go.uber.org/zap"
)

// store is the persistence surface the application wires; both backends
// implement it.
type store interface {
	jobs.Store
	jobs.CatalogStore
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     store
	pgStore   *pgstore.Store
	source    *discovery.Source
	launcher  *jobs.Launcher
	recovery  *jobs.Recovery
	apiServer *api.Server
	clk       *system.Clock
	idGen     *uuid.Generator
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("label_provider", cfg.Label.Provider),
	)

	app := &App{cfg: cfg, logger: logger}

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}

	clk := system.New()
	app.clk = clk
	app.idGen = uuid.New()
	extractor := extract.New(extract.Config{
		UserAgent:     cfg.Crawl.UserAgent,
		SessionCookie: cfg.Crawl.SessionCookie,
		Timeout:       time.Duration(cfg.Crawl.NavTimeoutSeconds) * time.Second,
	}, logger.Named("extract"))

	app.source = discovery.NewSource(discovery.Config{
		UserAgent:         cfg.Crawl.UserAgent,
		SessionCookie:     cfg.Crawl.SessionCookie,
		NavigationTimeout: time.Duration(cfg.Crawl.NavTimeoutSeconds) * time.Second,
		SettleDelay:       time.Duration(cfg.Crawl.SettleDelayMS) * time.Millisecond,
	}, logger.Named("discovery"))

	runners := map[jobs.Kind]jobs.Runner{
		jobs.KindCrawl: crawl.New(
			app.store, app.store, app.source, extractor, clk,
			logger.Named("crawl"), cfg.PollInterval(),
		),
	}
	grader, err := labeler.New(labeler.Config{
		Provider:   labeler.Provider(cfg.Label.Provider),
		Model:      cfg.Label.Model,
		APIKey:     cfg.Label.APIKey,
		OllamaHost: cfg.Label.OllamaHost,
	}, logger.Named("labeler"))
	if err != nil {
		// Crawl-only deployments run without model credentials; label jobs
		// stay available once a key is configured.
		logger.Warn("label runner disabled", zap.Error(err))
	} else {
		runners[jobs.KindLabel] = label.New(
			app.store, app.store, extractor, grader, clk,
			logger.Named("label"), cfg.PollInterval(),
		)
	}

	app.launcher = jobs.NewLauncher(ctx, app.store, runners, cfg.LaunchDelay(), logger.Named("launcher"))
	app.recovery = jobs.NewRecovery(app.store, app.launcher, logger.Named("recovery"))

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(
		app.store,
		app.store,
		app.launcher,
		app.idGen,
		clk,
		api.Config{APIKey: apiKey, RequestTimeout: cfg.RequestTimeout()},
		logger.Named("api"),
		app.ready,
	)

	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case "postgres":
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return fmt.Errorf("schema migration failed: %w", err)
		}
		a.pgStore = pg
		a.store = pg
		a.logger.Info("postgres store initialized")
	case "memory":
		a.store = memorystore.New()
		a.logger.Info("in-memory store initialized")
	default:
		return fmt.Errorf("unknown db driver %q", a.cfg.DB.Driver)
	}
	return nil
}

// ready reports downstream health for the readiness probe.
func (a *App) ready() bool {
	if a.pgStore == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.pgStore.Ping(ctx) == nil
}

// Handler exposes the HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// SubmitAndWait creates a job, fires its execution loop, and blocks until
// the job reaches a terminal state or ctx is cancelled. Used by the one-shot
// CLI commands.
func (a *App) SubmitAndWait(ctx context.Context, kind jobs.Kind, cfg any) (jobs.Record, error) {
	raw, err := jobs.EncodeConfig(cfg)
	if err != nil {
		return jobs.Record{}, err
	}
	jobID, err := a.idGen.NewID()
	if err != nil {
		return jobs.Record{}, fmt.Errorf("generate job id: %w", err)
	}
	rec := jobs.Record{
		ID:        jobID,
		Kind:      kind,
		Status:    jobs.StatusQueued,
		Config:    raw,
		CreatedAt: a.clk.Now(),
	}
	if err := a.store.CreateJob(ctx, rec); err != nil {
		return jobs.Record{}, fmt.Errorf("create job: %w", err)
	}
	a.launcher.Launch(jobID, kind)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
			rec, err = a.store.GetJob(ctx, jobID)
			if err != nil {
				return jobs.Record{}, fmt.Errorf("poll job: %w", err)
			}
			if rec.Status.IsTerminal() {
				return rec, nil
			}
		}
	}
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.recovery.Run(ctx); err != nil {
		a.logger.Error("job recovery failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close()
}

// Close gracefully shuts down the application's services.
func (a *App) Close() error {
	if a.source != nil {
		a.source.Close()
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}
