package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"PatchDiscovery/internal/config"
	"PatchDiscovery/internal/controller"
	"PatchDiscovery/internal/infrastructure/api"
	"PatchDiscovery/internal/infrastructure/httpapi"
	"PatchDiscovery/internal/infrastructure/notify"
	"PatchDiscovery/internal/infrastructure/scheduler"
	"PatchDiscovery/internal/infrastructure/storage"
	"PatchDiscovery/internal/infrastructure/stream"
	"PatchDiscovery/internal/logging"
	"PatchDiscovery/internal/policy"
	"PatchDiscovery/internal/ports"
	"PatchDiscovery/internal/reconcile"
	"PatchDiscovery/internal/transport"
	"PatchDiscovery/internal/usecase"
)

const initialRefreshTimeout = 30 * time.Second

// Application wires configs to the run controller and its adapters.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	controller *controller.Controller
	poller     *reconcile.Poller
	publisher  ports.DigestPublisher
	db         *sql.DB
}

// New builds a runnable application instance. It connects to Postgres only
// when the postgres metrics source is selected.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIToken, api.Options{
		Timeout:    cfg.Backend.RequestTimeout(),
		ControlRPS: cfg.Backend.ControlRPS,
	})

	endpoint := stream.Endpoint{BaseURL: cfg.Backend.BaseURL, Token: cfg.Backend.APIToken}
	registry := transport.NewRegistry()
	registry.Register(stream.NewSSESource(endpoint))
	registry.Register(stream.NewLongPollSource(endpoint, stream.LongPollOptions{}))

	source, err := registry.Resolve(cfg.Backend.Transport)
	if err != nil {
		return nil, fmt.Errorf("resolve stream transport: %w", err)
	}

	app := &Application{cfg: cfg, logger: baseLogger}

	var metrics ports.MetricsSource = client
	if cfg.Metrics.Source == config.MetricsSourcePostgres {
		db, err := storage.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect metrics database: %w", err)
		}
		app.db = db
		metrics = storage.NewPostgresMetrics(db, cfg.Metrics.Table)
	}

	if cfg.Notify.WebhookURL != "" {
		app.publisher = notify.NewWebhook(cfg.Notify.WebhookURL)
	}

	fast, slow := cfg.Metrics.Intervals()
	maxPollBackoff := cfg.Metrics.Backoff()
	rec := reconcile.New()
	app.poller = reconcile.NewPoller(reconcile.PollerDeps{
		Source:     metrics,
		Patch:      cfg.Patch,
		Reconciler: rec,
		Families:   reconcile.DefaultFamilies(fast, slow),
		Schedule: func(family reconcile.Family) ports.Scheduler {
			return scheduler.NewPollScheduler(family.Interval, maxPollBackoff, reconcile.Retryable)
		},
		Logger: baseLogger.With("component", "poller"),
	})

	initial, ceiling := cfg.Stream.Backoff()
	app.controller = controller.New(controller.Deps{
		Patch:      cfg.Patch,
		Stream:     source,
		Control:    client,
		Items:      client,
		Reconciler: rec,
		Poller:     app.poller,
		Policy: policy.NewBatch(policy.Options{
			BatchSize:           cfg.Batch.Size(),
			AutoLoop:            cfg.Batch.Auto(),
			DelayBetweenBatches: cfg.Batch.Delay(),
		}),
		Retry: controller.RetryOptions{
			MaxRetries:     cfg.Stream.Retries(),
			InitialBackoff: initial,
			MaxBackoff:     ceiling,
		},
		Logger: baseLogger.With("component", "controller"),
	})

	baseLogger.Info("application configured",
		"patch", cfg.Patch,
		"transport", source.Name(),
		"metrics_source", cfg.Metrics.Source)
	return app, nil
}

// Controller exposes the run controller.
func (a *Application) Controller() *controller.Controller {
	return a.controller
}

// Serve runs the HTTP boundary and the metrics poller until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	a.warmUp(ctx)

	server := httpapi.New(a.controller, a.logger.With("component", "http"), httpapi.Options{
		Heartbeat: a.cfg.HTTP.HeartbeatInterval(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, a.cfg.HTTP.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.poller.Stop(stopCtx)
	})

	return g.Wait()
}

// Watch starts one run, follows it to the end and returns its report.
func (a *Application) Watch(ctx context.Context, opts usecase.WatchOptions) (usecase.Report, error) {
	if err := a.poller.Start(ctx); err != nil {
		return usecase.Report{}, fmt.Errorf("start poller: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.poller.Stop(stopCtx); err != nil {
			a.logger.Warn("stop poller", "error", err)
		}
	}()

	watch := usecase.NewWatch(a.controller, a.logger.With("component", "watch"))
	return watch.Run(ctx, opts)
}

// PublishDigest forwards a digest to the configured webhook. It reports false
// when no publisher is configured.
func (a *Application) PublishDigest(ctx context.Context, digest string) (bool, error) {
	if a.publisher == nil {
		return false, nil
	}
	if err := a.publisher.PublishDigest(ctx, digest); err != nil {
		return true, fmt.Errorf("publish digest: %w", err)
	}
	return true, nil
}

// Close releases background tasks and connections.
func (a *Application) Close() error {
	a.controller.Close()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	return nil
}

// warmUp loads the durable item list so a fresh process shows prior results.
func (a *Application) warmUp(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, initialRefreshTimeout)
	defer cancel()

	if err := a.controller.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("initial refresh failed", "error", err)
	}
}
