// Package agent wires the field agent: local SQLite state, the remote
// Postgres database and object storage, the connectivity monitor, the
// upload queue, metrics, events and the interactive shell.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/cli"
	"github.com/dmitrijs2005/propcheck/internal/agent/config"
	"github.com/dmitrijs2005/propcheck/internal/agent/connectivity"
	"github.com/dmitrijs2005/propcheck/internal/agent/events"
	"github.com/dmitrijs2005/propcheck/internal/agent/migrations"
	"github.com/dmitrijs2005/propcheck/internal/agent/reconcile"
	"github.com/dmitrijs2005/propcheck/internal/agent/remote"
	"github.com/dmitrijs2005/propcheck/internal/agent/repositories/drafts"
	"github.com/dmitrijs2005/propcheck/internal/agent/repositories/staging"
	"github.com/dmitrijs2005/propcheck/internal/agent/services"
	"github.com/dmitrijs2005/propcheck/internal/agent/uploadqueue"
	"github.com/dmitrijs2005/propcheck/internal/dbx"
	"github.com/dmitrijs2005/propcheck/internal/filex"
	"github.com/dmitrijs2005/propcheck/internal/logging"
	"github.com/dmitrijs2005/propcheck/internal/metrics"
	"github.com/dmitrijs2005/propcheck/internal/netx"
	"github.com/dmitrijs2005/propcheck/internal/resilience"

	_ "modernc.org/sqlite"
)

const migrateTimeout = 15 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	monitor *connectivity.Monitor
	queue   *uploadqueue.Queue
	metrics *metrics.AgentMetrics
	events  events.Publisher
	shell   *cli.App
	closers []func()
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogLevel, c.LogFormat)
	app := &App{config: c, logger: logger}

	if _, err := filex.EnsureParentDir(c.LocalDBPath); err != nil {
		return nil, err
	}
	local, err := dbx.OpenSQLite(ctx, c.LocalDBPath, migrations.Migrations)
	if err != nil {
		return nil, fmt.Errorf("local db init error: %w", err)
	}
	app.closers = append(app.closers, func() { _ = local.Close() })

	breakerCfg := resilience.DefaultConfig()
	breakers := resilience.New(breakerCfg, logger)

	pg, err := remote.OpenPostgres(c.DatabaseDSN)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, func() { _ = pg.Close() })

	mctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	if err := remote.RunMigrations(mctx, pg); err != nil {
		logger.Warn(ctx, "remote migrations skipped", "error", err)
	}
	cancel()

	repo := remote.NewPostgresRepository(pg, breakers)

	s3c, err := remote.NewS3Client(ctx, remote.S3Config{
		Region:    c.S3Region,
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	uploader := remote.NewS3Uploader(s3c, c.S3Bucket, remote.UploaderOptions{
		RatePerSecond: c.UploadRatePerSecond,
		Breakers:      breakers,
	})

	pinger, err := app.pinger(repo)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.metrics = metrics.NewAgentMetrics()
	app.monitor = connectivity.New(pinger, c.OnlineCheckInterval, c.ProbeTimeout, logger)

	st := staging.NewSQLiteRepository(local)
	app.queue = uploadqueue.New(uploader, st, uploadqueue.Options{
		RetryLimit:      c.RetryLimit,
		BaseDelay:       c.RetryBaseDelay,
		Logger:          logger,
		Observer:        app.metrics,
		Online:          app.monitor.Online,
		CircuitCooldown: breakerCfg.OpenTimeout,
	})
	app.closers = append(app.closers, app.queue.Close)
	app.monitor.Subscribe(app.queue)
	app.monitor.Subscribe(app.metrics)

	rec := reconcile.New(app.queue, app.monitor, repo, repo, repo, logger, reconcile.Options{
		StrictMapping: c.StrictMapping,
		DrainTimeout:  c.SubmitTimeout,
	})

	app.events = app.publisher(ctx, breakers)

	jobs := services.NewJobService(services.Deps{
		Staging:      st,
		Drafts:       drafts.NewSQLiteRepository(local),
		Queue:        app.queue,
		Reconciler:   rec,
		Connectivity: app.monitor,
		Events:       app.events,
		Recorder:     app.metrics,
		Logger:       logger,
	})

	app.shell = cli.NewApp(jobs, app.monitor, app.queue, c.UserID, c.PublicBaseURL, os.Stdout)
	return app, nil
}

// pinger picks the reachability probe: an HTTP or gRPC health endpoint when
// configured, the remote database otherwise.
func (app *App) pinger(repo *remote.PostgresRepository) (connectivity.Pinger, error) {
	target := app.config.HealthEndpoint
	switch {
	case target == "":
		return repo, nil
	case netx.IsHTTPURL(target):
		return netx.NewHTTPPinger(target), nil
	}

	p, err := connectivity.NewGRPCHealthPinger(target, "")
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = p.Close() })
	return p, nil
}

func (app *App) publisher(ctx context.Context, breakers *resilience.Breakers) events.Publisher {
	if app.config.NATSURL == "" {
		return events.Nop{}
	}

	p, err := events.Dial(app.config.NATSURL, app.config.NATSSubject, events.Options{
		Breakers: breakers,
		Logger:   app.logger,
	})
	if err != nil {
		app.logger.Warn(ctx, "events disabled", "error", err)
		return events.Nop{}
	}
	app.closers = append(app.closers, p.Close)
	return p
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startMetricsServer(ctx context.Context, wg *sync.WaitGroup) {
	if app.config.MetricsAddr == "" {
		return
	}

	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: app.metrics.Handler()}

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.logger.Info(ctx, "metrics listening", "addr", app.config.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}

// Run starts the background workers and blocks in the shell until the user
// exits or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer app.Close()

	app.logger.Info(ctx, "Starting agent...")
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.monitor.Run(ctx)
	}()

	app.startMetricsServer(ctx, &wg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.shell.Run(ctx, os.Stdin)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	cancelFunc()
	wg.Wait()
}

// Close releases resources in reverse order of acquisition.
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}
