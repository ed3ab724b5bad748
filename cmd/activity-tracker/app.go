package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cptspacemanspiff/activity-tracker/internal/analysis"
	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/config"
	dbussvc "github.com/cptspacemanspiff/activity-tracker/internal/dbus"
	"github.com/cptspacemanspiff/activity-tracker/internal/export"
	"github.com/cptspacemanspiff/activity-tracker/internal/jobs"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
	"github.com/cptspacemanspiff/activity-tracker/internal/scheduler"
	"github.com/cptspacemanspiff/activity-tracker/internal/storage"
	"github.com/cptspacemanspiff/activity-tracker/internal/tracking"
)

// app holds the components shared by every command.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	clock  quartz.Clock
	errors *apperr.Handler

	db       *storage.DB
	prefs    *prefs.Store
	journal  *collector.UsageJournal
	battery  collector.BatteryReader
	perms    collector.SystemPermissions
	exporter *export.Exporter

	collector  *tracking.DataCollector
	aggregator *analysis.Aggregator
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	for _, dir := range []string{filepath.Dir(cfg.Storage.DBPath), filepath.Dir(cfg.Storage.PrefsPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	p, err := prefs.Open(cfg.Storage.PrefsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open preferences: %w", err)
	}
	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	var location collector.LocationProvider
	if cfg.Location.Enabled {
		loc, err := collector.NewStaticLocation(cfg.Location.Latitude, cfg.Location.Longitude)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("configure location: %w", err)
		}
		location = loc
	}

	clock := quartz.NewReal()
	a := &app{
		cfg:     cfg,
		log:     logger,
		clock:   clock,
		errors:  apperr.NewHandler(logger),
		db:      db,
		prefs:   p,
		journal: collector.NewUsageJournal(cfg.Sources.UsageLogPath, logger.With("topic", "usage")),
		battery: collector.SysfsBattery{},
		perms: collector.SystemPermissions{
			UsageLogPath:        cfg.Sources.UsageLogPath,
			LocationConfigured:  cfg.Location.Enabled,
			ActivityRecognition: cfg.Permissions.ActivityRecognition,
		},
		exporter:   export.NewExporter(db, cfg.Storage.ExportDir, clock, logger),
		aggregator: analysis.NewAggregator(db, clock, logger),
	}
	a.collector = tracking.NewDataCollector(tracking.Sources{
		Usage:       a.journal,
		Battery:     a.battery,
		Location:    location,
		Labels:      collector.DesktopLabels{Dirs: cfg.Sources.ApplicationDirs},
		Permissions: a.perms,
	}, db, clock, time.Duration(cfg.Collection.LookbackMinutes)*time.Minute, logger)
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// runDaemon runs the tracking loop, the scheduled work and the D-Bus service
// until ctx is done.
func (a *app) runDaemon(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := scheduler.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	manager := scheduler.NewManager(a.clock, metrics, jobs.BatteryConstraint{
		Reader:     a.battery,
		LowPercent: a.cfg.Collection.BatteryLowPercent,
	}, a.log)
	defer manager.Close()

	recorder := tracking.NewDeviceRecorder(a.db, a.prefs, a.perms, a.clock, a.log)
	defer recorder.Wait()

	monitor, err := collector.NewDeviceMonitor(a.clock, a.log, recorder.Record)
	if err != nil {
		a.log.Warn("device monitor unavailable", "err", err)
	} else {
		defer monitor.Close()
	}

	ws := jobs.NewWorkScheduler(manager, a.clock, jobs.Workers{
		Collection: jobs.CollectionWorker{Collector: a.collector, Prefs: a.prefs},
		Analysis:   jobs.AnalysisWorker{Aggregator: a.aggregator},
		AutoExport: jobs.AutoExportWorker{Exporter: a.exporter, Prefs: a.prefs, Clock: a.clock},
		Cleanup: jobs.CleanupWorker{
			Store:     a.db,
			Journal:   a.journal,
			Retention: time.Duration(a.cfg.Cleanup.RetentionDays) * 24 * time.Hour,
			Clock:     a.clock,
			Log:       a.log,
		},
	},
		time.Duration(a.cfg.Collection.PeriodicIntervalMinutes)*time.Minute,
		time.Duration(a.cfg.Cleanup.IntervalHours)*time.Hour,
	)
	for _, schedule := range []func() error{
		ws.ScheduleDailyAnalysis,
		func() error { return ws.ScheduleWeeklyAnalysis(ctx, a.db) },
		ws.ScheduleCleanup,
	} {
		if err := schedule(); err != nil {
			return fmt.Errorf("schedule work: %w", err)
		}
	}

	svc := dbussvc.NewService(a.db, a.exporter, recorder, a.errors)
	conn, err := svc.Register()
	if err != nil {
		return fmt.Errorf("register dbus service: %w", err)
	}
	defer conn.Close()
	a.log.Info("D-Bus service registered", "name", "org.gnome.ActivityTracker")

	tracker := tracking.NewService(a.collector, a.prefs, a.clock,
		time.Duration(a.cfg.Collection.ServiceIntervalSeconds)*time.Second, a.log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.prefs.Watch(ctx) })
	g.Go(func() error { return tracker.Run(ctx) })
	g.Go(func() error { return a.syncWork(ctx, ws) })
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error { return serveMetrics(ctx, addr, reg, a.log) })
	}

	a.log.Info("activity-tracker daemon started",
		"db", a.cfg.Storage.DBPath,
		"interval", time.Duration(a.cfg.Collection.ServiceIntervalSeconds)*time.Second)
	err = g.Wait()
	a.log.Info("shutting down")
	return err
}

// syncWork keeps the preference-dependent work registered as preferences
// change.
func (a *app) syncWork(ctx context.Context, ws *jobs.WorkScheduler) error {
	updates, unsubscribe := a.prefs.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-updates:
			if err := ws.Sync(p); err != nil {
				a.errors.Handle(err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving metrics", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown metrics: %w", err)
		}
		return nil
	}
}

// removeDatabase deletes the database and its WAL side files.
func removeDatabase(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete database: %w", err)
		}
	}
	return nil
}
