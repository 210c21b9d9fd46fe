// Package app assembles the dataset store, model catalog, inference runner
// and their optional integrations from the loaded settings.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/irdetect/autoannotate/internal/buildinfo"
	"github.com/irdetect/autoannotate/internal/catalog"
	"github.com/irdetect/autoannotate/internal/conf"
	"github.com/irdetect/autoannotate/internal/dataset"
	"github.com/irdetect/autoannotate/internal/datastore"
	"github.com/irdetect/autoannotate/internal/detector"
	"github.com/irdetect/autoannotate/internal/detector/yolo"
	"github.com/irdetect/autoannotate/internal/diskmanager"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/mqtt"
	"github.com/irdetect/autoannotate/internal/notification"
	"github.com/irdetect/autoannotate/internal/observability"
	"github.com/irdetect/autoannotate/internal/securefs"
	"github.com/irdetect/autoannotate/internal/telemetry"
)

// App holds the wired components of one process.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context

	FS        *securefs.SecureFS
	Store     *dataset.Store
	Catalog   *catalog.Catalog
	Registry  *detector.Registry
	Runner    *inference.Runner
	Guard     *diskmanager.Guard
	Metrics   *observability.Metrics
	History   *datastore.Store       // nil when the database is disabled
	Publisher *mqtt.Publisher        // nil when MQTT is disabled
	Notifier  *notification.Shoutrrr // nil when notifications are disabled
	Reporter  *telemetry.Reporter    // nil when Sentry is disabled

	log logger.Logger
}

// NewRegistry returns the registry of the built-in model families.
func NewRegistry() *detector.Registry {
	r := detector.NewRegistry()
	r.Register(yolo.Family())
	r.Register(detector.SAMFamily())
	return r
}

// New builds every component. Optional integrations that fail to start are
// logged and left disabled; the core store and runner must succeed.
func New(settings *conf.Settings, build *buildinfo.Context) (*App, error) {
	a := &App{
		Settings: settings,
		Build:    build,
		Registry: NewRegistry(),
		log:      logger.Global().Module("app"),
	}

	var err error
	a.Metrics, err = observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	a.Catalog = catalog.New(settings.Models.Dir, settings.Models.Catalog, logger.Global().Module("catalog"))

	a.openIntegrations()

	runnerOpts := []inference.Option{
		inference.WithMetrics(a.Metrics.Inference),
		inference.WithLogger(logger.Global().Module("inference")),
	}
	if a.History != nil {
		runnerOpts = append(runnerOpts, inference.WithHistory(a.History))
	}
	if a.Publisher != nil {
		runnerOpts = append(runnerOpts, inference.WithNotifier(a.Publisher))
	}
	if a.Notifier != nil {
		runnerOpts = append(runnerOpts, inference.WithNotifier(a.Notifier))
	}
	if a.Reporter != nil {
		runnerOpts = append(runnerOpts, inference.WithNotifier(a.Reporter))
	}

	inf := settings.Inference
	a.Runner = inference.NewRunner(a.Store, a.Catalog, a.Registry,
		inference.NewRunTable(inf.RunRetention, inf.MaxRuns),
		inference.Settings{
			Throttle:   inf.Throttle,
			Timeout:    inf.Timeout,
			Confidence: inf.Confidence,
			IOU:        inf.IOU,
			InputSize:  inf.InputSize,
		},
		runnerOpts...)

	if !yolo.Available {
		a.log.Warn("Built without OpenCV, YOLO runs will fail with library_unavailable")
	}
	return a, nil
}

func (a *App) openStore() error {
	dir := a.Settings.Storage.ProjectsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(fmt.Errorf("failed to create projects directory: %w", err)).
			Component("app").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	sfs, err := securefs.New(dir)
	if err != nil {
		return fmt.Errorf("failed to open projects directory: %w", err)
	}
	a.FS = sfs

	if limit := a.Settings.Storage.MaxReadSize; limit != "" {
		maxRead, err := conf.ParseSize(limit)
		if err != nil {
			return err
		}
		sfs.SetMaxReadFileSize(int64(maxRead)) //nolint:gosec // configured sizes stay far below 2^63
	}

	minFree, err := conf.ParseSize(a.Settings.Storage.MinFreeSpace)
	if err != nil {
		return err
	}
	a.Guard = diskmanager.NewGuard(sfs.BaseDir(), minFree,
		diskmanager.WithMetrics(a.Metrics.Storage),
		diskmanager.WithLogger(logger.Global().Module("diskmanager")))

	a.Store = dataset.NewStore(sfs,
		dataset.WithLogger(logger.Global().Module("dataset")),
		dataset.WithSpaceGuard(a.Guard))
	return nil
}

func (a *App) openIntegrations() {
	s := a.Settings

	if s.Database.Enabled {
		history, err := openHistory(s.Database,
			datastore.WithLogger(logger.Global().Module("datastore")),
			datastore.WithMetrics(a.Metrics.Storage))
		if err != nil {
			a.log.Error("Run history disabled", logger.Error(err))
		} else {
			a.History = history
		}
	}

	if s.MQTT.Enabled {
		mqttLog := logger.Global().Module("mqtt")
		client, err := mqtt.NewClient(mqtt.ConfigFromSettings(s.MQTT), a.Metrics.MQTT, mqttLog)
		if err != nil {
			a.log.Error("MQTT notifications disabled", logger.Error(err))
		} else {
			a.Publisher = mqtt.NewPublisher(client, s.MQTT.Topic, mqttLog)
		}
	}

	if s.Notification.Enabled {
		n, err := notification.NewShoutrrr(s.Notification.URLs, s.Notification.Timeout,
			notification.WithFailuresOnly(s.Notification.FailuresOnly),
			notification.WithLogger(logger.Global().Module("notification")))
		if err != nil {
			a.log.Error("Run notifications disabled", logger.Error(err))
		} else {
			a.Notifier = n
		}
	}

	reporter, err := telemetry.New(s.Sentry, a.Build.Version(), logger.Global().Module("telemetry"))
	if err != nil {
		a.log.Error("Sentry telemetry disabled", logger.Error(err))
	}
	a.Reporter = reporter
	if reporter != nil {
		errors.SetTelemetryReporter(reporter.ErrorReporter())
	}
}

func openHistory(s conf.DatabaseSettings, opts ...datastore.Option) (*datastore.Store, error) {
	if s.Driver == "mysql" {
		return datastore.OpenMySQL(s.DSN, opts...)
	}
	return datastore.Open(s.Path, opts...)
}

// ReportDiskUsage refreshes the disk gauges every interval until ctx ends.
func (a *App) ReportDiskUsage(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Guard.Usage(); err != nil {
			a.log.Debug("Disk usage query failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases every component in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.Reporter != nil {
		errors.SetTelemetryReporter(nil)
	}
	a.Reporter.Flush()
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.FS != nil {
		if err := a.FS.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
