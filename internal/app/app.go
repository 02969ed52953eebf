// Package app assembles the long-lived services shared by the CLI commands:
// logging, telemetry, metrics, the state store, event hooks and the
// schedule resolver. Pipelines are built per operation so that detection
// overrides stored through the API take effect on the next run.
package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/concatenator"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/detector"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/diskmanager"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/downloader"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/extractor"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/hooks"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/media"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/mqtt"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/notification"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/pipeline"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/telemetry"
)

const (
	systemIDFile   = "system_id"
	connectTimeout = 10 * time.Second
	flushTimeout   = 2 * time.Second
)

// GetLogger returns the app module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// App owns the services shared by every command
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Store    *datastore.Store
	Metrics  *observability.Metrics
	Hooks    *hooks.Runner
	Resolver *schedule.Resolver

	central *logger.CentralLogger
	mqtt    mqtt.Client
	opener  media.Opener
	source  pipeline.ClipSource
	now     func() time.Time

	skipLogger bool
}

// Option customizes App construction
type Option func(*App)

// WithStore uses an already opened store instead of datastore.Open
func WithStore(s *datastore.Store) Option {
	return func(a *App) { a.Store = s }
}

// WithOpener replaces the ffmpeg frame decoder
func WithOpener(o media.Opener) Option {
	return func(a *App) { a.opener = o }
}

// WithSource replaces the camera downloader
func WithSource(s pipeline.ClipSource) Option {
	return func(a *App) { a.source = s }
}

// WithClock replaces time.Now in the pipelines
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithoutLogger keeps the current global logger
func WithoutLogger() Option {
	return func(a *App) { a.skipLogger = true }
}

// New initializes logging, telemetry, metrics, the store and hooks.
// Close releases everything New opened.
func New(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts ...Option) (*App, error) {
	a := &App{Settings: settings, Build: build, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	if !a.skipLogger {
		if err := a.initLogger(); err != nil {
			return nil, err
		}
	}
	log := GetLogger()

	if err := telemetry.InitSentry(&settings.Sentry, build.GetVersion()); err != nil {
		log.Warn("sentry disabled", logger.Error(err))
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Metrics = metrics
	diskmanager.SetMetrics(metrics.DiskManager)

	if a.Store == nil {
		store, err := datastore.Open(settings)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Store = store
	}

	if build != nil && build.SystemID == "" {
		build.SystemID = loadSystemID(filepath.Dir(settings.Paths.ResolveDBPath()))
	}

	a.Resolver = schedule.NewResolver(&settings.Schedule, a.Store.Settings)
	a.Hooks = a.buildHooks(ctx)

	log.Info("application initialized",
		logger.String("version", build.GetVersion()),
		logger.String("database", a.Store.Dialect()),
		logger.Any("hooks", a.Hooks.Names()))
	return a, nil
}

func (a *App) initLogger() error {
	cfg := a.Settings.Logging
	if a.Settings.Debug {
		cfg.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logger").
			Build()
	}
	logger.SetGlobal(central)
	a.central = central
	return nil
}

// buildHooks registers the logging and metrics hooks plus every optional
// integration enabled in settings. A failing integration is logged and
// left out; it never prevents the pipeline from running.
func (a *App) buildHooks(ctx context.Context) *hooks.Runner {
	log := GetLogger()
	runner := hooks.NewRunner(hooks.NewLoggingHook(), hooks.NewMetricsHook(a.Metrics.Pipeline))

	if a.Settings.Notification.Enabled {
		n, err := notification.New(&a.Settings.Notification, notification.WithMetrics(a.Metrics.Notification))
		if err != nil {
			log.Warn("notification hook disabled", logger.Error(err))
		} else {
			runner.Add(hooks.NewNotifyHook(n))
		}
	}

	if a.Settings.MQTT.Enabled {
		cfg := mqtt.ConfigFromSettings(&a.Settings.MQTT)
		if cfg.ClientID == "" {
			cfg.ClientID = "atomcam-meteor-" + a.Build.GetSystemID()
		}
		client, err := mqtt.NewClient(cfg, a.Metrics.MQTT)
		if err != nil {
			log.Warn("mqtt hook disabled", logger.Error(err))
		} else {
			connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			if err := client.Connect(connectCtx); err != nil {
				// the client reconnects on publish
				log.Warn("mqtt broker unreachable at startup", logger.Error(err))
			}
			cancel()
			a.mqtt = client
			runner.Add(hooks.NewMQTTHook(client))
		}
	}

	if telemetry.Enabled() {
		runner.Add(hooks.SentryHook{})
	}
	return runner
}

// Pipeline builds an orchestrator from the static config and the detection
// overrides currently stored in the settings table.
func (a *App) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	s := a.Settings
	detection := schedule.ResolveDetection(ctx, a.Store.Settings, &s.Detection)
	if err := conf.ValidateDetection(&detection); err != nil {
		return nil, err
	}

	opener := a.opener
	if opener == nil {
		opener = media.NewFFmpegOpener(s.FFmpeg.Path, s.FFmpeg.ProbePath)
	}
	det := detector.New(detector.ConfigFromSettings(&detection), opener)

	runner := media.NewExecRunner(s.FFmpeg.Path, time.Duration(s.FFmpeg.TimeoutSec)*time.Second)
	downloadDir := s.Paths.ResolveDownloadDir()

	source := a.source
	if source == nil {
		guard := diskmanager.NewGuard(downloadDir, s.Paths.MaxDiskUsage, nil)
		source = downloader.New(&s.Camera, downloader.WithDiskGuard(guard))
	}

	cfg := pipeline.Config{DownloadDir: downloadDir, OutputDir: s.Paths.ResolveOutputDir()}
	return pipeline.New(cfg, a.Resolver, det,
		pipeline.WithSource(source),
		pipeline.WithStore(a.Store),
		pipeline.WithExtractor(extractor.New(runner)),
		pipeline.WithConcatenator(concatenator.New(runner)),
		pipeline.WithHooks(a.Hooks),
		pipeline.WithMetrics(a.Metrics.Pipeline),
		pipeline.WithClock(a.now),
	), nil
}

// RunNight executes the primary pipeline for one night and returns the
// number of detections. It matches scheduler.RunFunc.
func (a *App) RunNight(ctx context.Context, date string) (int, error) {
	p, err := a.Pipeline(ctx)
	if err != nil {
		return 0, err
	}
	result, err := p.Execute(ctx, date, pipeline.ExecuteOptions{})
	if err != nil {
		return 0, err
	}
	return result.DetectionsFound, nil
}

// LockPath is the process lock shared by the run command, the scheduler
// and API tasks
func (a *App) LockPath() string {
	return a.Settings.Paths.ResolveLockPath()
}

// Close disconnects integrations, closes the store and flushes logs
func (a *App) Close() {
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			GetLogger().Warn("failed to close datastore", logger.Error(err))
		}
	}
	telemetry.Flush(flushTimeout)
	if a.central != nil {
		_ = a.central.Flush()
		_ = a.central.Close()
	}
}

// loadSystemID reads the installation id kept next to the state database,
// creating it on first start.
func loadSystemID(dir string) string {
	path := filepath.Join(dir, systemIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := buildinfo.NewSystemID()
	if err := os.MkdirAll(dir, 0o755); err == nil {
		if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
			GetLogger().Debug("could not persist system id", logger.Error(err))
		}
	}
	return id
}
