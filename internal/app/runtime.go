// Package app is the composition root shared by the CLI commands. It turns
// loaded settings into the logger, buffer pool, memory tracker, metrics and
// the demuxer registry and codec factory every session is built from.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/viper"

	"github.com/tphakala/mediacore/internal/bufpool"
	"github.com/tphakala/mediacore/internal/buildinfo"
	"github.com/tphakala/mediacore/internal/conf"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/memtrack"
	"github.com/tphakala/mediacore/internal/observability"
	"github.com/tphakala/mediacore/internal/pipeline"
	"github.com/tphakala/mediacore/internal/telemetry"
)

// GetLogger returns the app module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// Runtime holds the process-wide services. Fields are valid after Start.
type Runtime struct {
	Build    *buildinfo.Context
	Settings *conf.Settings
	Metrics  *observability.Metrics
	Pool     *bufpool.Pool
	Scratch  *bufpool.TieredPool
	Tracker  *memtrack.Tracker
	Deps     pipeline.Deps

	mu       sync.Mutex
	started  bool
	closers  []func() error
	serveErr chan error
}

// New returns an unstarted runtime.
func New(build *buildinfo.Context) *Runtime {
	return &Runtime{Build: build}
}

// Start loads settings from v and brings up every service. Background
// goroutines stop when ctx is cancelled or Close is called.
func (r *Runtime) Start(ctx context.Context, v *viper.Viper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	settings, err := conf.LoadWithViper(v)
	if err != nil {
		return err
	}
	r.Settings = settings

	if err := r.startLogger(); err != nil {
		return err
	}
	if err := r.startTelemetry(); err != nil {
		r.closeLocked()
		return err
	}

	m, err := observability.NewMetrics()
	if err != nil {
		r.closeLocked()
		return fmt.Errorf("metrics setup: %w", err)
	}
	r.Metrics = m

	r.startMemory(ctx)

	deps, err := pipeline.NewDeps(settings, r.Pool, r.Scratch, m.Codec, m.Codec)
	if err != nil {
		r.closeLocked()
		return err
	}
	r.Deps = deps

	if settings.Metrics.Enabled {
		r.serveLocked(ctx, settings.Metrics.Listen)
	}

	r.started = true
	GetLogger().Debug("runtime started",
		logger.String("version", r.Build.Version()),
		logger.Bool("metrics", settings.Metrics.Enabled),
		logger.Bool("telemetry", settings.Telemetry.Enabled))
	return nil
}

func (r *Runtime) startLogger() error {
	cfg := r.Settings.Logging
	if r.Settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init-logger").
			Build()
	}
	logger.SetGlobal(cl)
	r.closers = append(r.closers, cl.Close)
	return nil
}

func (r *Runtime) startTelemetry() error {
	if !r.Settings.Telemetry.Enabled {
		return nil
	}
	if r.Build.SystemID() == buildinfo.UnknownValue {
		if paths, err := conf.GetDefaultConfigPaths(); err == nil && len(paths) > 1 {
			if id, err := telemetry.LoadOrCreateSystemID(paths[1]); err == nil {
				r.Build = r.Build.WithSystemID(id)
			}
		}
	}
	shutdown, err := telemetry.Init(r.Settings, r.Build)
	if err != nil {
		return err
	}
	r.closers = append(r.closers, func() error { shutdown(); return nil })
	return nil
}

// startMemory builds the shared buffer pool and, when a system sampler is
// available, the memory tracker that drives its pressure level.
func (r *Runtime) startMemory(ctx context.Context) {
	s := r.Settings
	r.Pool = bufpool.New(bufpool.Config{
		Name:              "io",
		MaxPoolSize:       int64(s.BufferPool.MaxPoolSize),
		MaxBuffersPerSize: s.BufferPool.MaxBuffersPerSize,
	})
	r.Pool.SetMetrics(r.Metrics.BufferPool)
	if s.BufferPool.PreAllocate {
		r.Pool.PreAllocate()
	}
	r.Scratch = bufpool.NewTieredPool()

	sampler, err := memtrack.NewSystemSampler()
	if err != nil {
		GetLogger().Warn("memory tracking unavailable", logger.Error(err))
		return
	}
	r.Tracker = memtrack.New(sampler, memtrack.Config{
		CleanupInterval:    s.Memory.CleanupInterval,
		CleanupThreshold:   s.Memory.CleanupThreshold,
		TrendThresholdMBps: s.Memory.TrendThresholdMBps,
	})
	r.Tracker.SetMetrics(r.Metrics.Memory)
	r.Tracker.RegisterCallback(r.Pool.SetPressureLevel)
	r.Scratch.Subscribe(r.Tracker)
	r.Tracker.Start(ctx, s.Memory.TrackingInterval)
	r.Pool.Start(ctx, r.Tracker, s.BufferPool.MonitorInterval)

	r.closers = append(r.closers, func() error {
		r.Pool.Stop()
		r.Tracker.Stop()
		r.Scratch.Clear()
		return nil
	})
}

// ServeMetrics exposes /metrics on listen until ctx is cancelled. Serve
// errors are logged and reported by MetricsErr.
func (r *Runtime) ServeMetrics(ctx context.Context, listen string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serveLocked(ctx, listen)
}

func (r *Runtime) serveLocked(ctx context.Context, listen string) {
	if r.serveErr != nil {
		return
	}
	errCh := make(chan error, 1)
	r.serveErr = errCh
	go func() {
		err := r.Metrics.Serve(ctx, listen)
		if err != nil {
			GetLogger().Error("metrics endpoint failed", logger.Error(err), logger.String("listen", listen))
		}
		errCh <- err
	}()
}

// MetricsErr returns the channel that receives the metrics server result,
// or nil when the endpoint is not running.
func (r *Runtime) MetricsErr() <-chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serveErr
}

// OpenSession opens path with the runtime's registry and codecs.
func (r *Runtime) OpenSession(path string) (*pipeline.Session, error) {
	return pipeline.Open(path, r.Deps)
}

// Close stops background services in reverse start order.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Runtime) closeLocked() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	r.started = false
	return errors.Join(errs...)
}
