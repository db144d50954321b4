// Package app assembles the services and owns their lifecycle: config load
// and hot reload, ordered start and stop, and systemd readiness signalling.
package app

import (
	"context"
	"sync"

	"classwatch/internal/catalog"
	"classwatch/internal/config"
	"classwatch/internal/dispatch"
	"classwatch/internal/monitor"
	"classwatch/internal/scheduler"
	"classwatch/internal/storage"
	"classwatch/internal/upstream"
	"classwatch/pkg/logx"
	"classwatch/pkg/systemd"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store      *storage.Store
	sessions   *upstream.SessionManager
	dispatcher *dispatch.Dispatcher
	monitor    *monitor.Service
	catalog    *catalog.Service
	sched      *scheduler.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	a := &App{}

	a.cfgMgr = config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return nil, err
	}

	a.logSvc, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if err := a.build(cfg); err != nil {
		a.logSvc.Close()
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	if err := a.catalog.Load(runCtx); err != nil {
		a.log.Warn("catalog warm load failed, starting cold", logx.Err(err))
	}
	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		systemd.WatchdogLoop(runCtx)
	}()

	// First cycle right away; the schedule only covers subsequent ticks.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.monitor.RunCycle(runCtx)
	}()

	systemd.NotifyReady()
	a.log.Info("started")
	return nil
}

// reloadLoop applies the reloadable parts of a new config: log level and
// sinks, and dispatcher pacing. Everything else (storage path, upstream
// endpoint, schedules) needs a restart.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.dispatcher.Apply(buildDispatchConfig(cfg))
			a.log.Info("reloadable settings applied")
		}
	}
}

// Stop shuts down in reverse dependency order. The scheduler stop waits for
// a running cycle so in-flight commits land before storage closes.
func (a *App) Stop(ctx context.Context) error {
	systemd.NotifyStopping()
	a.log.Info("stopping")

	if a.cancel != nil {
		a.cancel()
	}
	a.sched.Stop(ctx)
	a.wg.Wait()

	err := a.store.Close()
	a.logSvc.Close()
	return err
}
