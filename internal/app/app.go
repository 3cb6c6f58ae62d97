// Package app wires the delivery engine together: config, logging, store,
// resolver, fan-out, and the tick orchestrator. Every dependency is injected
// explicitly; nothing reaches into ambient globals.
package app

import (
	"context"
	"sync"

	"touchbase/internal/config"
	"touchbase/internal/eventbus"
	"touchbase/internal/fanout"
	"touchbase/internal/resolver"
	"touchbase/internal/store"
	"touchbase/internal/tick"
	logx "touchbase/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus eventbus.Bus
	st  store.Store
	fo  *fanout.Service
	tk  *tick.Service

	mu          sync.Mutex
	cancelWatch context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validateConfig)

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("store opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	res := resolver.NewStoreResolver(st, log.With(logx.String("comp", "resolver")))

	foCfg, err := mapFanoutConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	fo := fanout.New(foCfg, st, res, log.With(logx.String("comp", "fanout")))

	tkCfg, err := mapTickConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	tk := tick.New(tkCfg, st, fo, log.With(logx.String("comp", "tick")), bus)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logSvc:  logSvc,
		log:     log,
		bus:     bus,
		st:      st,
		fo:      fo,
		tk:      tk,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.fo.Start(ctx)
	if err := a.tk.Start(ctx); err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelWatch = cancel
	a.mu.Unlock()

	// Config hot reload.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(wctx)
	}()
	sub := a.cfgm.Subscribe(2)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	// Operator-visible event log.
	events, unsub := a.bus.Subscribe(16)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		a.consumeEvents(wctx, events)
	}()

	a.log.Info("delivery engine started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancelWatch
	a.cancelWatch = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	a.tk.Stop(ctx)
	a.fo.Stop(ctx)
	a.wg.Wait()

	err := a.st.Close()
	a.log.Info("delivery engine stopped")
	_ = a.logSvc.Close()
	return err
}

// RunOnce executes a single tick and returns its summary. Used by the -once
// flag when an external scheduler (cron, systemd timer) owns the cadence.
func (a *App) RunOnce(ctx context.Context) (tick.Summary, error) {
	a.fo.Start(ctx)
	defer a.fo.Stop(context.Background())
	return a.tk.Run(ctx)
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(mapLoggingConfig(cfg))

	if foCfg, err := mapFanoutConfig(cfg); err == nil {
		a.fo.Apply(foCfg)
	} else {
		a.log.Warn("fanout config not applied", logx.Err(err))
	}
	if tkCfg, err := mapTickConfig(cfg); err == nil {
		a.tk.Apply(tkCfg)
	} else {
		a.log.Warn("tick config not applied", logx.Err(err))
	}
	a.log.Info("config reloaded")
}
