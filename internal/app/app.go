// Package app assembles the freshend daemon: config, logging, storage,
// the reschedule engine, the admin API and the failure notifier, plus
// lifecycle plumbing (hot reload, systemd notify, ordered shutdown).
package app

import (
	"context"
	"fmt"
	"time"

	"freshen/internal/api"
	"freshen/internal/config"
	"freshen/internal/engine"
	"freshen/internal/eventbus"
	"freshen/internal/notify"
	"freshen/internal/probe"
	"freshen/internal/storage"
	"freshen/pkg/logx"
	"freshen/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	bus   eventbus.Bus
	eng   *engine.Engine

	api   *api.Server      // nil when disabled
	notif *notify.Notifier // nil when disabled
}

// New loads and validates the config, then builds every component.
// Nothing is started; ctx bounds storage driver startup only.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(ctx, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		Addr:        cfg.Storage.Addr,
		Password:    cfg.Storage.Password,
		DB:          cfg.Storage.DB,
		KeyPrefix:   cfg.Storage.KeyPrefix,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	bus := eventbus.New()

	cooldown, err := config.ParseDurationOrDefault("cooldown", cfg.Cooldown, engine.DefaultCooldown)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Config{Cooldown: cooldown}, store, bus,
		log.With(logx.String("comp", "engine")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		store: store,
		bus:   bus,
		eng:   eng,
	}

	if cfg.API.Enabled {
		apiCfg := api.Config{Addr: cfg.API.Addr}
		for _, f := range []struct {
			path string
			raw  string
			dst  *time.Duration
		}{
			{"api.read_timeout", cfg.API.ReadTimeout, &apiCfg.ReadTimeout},
			{"api.write_timeout", cfg.API.WriteTimeout, &apiCfg.WriteTimeout},
			{"api.idle_timeout", cfg.API.IdleTimeout, &apiCfg.IdleTimeout},
		} {
			if *f.dst, err = config.ParseDurationField(f.path, f.raw); err != nil {
				return nil, err
			}
		}
		a.api = api.New(apiCfg, eng, log.With(logx.String("comp", "api")))
	}

	if cfg.Notify.Enabled {
		a.notif, err = notify.New(notify.Options{
			Token:      cfg.Notify.Token,
			ChatID:     cfg.Notify.ChatID,
			RatePerSec: cfg.Notify.RatePerSec,
		}, log.With(logx.String("comp", "notify")))
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
	}

	return a, nil
}

// validate layers the window grammar check on top of Config.Validate;
// the config package does not know the parser.
func validate(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, t := range cfg.Tasks {
		if _, err := engine.ParseWindow(t.Window); err != nil {
			return fmt.Errorf("task %q: %w", t.ID, err)
		}
	}
	return nil
}

func (a *App) handlerFor(t config.TaskConfig) engine.Handler {
	log := a.log.With(logx.String("comp", "probe"), logx.String("task", t.ID))
	if t.Probe == "speedtest" {
		return probe.SpeedtestHandler(log)
	}
	return probe.CommandHandler(t.Command, log)
}

// Start schedules every configured task, waits out the registration
// barrier, then brings up polling, the API, the notifier and the
// config watcher. A registration failure is fatal: the engine is dead
// and the daemon should not pretend otherwise.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, a.log)

	// Transactional hot reload: a config revision that fails here is
	// dropped without touching the running daemon.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	for _, t := range a.cfgm.Get().Tasks {
		if err := a.eng.Schedule(t.ID, t.Window, a.handlerFor(t)); err != nil {
			return err
		}
	}

	if err := a.eng.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.eng.Ready(); err != nil {
		return err
	}

	if a.api != nil {
		if err := a.api.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.notif != nil {
		a.sup.Go0("notify.watch", func(c context.Context) {
			a.notif.Watch(c, a.bus)
		})
	}

	// Hot reload fan-out: coalesce bursts, apply live sections, call
	// out the ones that need a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				changed, attrs, restart := config.SummarizeChange(last, cfg)
				last = cfg
				if len(changed) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})

				cooldown, err := config.ParseDurationOrDefault("cooldown", cfg.Cooldown, engine.DefaultCooldown)
				if err != nil {
					a.log.Warn("invalid cooldown; keeping current", logx.Err(err))
				} else {
					a.eng.SetCooldown(cooldown)
				}

				if len(restart) > 0 {
					a.log.Warn("config sections changed that need a restart",
						logx.Any("sections", restart))
				}
				a.log.Info("config reloaded",
					append([]logx.Field{logx.Any("changed", changed)}, attrs...)...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	systemd.NotifyReady(a.log)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.RunWatchdog(c, a.log)
	})

	a.log.Info("daemon started", logx.Int("tasks", len(a.cfgm.Get().Tasks)))
	return nil
}

// Stop unwinds in dependency order, each step bounded so one stuck
// component cannot stall the whole shutdown.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	systemd.NotifyStopping(a.log)
	a.log.Info("stopping")

	a.sup.Cancel()

	if a.api != nil {
		a.step(ctx, "api", 2*time.Second, a.api.Stop)
	}
	a.step(ctx, "engine", 3*time.Second, a.eng.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown action with an upper bound, respecting the
// caller's deadline. A step that overruns is logged and left behind;
// its eventual outcome is still observed.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()

	stepCtx := ctx
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else {
			a.log.Debug("stop step done", logx.String("name", name),
				logx.Duration("took", time.Since(start)))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached, continuing",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Warn("stop step finished after deadline",
				logx.String("name", name),
				logx.Err(err),
				logx.Duration("took", time.Since(start)))
		}()
	}
}
