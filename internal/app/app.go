// Package app wires configuration, state, alerting and the task chain
// into the operations exposed by the crawlchain command.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crawlchain/internal/alert/escalator"
	"crawlchain/internal/chain"
	"crawlchain/internal/config"
	"crawlchain/internal/eventbus"
	"crawlchain/internal/notifier"
	"crawlchain/internal/observability/status"
	"crawlchain/internal/storage"
	logx "crawlchain/pkg/logx"
)

var ErrTaskNotFound = errors.New("task entry point not found")

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif    *notifier.Service
	esc      *escalator.Escalator
	resolver chain.DirResolver
	chain    *chain.Controller
	status   *status.Service

	tasksDir    string
	archiveDir  string
	templateDir string

	now func() time.Time
}

// Option customizes NewApp, mostly for tests.
type Option func(*options)

type options struct {
	launcher chain.Launcher
	store    storage.Store
	notifier escalator.Notifier
}

// WithLauncher replaces the process launcher used to start the next task.
func WithLauncher(l chain.Launcher) Option { return func(o *options) { o.launcher = l } }

// WithStore replaces the configured storage.
func WithStore(s storage.Store) Option { return func(o *options) { o.store = s } }

// WithNotifier replaces the notification transport used by escalations.
func WithNotifier(n escalator.Notifier) Option { return func(o *options) { o.notifier = n } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	store := o.store
	if store == nil {
		if store, err = storage.Open(mapStorageConfig(cfg), log); err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	notifSvc, err := notifier.New(ncfg, log, bus)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	var notif escalator.Notifier = notifSvc
	if o.notifier != nil {
		notif = o.notifier
	}

	ecfg, err := mapEscalatorConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	esc := escalator.New(ecfg, notif, store, log)

	tasksDir, archiveDir, templateDir := chainDirs(cfg)
	resolver := chain.NewDirResolver(tasksDir, cfg.Chain.EntryFile)
	launcher := o.launcher
	if launcher == nil {
		launcher = chain.NewExecLauncher(cfg.Chain.Command, cfgPath, log)
	}
	ctrl := chain.New(store, resolver, launcher, log, chain.WithBus(bus))

	return &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		notif:       notifSvc,
		esc:         esc,
		resolver:    resolver,
		chain:       ctrl,
		status:      status.New(mapStatusConfig(cfg), log),
		tasksDir:    tasksDir,
		archiveDir:  archiveDir,
		templateDir: templateDir,
		now:         time.Now,
	}, nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Start begins watching the config file and applies live sections
// (logging, escalation, notifier) on change.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapEscalatorConfig(cfg)
		return err
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	if a.cfgm.Get().Debug.Addr != "" {
		a.status.Handle("chain", func(c context.Context) (any, error) { return a.chain.Status(c) })
		if err := a.status.Start(a.sup.Context()); err != nil {
			a.log.Warn("status server not started", logx.Err(err))
		}
	}

	a.log.Debug("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *Config) {
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	var restart []string
	for _, s := range sections {
		if !config.LiveSections[s] {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if ecfg, err := mapEscalatorConfig(newCfg); err != nil {
		a.log.Warn("invalid escalation config; keeping previous", logx.Err(err))
	} else {
		a.esc.Apply(ecfg)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else if err := a.notif.Apply(ncfg); err != nil {
		a.log.Warn("notifier config rejected; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in order, bounding each step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Debug("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("status", 2*time.Second, a.status.Stop)
	step("notifier", time.Second, func(context.Context) error { return a.notif.Close() })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}

	a.log.Debug("stopped", logx.String("reason", string(reason)))
	return a.logs.Close()
}
