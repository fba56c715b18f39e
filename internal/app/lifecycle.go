package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wearnotify/internal/config"
	"wearnotify/internal/handler"
	"wearnotify/internal/runtime/supervisor"
	"wearnotify/pkg/logx"
)

func (a *App) Start(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()
	run := sup.Context()

	cfg := a.cfgm.Get()
	a.cfgm.SetLogger(a.log.With(logx.String("component", "config")))
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if next.Data() != cfg.Data() {
			return fmt.Errorf("data_path cannot change at runtime (restart required)")
		}
		return nil
	})

	a.handlers.InitAll(run, handler.Deps{
		Logger:  a.logs.Logger(),
		Modules: a.cache.Modules,
		Runtime: a.cache.Runtime,
		Lookup:  a.lookupHelp,
	})
	a.handlers.Configure(run, cfg.Handlers)
	a.delivery.Init(run)

	if cfg.Cache.CleanupOnStart {
		if n, err := a.engine.CleanupCache(run, false); err != nil {
			a.log.Warn("startup cache cleanup failed", logx.Err(err))
		} else {
			a.log.Info("startup cache cleanup", logx.Int("removed", n))
		}
	}

	for _, in := range a.inputs {
		if err := in.Init(run); err != nil {
			a.log.Error("input init failed; disabled", logx.String("input", in.Name()), logx.Err(err))
			continue
		}
		sup.Go("input."+in.Name(), in.Run)
	}

	a.sched.Start(run)

	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go("registry.watch", func(c context.Context) error {
		return config.WatchFile(c, a.table.Path(), a.log, func() {
			if err := a.table.Reload(); err != nil {
				a.log.Warn("registry reload failed", logx.Err(err))
				return
			}
			a.log.Info("registry reloaded")
		})
	})
	sup.Go("mnemonic.watch", func(c context.Context) error {
		return config.WatchFile(c, cfg.DataFile("mnemonic.json"), a.log, func() {
			if err := a.engine.Mnemonics().Reload(); err != nil {
				a.log.Warn("mnemonic reload failed", logx.Err(err))
				return
			}
			a.log.Info("mnemonics reloaded")
		})
	})

	a.log.Info("app started",
		logx.Strings("handlers", a.handlers.Names()),
		logx.Int("outputs", len(a.delivery.Channels())),
		logx.Int("inputs", len(a.inputs)),
	)
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
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
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// restartSections cannot be applied to a running app.
var restartSections = map[string]bool{"storage": true, "http": true, "telegram": true, "console": true}

func (a *App) apply(c context.Context, prev, next *config.Config) {
	sections, attrs, changedHandlers := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(next.LogConfig())

	if defaults, err := next.PipelineDefaults(); err != nil {
		a.log.Warn("invalid pipeline config; keeping previous", logx.Err(err))
	} else if eng, err := next.Engine(); err != nil {
		a.log.Warn("invalid pipeline engine; keeping previous", logx.Err(err))
	} else {
		a.pipe.SetDefaults(defaults, eng, next.ResetPipelineConfig)
	}
	a.delivery.SetOnlyStringIO(next.OnlyStringIO)

	if prev.MnemonicMode() != next.MnemonicMode() {
		a.engine.Mnemonics().SetMode(next.MnemonicMode())
	}
	if len(changedHandlers) > 0 {
		a.handlers.Configure(c, next.Handlers)
	}
	if prev.Cache.CleanupCron != next.Cache.CleanupCron {
		if err := a.setCleanup(next.Cache.CleanupCron); err != nil {
			a.log.Warn("cleanup schedule rejected", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("inputs", 2*time.Second, func(c context.Context) error {
		var errs []error
		for _, in := range a.inputs {
			errs = append(errs, in.Exit(c))
		}
		return errors.Join(errs...)
	})
	step("supervisor", 3*time.Second, sup.Wait)
	step("dispatch", 3*time.Second, func(c context.Context) error { a.engine.Quit(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
