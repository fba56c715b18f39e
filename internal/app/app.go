// Package app wires the dispatcher, its caches and stores, the output and
// input channels and the background services into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"wearnotify/internal/cache"
	"wearnotify/internal/channels"
	"wearnotify/internal/channels/console"
	"wearnotify/internal/channels/httpin"
	"wearnotify/internal/channels/telegram"
	"wearnotify/internal/config"
	"wearnotify/internal/delivery"
	"wearnotify/internal/dispatch"
	"wearnotify/internal/handler"
	"wearnotify/internal/metrics"
	"wearnotify/internal/pipeline"
	"wearnotify/internal/registry"
	"wearnotify/internal/runtime/supervisor"
	"wearnotify/internal/scheduler"
	"wearnotify/internal/storage"
	"wearnotify/pkg/logx"
)

const (
	cleanupJob     = "cache.cleanup"
	cleanupTimeout = time.Minute
	directHold     = 500 * time.Millisecond
)

type App struct {
	cfgm *config.ConfigManager

	log     logx.Logger
	logs    *logx.Service
	metrics *metrics.Metrics
	store   storage.Store
	cache   *cache.Store

	handlers *handler.Set
	table    *registry.Table
	pipe     *pipeline.Pipeline
	delivery *delivery.Orchestrator
	engine   *dispatch.Engine
	gate     *dispatch.Gate
	sched    *scheduler.Service

	bot    *telegram.Bot
	http   *httpin.Server
	inputs []channels.Input

	stdin  io.Reader
	stdout io.Writer
	extra  []handler.Handler

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

type Option func(*App)

// WithHandlers registers handlers next to the built-in ones.
func WithHandlers(hs ...handler.Handler) Option {
	return func(a *App) { a.extra = append(a.extra, hs...) }
}

// WithStdio replaces stdin/stdout of the console channel.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.stdin, a.stdout = in, out }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{stdin: os.Stdin, stdout: os.Stdout}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewConfigManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Remote logging needs the Telegram bot, which is created after logging;
	// bootstrap without it and apply the final config once the sink is set.
	logCfg := cfg.LogConfig()
	boot := logCfg
	boot.Remote.Enabled = false
	a.logs, a.log = logx.New(boot, nil)
	a.log = a.log.With(logx.String("component", "app"))

	if err := a.build(cfg); err != nil {
		_ = a.logs.Close()
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	if a.bot != nil {
		a.logs.SetSink(a.bot)
		a.logs.Apply(logCfg)
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.logs.Logger()
	a.metrics = metrics.New()

	sc, err := cfg.StoreConfig()
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, log.With(logx.String("component", "storage"))); err != nil {
		return err
	}
	if a.store != nil {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	if a.cache, err = cache.Open(cfg.Data(), cfg.ShardSize(), log.With(logx.String("component", "cache"))); err != nil {
		return err
	}

	a.handlers = handler.NewSet(log.With(logx.String("component", "handlers")))
	if err := a.handlers.Register(handler.Builtins()...); err != nil {
		return err
	}
	if err := a.handlers.Register(a.extra...); err != nil {
		return err
	}
	if a.table, err = registry.LoadTable(cfg.DataFile("registry.json"), a.handlers.Names(), log); err != nil {
		return err
	}

	defaults, err := cfg.PipelineDefaults()
	if err != nil {
		return err
	}
	eng, err := cfg.Engine()
	if err != nil {
		return err
	}
	a.pipe = pipeline.New(defaults, eng,
		pipeline.WithLogger(log.With(logx.String("component", "pipeline"))),
		pipeline.WithResetConfig(cfg.ResetPipelineConfig),
	)

	outputs, err := a.outputs(cfg)
	if err != nil {
		return err
	}
	a.delivery = delivery.New(a.pipe, log,
		delivery.WithObserver(a.metrics),
		delivery.WithOnlyStringIO(cfg.OnlyStringIO),
		delivery.WithChannels(outputs...),
	)

	mnem, err := dispatch.LoadMnemonics(cfg.DataFile("mnemonic.json"), cfg.MnemonicMode(), log)
	if err != nil {
		return err
	}
	cmds, err := dispatch.LoadCommands(cfg.DataFile("commands.json"), log)
	if err != nil {
		return err
	}
	a.engine, err = dispatch.New(dispatch.Deps{
		Logger:    log,
		Handlers:  a.handlers,
		Router:    registry.NewRouter(a.table, a.handlers, log),
		Cache:     a.cache,
		Delivery:  a.delivery,
		Mnemonics: mnem,
		Commands:  cmds,
		Audit:     a.store,
		Metrics:   a.metrics,
	})
	if err != nil {
		return err
	}
	a.defineCommands()
	a.gate = dispatch.NewGate()
	a.inputs = a.buildInputs(cfg)

	a.sched = scheduler.New(time.Local, log)
	return a.setCleanup(cfg.Cache.CleanupCron)
}

func (a *App) needBot(cfg *config.Config) bool {
	return cfg.Telegram.Output || cfg.Telegram.Input || cfg.Logging.Telegram.Enabled
}

func (a *App) outputs(cfg *config.Config) ([]delivery.Channel, error) {
	var out []delivery.Channel
	if cfg.Console.Output {
		out = append(out, console.NewOutput(a.stdout, cfg.Console.Separator))
	}
	if a.needBot(cfg) {
		bot, err := telegram.NewBot(telegram.Config{
			Token:          cfg.Telegram.Token,
			ChatID:         cfg.Telegram.ChatID,
			Owners:         cfg.Telegram.OwnerUserIDs,
			PollTimeout:    config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
			Ephemeral:      cfg.Telegram.Ephemeral,
			EphemeralDelay: config.Duration(cfg.Telegram.EphemeralDelay, 10*time.Second),
		}, a.logs.Logger())
		if err != nil {
			return nil, err
		}
		a.bot = bot
		if cfg.Telegram.Output {
			out = append(out, delivery.Throttle(telegram.NewOutput(bot), cfg.Telegram.RatePerSec))
		}
	}
	if len(out) == 0 {
		a.log.Warn("no output channel enabled; responses are dropped")
	}
	return out, nil
}

func (a *App) buildInputs(cfg *config.Config) []channels.Input {
	var in []channels.Input
	log := a.logs.Logger()
	if cfg.Console.Input {
		c := console.NewInput(a.stdin, a.stdout, a.engine, a.engine.Context().Get, log)
		c.OnQuit(a.requestStop)
		in = append(in, c)
	}
	if cfg.Telegram.Input && a.bot != nil {
		in = append(in, telegram.NewInput(a.bot, a.engine, a.gate, a.engine.Mnemonics()))
	}
	if cfg.HTTP.Enabled {
		opts := httpin.Options{
			Addr:         cfg.HTTP.Addr,
			ReadTimeout:  config.Duration(cfg.HTTP.ReadTimeout, 0),
			WriteTimeout: config.Duration(cfg.HTTP.WriteTimeout, 0),
			Pprof:        cfg.HTTP.Pprof,
		}
		if cfg.HTTP.Metrics {
			opts.Metrics = a.metrics
		}
		a.http = httpin.New(opts, a.engine, a.gate, a.engine.Mnemonics(), func(ctx context.Context, text string) error {
			return a.engine.DirectMessage(ctx, text, directHold)
		}, log)
		in = append(in, a.http)
	}
	return in
}

func (a *App) setCleanup(spec string) error {
	return a.sched.Set(cleanupJob, strings.TrimSpace(spec), cleanupTimeout, func(ctx context.Context) error {
		_, err := a.engine.CleanupCache(ctx, false)
		return err
	})
}

// defineCommands installs the out-of-context commands every setup has.
func (a *App) defineCommands() {
	a.engine.DefineCommand("mode", func(ctx context.Context, args string) error {
		mode := a.engine.Mnemonics().Toggle()
		return a.engine.DirectMessage(ctx, fmt.Sprintf("mnemonic mode: %d", mode), directHold)
	})
	a.engine.DefineCommand("cleanup", func(ctx context.Context, args string) error {
		n, err := a.engine.CleanupCache(ctx, strings.TrimSpace(args) == "force")
		if err != nil {
			return err
		}
		_, err = a.engine.SendMessage(ctx, fmt.Sprintf("cache cleanup removed %d files", n), a.gate.Continuation())
		return err
	})
	a.engine.DefineCommand("reload", func(ctx context.Context, args string) error {
		return errors.Join(a.table.Reload(), a.engine.Mnemonics().Reload())
	})
}

// lookupHelp resolves the help text of a handler or an output channel.
func (a *App) lookupHelp(name string, args ...string) (string, bool) {
	if h, ok := a.handlers.Get(name); ok {
		return h.Help(args...), true
	}
	for _, ch := range a.delivery.Channels() {
		if ch.Name() != name {
			continue
		}
		if u, ok := ch.(interface{ Unwrap() delivery.Channel }); ok {
			ch = u.Unwrap()
		}
		if hp, ok := ch.(delivery.Helper); ok {
			return hp.Help(args...), true
		}
	}
	return "", false
}

func (a *App) Engine() *dispatch.Engine      { return a.engine }
func (a *App) Gate() *dispatch.Gate          { return a.gate }
func (a *App) Metrics() *metrics.Metrics     { return a.metrics }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// HTTPAddr is the bound address of the HTTP input, empty when disabled.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// Done is closed when the app stops running (fatal error, quit or Stop).
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first fatal error observed while running.
func (a *App) Err() error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

func (a *App) requestStop() {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup != nil {
		sup.Cancel()
	}
}
