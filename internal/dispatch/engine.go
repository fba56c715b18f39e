// Package dispatch runs request cycles: input and context handling,
// routing, the request cache, handler invocation and delivery, all under
// one global lock.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"wearnotify/internal/cache"
	"wearnotify/internal/delivery"
	"wearnotify/internal/handler"
	"wearnotify/internal/inputctx"
	"wearnotify/internal/metrics"
	"wearnotify/internal/registry"
	"wearnotify/internal/storage"
	"wearnotify/pkg/logx"
)

// ErrNoHandler is recorded when a registry key resolves to nothing.
var ErrNoHandler = errors.New("dispatch: no handler")

// Cycle outcomes, used as the metrics label and in results.
const (
	OutcomeDelivered = "delivered"
	OutcomeAborted   = "aborted"
	OutcomeEmpty     = "empty"
	OutcomeNoHandler = "no_handler"
	OutcomeError     = "error"
	OutcomeQuit      = "quit"
	OutcomeCommand   = "command"
	OutcomeCancelled = "cancelled"
)

// Deps wires an Engine. Audit and Metrics are optional.
type Deps struct {
	Logger    logx.Logger
	Handlers  *handler.Set
	Router    *registry.Router
	Context   *inputctx.Manager
	Cache     *cache.Store
	Delivery  *delivery.Orchestrator
	Mnemonics *Mnemonics
	Commands  *Commands
	Audit     storage.Store
	Metrics   *metrics.Metrics
}

// ProcessOptions tune one cycle.
type ProcessOptions struct {
	// Mnemonic maps the input through the mnemonic tables first.
	Mnemonic bool
	// DenyCache skips the request cache lookup.
	DenyCache bool
	// IgnoreContext routes the input even when a handler holds the context.
	IgnoreContext bool
	// OutOfContext calls the handler's out-of-context entrypoint.
	OutOfContext bool
}

// Result describes a finished cycle.
type Result struct {
	CycleID  string
	Outcome  string
	Registry string
	Handler  string
	CacheHit bool
	Stats    delivery.Stats
}

// Delivered reports whether anything reached the channels.
func (r Result) Delivered() bool {
	return r.Outcome == OutcomeDelivered || r.Outcome == OutcomeAborted
}

type Engine struct {
	lock chan struct{}
	log  logx.Logger

	handlers  *handler.Set
	router    *registry.Router
	context   *inputctx.Manager
	cache     *cache.Store
	delivery  *delivery.Orchestrator
	mnemonics *Mnemonics
	commands  *Commands
	audit     storage.Store
	metrics   *metrics.Metrics
}

func New(d Deps) (*Engine, error) {
	switch {
	case d.Handlers == nil:
		return nil, errors.New("dispatch: handlers required")
	case d.Router == nil:
		return nil, errors.New("dispatch: router required")
	case d.Cache == nil:
		return nil, errors.New("dispatch: cache required")
	case d.Delivery == nil:
		return nil, errors.New("dispatch: delivery required")
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		lock:      make(chan struct{}, 1),
		log:       log.With(logx.String("component", "dispatch")),
		handlers:  d.Handlers,
		router:    d.Router,
		context:   d.Context,
		cache:     d.Cache,
		delivery:  d.Delivery,
		mnemonics: d.Mnemonics,
		commands:  d.Commands,
		audit:     d.Audit,
		metrics:   d.Metrics,
	}
	if e.context == nil {
		e.context = inputctx.New(d.Handlers.Settings, log)
	}
	if e.mnemonics == nil {
		e.mnemonics, _ = LoadMnemonics("", ModeCompose, log)
	}
	if e.commands == nil {
		e.commands = NewCommands()
	}
	e.context.SetHook(e.onContextChange)
	return e, nil
}

func (e *Engine) Handlers() *handler.Set           { return e.handlers }
func (e *Engine) Router() *registry.Router         { return e.router }
func (e *Engine) Context() *inputctx.Manager       { return e.context }
func (e *Engine) Cache() *cache.Store              { return e.cache }
func (e *Engine) Delivery() *delivery.Orchestrator { return e.delivery }
func (e *Engine) Mnemonics() *Mnemonics            { return e.mnemonics }
func (e *Engine) Commands() *Commands              { return e.commands }

// DefineCommand registers an out-of-context function command.
func (e *Engine) DefineCommand(name string, fn CommandFunc) { e.commands.Define(name, fn) }

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() { <-e.lock }

// Busy reports whether a cycle holds the global lock.
func (e *Engine) Busy() bool { return len(e.lock) > 0 }

func (e *Engine) onContextChange(prevKey, newKey string, prev, next handler.Handler) {
	var pref *int
	if next != nil {
		pref = e.handlers.Settings(next).PrefMnemonicMode
	}
	e.mnemonics.transition(pref)
}

// MapMnemonic resolves input through the active handler's mnemonics and the
// global table.
func (e *Engine) MapMnemonic(input string) (string, bool) {
	var active *handler.Settings
	if st := e.context.Get(); st.Entered() {
		s := e.handlers.Settings(st.Handler)
		active = &s
	}
	return e.mnemonics.Map(input, active)
}

// Input turns raw input into a registry key and body. With an entered
// context the input goes to the active handler unchanged, unless it is one
// of its quit commands: then the context is cleared and ok is false.
func (e *Engine) Input(ctx context.Context, raw string, handleContext bool) (key, body string, ok bool) {
	if st := e.context.Get(); st.Entered() && handleContext {
		if e.handlers.Settings(st.Handler).IsQuit(raw) {
			e.log.Debug("quit command; leaving context", logx.String("registry", st.Key))
			e.context.Clear(ctx)
			return "", "", false
		}
		return st.Key, raw, true
	}
	key, body = e.router.Split(raw)
	return key, body, true
}

// Submit runs input as an out-of-context command when it names one, and as
// a normal request otherwise. Function commands run outside the global lock.
func (e *Engine) Submit(ctx context.Context, input string, cont delivery.Continuation, opts ProcessOptions) (Result, error) {
	cmd, args, ok := e.commands.Lookup(input)
	if !ok {
		return e.Process(ctx, input, cont, opts)
	}
	if cmd.Func != nil {
		e.log.Info("running command", logx.String("command", strings.Fields(input)[0]))
		return Result{Outcome: OutcomeCommand}, e.runCommand(ctx, cmd.Func, args)
	}
	req := cmd.Request
	if args != "" {
		req += " " + args
	}
	opts.OutOfContext = opts.OutOfContext || cmd.OutOfContext
	e.log.Debug("command re-dispatched", logx.String("request", req))
	return e.Process(ctx, req, cont, opts)
}

func (e *Engine) runCommand(ctx context.Context, fn CommandFunc, args string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in command", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("command panic: %v", r)
		}
	}()
	return fn(ctx, args)
}

// Process runs one full request cycle under the global lock. Handler
// failures and unknown registries yield a Result without delivery; the
// error is non-nil only when ctx ended the cycle.
func (e *Engine) Process(ctx context.Context, input string, cont delivery.Continuation, opts ProcessOptions) (Result, error) {
	if err := e.acquire(ctx); err != nil {
		return Result{Outcome: OutcomeCancelled}, err
	}
	defer e.release()

	start := time.Now()
	res := Result{CycleID: uuid.NewString()}
	log := e.log.With(logx.String("cycle", res.CycleID))
	var cycleErr error
	defer func() {
		e.metrics.Cycle(res.Outcome, time.Since(start))
		e.record(ctx, input, res, cycleErr, time.Since(start))
	}()

	if opts.Mnemonic {
		if mapped, ok := e.MapMnemonic(input); ok {
			log.Debug("mnemonic mapped", logx.String("from", input), logx.String("to", mapped))
			input = mapped
		}
	}
	key, body, ok := e.Input(ctx, input, !opts.IgnoreContext)
	if !ok {
		res.Outcome = OutcomeQuit
		return res, nil
	}
	res.Registry = key

	resp, h, hit, err := e.delegate(ctx, log, key, body, opts.DenyCache, opts.OutOfContext)
	if h != nil {
		res.Handler = h.Name()
	}
	res.CacheHit = hit
	switch {
	case errors.Is(err, ErrNoHandler):
		res.Outcome, cycleErr = OutcomeNoHandler, err
		return res, nil
	case err != nil:
		res.Outcome, cycleErr = OutcomeError, err
		return res, nil
	case isEmpty(resp):
		res.Outcome = OutcomeEmpty
		return res, nil
	}

	if !e.delivery.Pack(body, resp, e.handlers.Settings(h)) {
		res.Outcome = OutcomeEmpty
		return res, nil
	}
	st, err := e.delivery.Post(ctx, cont)
	res.Stats = st
	res.Outcome = OutcomeDelivered
	if st.Aborted {
		res.Outcome = OutcomeAborted
	}
	if err != nil {
		res.Outcome, cycleErr = OutcomeCancelled, err
		return res, err
	}
	log.Info("cycle finished",
		logx.String("registry", key),
		logx.String("handler", res.Handler),
		logx.Bool("cache_hit", hit),
		logx.Int("packets", st.Packets),
		logx.Duration("took", time.Since(start)),
	)
	return res, nil
}

// delegate resolves the handler for key and answers body, from the request
// cache when possible.
func (e *Engine) delegate(ctx context.Context, log logx.Logger, key, body string, denyCache, outOfContext bool) (any, handler.Handler, bool, error) {
	st := e.context.Get()
	var h handler.Handler
	if st.Entered() && key == st.Key {
		h = st.Handler
	} else {
		h = e.router.Route(key)
	}
	if h == nil {
		return nil, nil, false, ErrNoHandler
	}

	fullKey := body
	if st.Entered() {
		fullKey = st.Key + " " + body
	}

	if !denyCache && fullKey != "" {
		v, err := e.cache.Requests.Get(fullKey)
		switch {
		case err == nil:
			e.metrics.CacheLookup(true)
			log.Debug("request cached", logx.String("key", fullKey))
			return v, h, true, nil
		case !errors.Is(err, cache.ErrNotFound):
			log.Warn("request cache lookup failed", logx.Err(err))
		}
		e.metrics.CacheLookup(false)
	}

	resp, err := handler.Invoke(ctx, log, h, body, outOfContext)
	if err != nil {
		log.Error("handler failed",
			logx.String("handler", h.Name()),
			logx.String("registry", key),
			logx.String("request", body),
			logx.Err(err),
		)
		return nil, h, false, err
	}

	settings := e.handlers.Settings(h)
	if !settings.NoCache && fullKey != "" {
		if v, ok := cacheValue(resp); ok {
			if err := e.cache.Requests.Put(fullKey, v); err != nil {
				log.Warn("request cache write failed", logx.Err(err))
			}
		}
	}

	if st.Entered() && st.Handler.Name() != h.Name() {
		if n := e.cache.Runtime.Evict(st.Handler.Name()); n > 0 {
			log.Debug("runtime cache evicted", logx.String("handler", st.Handler.Name()), logx.Int("entries", n))
		}
	}
	if settings.EnterContext && (!st.Entered() || st.Handler.Name() != h.Name()) {
		e.context.Enter(ctx, key, h)
	}
	return resp, h, false, nil
}

func (e *Engine) record(ctx context.Context, input string, res Result, err error, took time.Duration) {
	if e.audit == nil {
		return
	}
	entry := storage.AuditEntry{
		At:       time.Now().UTC(),
		CycleID:  res.CycleID,
		Input:    input,
		Registry: res.Registry,
		Handler:  res.Handler,
		CacheHit: res.CacheHit,
		Packets:  res.Stats.Packets,
		Bytes:    res.Stats.Bytes,
		Aborted:  res.Stats.Aborted,
		TookMS:   took.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.audit.AppendAudit(actx, entry); err != nil {
		e.log.Warn("audit write failed", logx.Err(err))
	}
}

// SendMessage pushes text through the packetizer under the global lock.
func (e *Engine) SendMessage(ctx context.Context, text string, cont delivery.Continuation) (delivery.Stats, error) {
	if err := e.acquire(ctx); err != nil {
		return delivery.Stats{}, err
	}
	defer e.release()
	if !e.delivery.Pack("", text, handler.Settings{}) {
		return delivery.Stats{}, nil
	}
	return e.delivery.Post(ctx, cont)
}

// DirectMessage sends text unchunked to every channel. It does not take the
// global lock, so it may be used while a delivery waits at a checkpoint.
func (e *Engine) DirectMessage(ctx context.Context, text string, hold time.Duration) error {
	e.log.Info("sending direct message")
	return e.delivery.Direct(ctx, text, hold)
}

// CleanupCache clears the cache directory under the global lock.
func (e *Engine) CleanupCache(ctx context.Context, force bool) (int, error) {
	if err := e.acquire(ctx); err != nil {
		return 0, err
	}
	defer e.release()
	return e.cache.Cleanup(force)
}

// Quit leaves the context and shuts channels and handlers down.
func (e *Engine) Quit(ctx context.Context) {
	e.context.Clear(ctx)
	e.delivery.Exit(ctx)
	e.handlers.ExitAll(ctx)
}

// cacheValue renders a response as the string stored in the request cache.
// Failed structured responses are not cached.
func cacheValue(resp any) (string, bool) {
	switch v := resp.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case []byte:
		return string(v), len(v) > 0
	case []string:
		return strings.Join(v, "\n"), len(v) > 0
	case *handler.Structured:
		if v == nil {
			return "", false
		}
		return cacheValue(*v)
	case handler.Structured:
		if v.Failed() {
			return "", false
		}
		return cacheValue(v.Message)
	default:
		return fmt.Sprint(v), true
	}
}

func isEmpty(resp any) bool {
	switch v := resp.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case *handler.Structured:
		return v == nil
	}
	return false
}
