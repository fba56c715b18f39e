package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"wearnotify/pkg/logx"
)

// ErrDone is returned by Next when the packet sequence is exhausted.
var ErrDone = errors.New("pipeline: done")

// Pull is one step of the packet sequence: either a packet, or a checkpoint
// asking the caller to consult its continuation before pulling again.
type Pull struct {
	Packet     string
	Checkpoint bool
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Option func(*Pipeline)

func WithLogger(log logx.Logger) Option { return func(p *Pipeline) { p.log = log } }
func WithSleep(fn SleepFunc) Option     { return func(p *Pipeline) { p.sleep = fn } }

// WithResetConfig makes Reset also restore the default config, dropping
// per-response overrides.
func WithResetConfig(on bool) Option { return func(p *Pipeline) { p.resetConfig = on } }

// Pipeline turns one source into a finite, non-restartable packet sequence.
// A new sequence starts after Reset + Put.
type Pipeline struct {
	mu sync.Mutex

	log         logx.Logger
	sleep       SleepFunc
	engine      Engine
	defaults    Config
	cfg         Config
	resetConfig bool

	source     Source
	packets    []string
	started    bool
	next       int
	sent       int
	checkpoint bool
	done       bool
}

func New(defaults Config, engine Engine, opts ...Option) *Pipeline {
	if engine == nil {
		engine = Batched{}
	}
	p := &Pipeline{
		engine:   engine,
		defaults: defaults,
		cfg:      defaults,
		sleep:    Sleep,
	}
	for _, o := range opts {
		o(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	return p
}

// SetDefaults replaces the default config and engine (config hot reload).
func (p *Pipeline) SetDefaults(defaults Config, engine Engine, resetConfig bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = defaults
	p.cfg = defaults
	if engine != nil {
		p.engine = engine
	}
	p.resetConfig = resetConfig
}

// Configure applies a per-response override map; unknown keys are ignored.
func (p *Pipeline) Configure(overrides map[string]any) {
	if len(overrides) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.Info("reconfiguring pipeline", logx.Any("override", overrides))
	p.cfg = p.cfg.Override(overrides)
}

func (p *Pipeline) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Pipeline) Engine() Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine
}

// Reset drops the current source and sequence state.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = Source{}
	p.packets = nil
	p.started = false
	p.next = 0
	p.sent = 0
	p.checkpoint = false
	p.done = false
	if p.resetConfig {
		p.cfg = p.defaults
	}
}

// Put installs a new source. With clear_text enabled, strings are filtered.
func (p *Pipeline) Put(src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.ClearText {
		src = src.mapText(ClearText)
	}
	p.source = src
	p.log.Debug("source accepted", logx.Bool("specific", src.IsSpecific()), logx.Bool("list", src.IsList()))
}

func (p *Pipeline) Source() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Filled reports whether a source is waiting to be rolled.
func (p *Pipeline) Filled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.source.IsEmpty()
}

// Sent is the number of packets handed out since the last Reset.
func (p *Pipeline) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Packets materializes the arranged packet list for the current source
// without touching the emission state.
func (p *Pipeline) Packets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return arrange(p.source, p.cfg, p.engine)
}

func arrange(src Source, cfg Config, engine Engine) []string {
	split := SplitterFor(cfg.LimitType)
	texts := src.texts()
	groups := make([][]string, 0, len(texts))
	for _, t := range texts {
		groups = append(groups, split(t, cfg))
	}
	return engine.Arrange(groups, src.IsList(), cfg)
}

// Next pulls the next step of the sequence. It returns ErrDone once the
// sequence is exhausted (or a checkpoint ends it), and ctx.Err() if a delay
// was interrupted.
func (p *Pipeline) Next(ctx context.Context) (Pull, error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return Pull{}, ErrDone
	}
	if !p.started {
		p.started = true
		p.packets = arrange(p.source, p.cfg, p.engine)
		p.next = 0
		p.sent = 0
		p.log.Debug("packets materialized",
			logx.String("engine", p.engine.Name()),
			logx.Int("count", len(p.packets)),
		)
		d := p.cfg.InitialDelay
		p.mu.Unlock()
		if err := p.sleep(ctx, d); err != nil {
			return Pull{}, err
		}
		p.mu.Lock()
	}
	cfg := p.cfg
	if p.sent > 0 {
		p.mu.Unlock()
		if err := p.sleep(ctx, cfg.PacketDelay); err != nil {
			return Pull{}, err
		}
		p.mu.Lock()
	}
	defer p.mu.Unlock()

	if p.next >= len(p.packets) {
		p.done = true
		p.log.Debug("sequence exhausted", logx.Int("sent", p.sent), logx.Int("total", len(p.packets)))
		return Pull{}, ErrDone
	}

	if p.sent > 0 && p.sent%cfg.PacketsCount == 0 && !p.checkpoint {
		p.checkpoint = true
		p.log.Debug("batch checkpoint", logx.Int("sent", p.sent), logx.String("after_limit", string(cfg.AfterLimit)))
		switch cfg.AfterLimit {
		case AfterSpecialDelay, AfterInitialDelay:
			d := cfg.SpecialDelay
			if cfg.AfterLimit == AfterInitialDelay {
				d = cfg.InitialDelay
			}
			p.mu.Unlock()
			err := p.sleep(ctx, d)
			p.mu.Lock()
			if err != nil {
				return Pull{}, err
			}
		case AfterFinish:
			p.done = true
			return Pull{}, ErrDone
		case AfterUserAction:
			return Pull{Checkpoint: true}, nil
		}
	} else {
		p.checkpoint = false
	}

	pkt := p.packets[p.next]
	p.next++
	p.sent++
	p.log.Trace("packet rolled", logx.Int("len", utf8.RuneCountInString(pkt)), logx.Int("size", len(pkt)))
	return Pull{Packet: pkt}, nil
}
