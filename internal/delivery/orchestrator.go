package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wearnotify/internal/handler"
	"wearnotify/internal/pipeline"
	"wearnotify/pkg/logx"
)

// EmptyMessage replaces a structured response without a message.
const EmptyMessage = "empty"

// Stats summarize one delivery.
type Stats struct {
	Packets  int
	Bytes    int
	Aborted  bool
	Specific bool
}

// Orchestrator owns the packetizer and the set of output channels.
type Orchestrator struct {
	mu       sync.Mutex
	log      logx.Logger
	pipe     *pipeline.Pipeline
	channels []Channel
	observer Observer
	onlyStr  bool
	ready    bool
}

type Option func(*Orchestrator)

func WithObserver(o Observer) Option     { return func(d *Orchestrator) { d.observer = o } }
func WithOnlyStringIO(on bool) Option    { return func(d *Orchestrator) { d.onlyStr = on } }
func WithChannels(chs ...Channel) Option { return func(d *Orchestrator) { d.channels = append(d.channels, chs...) } }

func New(pipe *pipeline.Pipeline, log logx.Logger, opts ...Option) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Orchestrator{pipe: pipe, log: log.With(logx.String("component", "delivery"))}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Orchestrator) Pipeline() *pipeline.Pipeline { return d.pipe }

// SetOnlyStringIO toggles string coercion of opaque responses.
func (d *Orchestrator) SetOnlyStringIO(on bool) {
	d.mu.Lock()
	d.onlyStr = on
	d.mu.Unlock()
}

// Channels returns the active output channels.
func (d *Orchestrator) Channels() []Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Channel(nil), d.channels...)
}

// Channel finds an output channel by name.
func (d *Orchestrator) Channel(name string) (Channel, bool) {
	for _, ch := range d.Channels() {
		if ch.Name() == name {
			return ch, true
		}
	}
	return nil, false
}

// Init initializes every channel; failing channels are dropped.
func (d *Orchestrator) Init(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.channels[:0]
	for _, ch := range d.channels {
		if err := callChannel(d.log, ch, "init", func() error { return ch.Init(ctx) }); err != nil {
			d.log.Error("channel init failed; disabled", logx.String("channel", ch.Name()), logx.Err(err))
			continue
		}
		kept = append(kept, ch)
	}
	d.channels = kept
}

// Exit shuts every channel down.
func (d *Orchestrator) Exit(ctx context.Context) {
	for _, ch := range d.Channels() {
		if err := callChannel(d.log, ch, "exit", func() error { return ch.Exit(ctx) }); err != nil {
			d.log.Warn("channel exit failed", logx.String("channel", ch.Name()), logx.Err(err))
		}
	}
}

// Pack normalizes resp and installs it as the packetizer source. It reports
// whether there is something to post.
func (d *Orchestrator) Pack(body string, resp any, settings handler.Settings) bool {
	d.pipe.Reset()
	src, ok := d.normalize(resp, settings, true)
	d.mu.Lock()
	d.ready = ok
	d.mu.Unlock()
	if !ok {
		return false
	}
	d.pipe.Put(src)
	d.log.Debug("response packed", logx.String("request", body), logx.Bool("specific", src.IsSpecific()))
	return true
}

func (d *Orchestrator) normalize(resp any, settings handler.Settings, top bool) (pipeline.Source, bool) {
	switch v := resp.(type) {
	case nil:
		return pipeline.Source{}, false
	case string:
		if top && len(settings.PipelineOverride) > 0 {
			d.pipe.Configure(settings.PipelineOverride)
		}
		return pipeline.Text(v), true
	case []byte:
		return d.normalize(string(v), settings, top)
	case []string:
		return pipeline.List(v...), true
	case []any:
		items := make([]string, 0, len(v))
		for _, x := range v {
			s, ok := x.(string)
			if !ok {
				return d.opaque(v), true
			}
			items = append(items, s)
		}
		return pipeline.List(items...), true
	case *handler.Structured:
		if v == nil {
			return pipeline.Source{}, false
		}
		return d.normalizeStructured(*v, settings)
	case handler.Structured:
		return d.normalizeStructured(v, settings)
	default:
		return d.opaque(v), true
	}
}

func (d *Orchestrator) normalizeStructured(s handler.Structured, settings handler.Settings) (pipeline.Source, bool) {
	if s.Failed() {
		d.log.Warn("handler reported status=false")
	}
	for _, m := range s.LogMessages {
		d.log.Info(m)
	}
	for _, w := range s.Warnings {
		d.log.Warn(w)
	}
	if len(s.PipelineOverride) > 0 {
		d.pipe.Configure(s.PipelineOverride)
	}
	if s.Message == nil {
		d.log.Error("empty response")
		return pipeline.Text(EmptyMessage), true
	}
	return d.normalize(s.Message, settings, false)
}

func (d *Orchestrator) opaque(v any) pipeline.Source {
	d.mu.Lock()
	onlyStr := d.onlyStr
	d.mu.Unlock()
	if onlyStr {
		return pipeline.Text(fmt.Sprint(v))
	}
	return pipeline.Opaque(v)
}

// Ready reports whether a packed response is waiting.
func (d *Orchestrator) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready && d.pipe.Filled()
}

// Post delivers the packed response. The packetizer is reset afterwards in
// every case. The returned error is non-nil only if ctx ended delivery.
func (d *Orchestrator) Post(ctx context.Context, cont Continuation) (Stats, error) {
	defer func() {
		d.pipe.Reset()
		d.mu.Lock()
		d.ready = false
		d.mu.Unlock()
	}()
	if !d.Ready() {
		return Stats{}, nil
	}
	channels := d.Channels()
	src := d.pipe.Source()

	if src.IsSpecific() {
		d.beginAll(ctx, channels)
		d.sendValueAll(ctx, channels, src.Value())
		d.finishedAll(ctx, channels, 1)
		d.log.Info("specific source delivered")
		return Stats{Packets: 1, Specific: true}, nil
	}

	var (
		st      Stats
		postErr error
		start   = time.Now()
	)
	d.beginAll(ctx, channels)
	for {
		pull, err := d.pipe.Next(ctx)
		if errors.Is(err, pipeline.ErrDone) {
			break
		}
		if err != nil {
			postErr = err
			break
		}
		if pull.Checkpoint {
			d.finishedAll(ctx, channels, st.Packets)
			d.beginAll(ctx, channels)
			if cont == nil || !cont(ctx) {
				st.Aborted = true
				if d.observer != nil {
					d.observer.Aborted()
				}
				d.log.Info("delivery stopped at checkpoint", logx.Int("sent", st.Packets))
				break
			}
			continue
		}
		d.sendAll(ctx, channels, pull.Packet)
		st.Packets++
		st.Bytes += len(pull.Packet)
	}
	// Finish with a context that survives cancellation so channels can
	// clean up.
	d.finishedAll(context.WithoutCancel(ctx), channels, st.Packets)
	d.log.Info("packet delivery finished",
		logx.Int("packets", st.Packets),
		logx.Int("bytes", st.Bytes),
		logx.Duration("took", time.Since(start)),
	)
	return st, postErr
}

// Direct sends text to every channel without packetizing, bracketed by
// Begin and Finished(1). hold delays Finished.
func (d *Orchestrator) Direct(ctx context.Context, text string, hold time.Duration) error {
	channels := d.Channels()
	d.beginAll(ctx, channels)
	d.sendAll(ctx, channels, text)
	var err error
	if hold > 0 {
		err = pipeline.Sleep(ctx, hold)
	}
	d.finishedAll(context.WithoutCancel(ctx), channels, 1)
	return err
}

func (d *Orchestrator) beginAll(ctx context.Context, channels []Channel) {
	for _, ch := range channels {
		d.check(ch, "begin", callChannel(d.log, ch, "begin", func() error { return ch.Begin(ctx) }))
	}
}

func (d *Orchestrator) finishedAll(ctx context.Context, channels []Channel, count int) {
	for _, ch := range channels {
		d.check(ch, "finished", callChannel(d.log, ch, "finished", func() error { return ch.Finished(ctx, count) }))
	}
}

func (d *Orchestrator) sendAll(ctx context.Context, channels []Channel, packet string) {
	for _, ch := range channels {
		err := callChannel(d.log, ch, "send", func() error { return ch.Send(ctx, packet) })
		d.check(ch, "send", err)
		if err == nil && d.observer != nil {
			d.observer.PacketSent(ch.Name(), len(packet))
		}
	}
}

func (d *Orchestrator) sendValueAll(ctx context.Context, channels []Channel, v any) {
	for _, ch := range channels {
		err := callChannel(d.log, ch, "send", func() error {
			if vs, ok := ch.(ValueSender); ok {
				return vs.SendValue(ctx, v)
			}
			return ch.Send(ctx, fmt.Sprint(v))
		})
		d.check(ch, "send", err)
	}
}

func (d *Orchestrator) check(ch Channel, op string, err error) {
	if err == nil {
		return
	}
	d.log.Error("channel call failed", logx.String("channel", ch.Name()), logx.String("op", op), logx.Err(err))
	if d.observer != nil {
		d.observer.ChannelError(ch.Name(), op)
	}
}
