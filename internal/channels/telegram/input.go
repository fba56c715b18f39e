package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"wearnotify/internal/channels"
	"wearnotify/internal/dispatch"
	"wearnotify/internal/runtime/supervisor"
	"wearnotify/pkg/logx"
)

const (
	cmdMore = "/more"
	cmdStop = "/stop"
	cmdMode = "/mode"
)

// Input accepts requests from the owners' private messages. /more and /stop
// answer a pending checkpoint, /mode toggles the mnemonic mode.
type Input struct {
	b     *Bot
	gate  *dispatch.Gate
	mnem  *dispatch.Mnemonics
	queue *channels.Queue
	log   logx.Logger
}

func NewInput(b *Bot, d channels.Dispatcher, gate *dispatch.Gate, mnem *dispatch.Mnemonics) *Input {
	return &Input{
		b:     b,
		gate:  gate,
		mnem:  mnem,
		queue: channels.NewQueue(d, gate.Continuation(), 16, b.log),
		log:   b.log.With(logx.String("side", "input")),
	}
}

func (in *Input) Name() string { return Name }

func (in *Input) Init(context.Context) error {
	if len(in.b.cfg.Owners) == 0 {
		in.log.Warn("telegram input has no owner_user_ids; every message is ignored")
	}
	if in.b.bot != nil {
		in.b.bot.Handle(tele.OnText, func(c tele.Context) error {
			m := c.Message()
			if m == nil || m.Sender == nil {
				return nil
			}
			if reply := in.onText(m.Sender.ID, m.Text); reply != "" {
				return c.Send(reply)
			}
			return nil
		})
	}
	in.gate.OnWait(func() {
		if in.b.cfg.ChatID == 0 {
			return
		}
		if _, err := in.b.send("Send " + cmdMore + " to continue or " + cmdStop + " to break"); err != nil {
			in.log.Warn("checkpoint prompt failed", logx.Err(err))
		}
	})
	return nil
}

// onText handles one message and returns an optional reply.
func (in *Input) onText(from int64, text string) string {
	if !in.b.owner(from) {
		in.log.Warn("message from non-owner ignored", logx.Int64("from", from))
		return ""
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	switch strings.ToLower(strings.Fields(text)[0]) {
	case "/start":
		return "ready"
	case cmdMore:
		if !in.gate.Release(true) {
			return "nothing is waiting"
		}
		return ""
	case cmdStop:
		if !in.gate.Release(false) {
			return "nothing is waiting"
		}
		return ""
	case cmdMode:
		if in.mnem.Toggle() == dispatch.ModeDirect {
			return "mnemonic mode: direct"
		}
		return "mnemonic mode: compose"
	}

	req := channels.Request{Input: text}
	if channels.IsDigits(text) && in.mnem.Mode() == dispatch.ModeDirect {
		req.Opts = channels.DigitOptions
	}
	if !in.queue.Enqueue(req) {
		return "busy, try again later"
	}
	return ""
}

// Run polls for updates until ctx is done.
func (in *Input) Run(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(in.log))
	sup.Go("telegram.queue", in.queue.Run)
	if in.b.bot != nil {
		sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
			<-c.Done()
			in.b.bot.Stop()
		})
		sup.GoRestart("telegram.poll", 500*time.Millisecond, 10*time.Second, func(c context.Context) error {
			in.log.Info("polling started")
			in.b.bot.Start()
			in.log.Info("polling stopped")
			if c.Err() == nil {
				return errors.New("telegram: polling stopped unexpectedly")
			}
			return nil
		})
	}
	<-ctx.Done()
	// Long polling may hold the connection for a while; do not block shutdown on it.
	wait, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := sup.Wait(wait); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (in *Input) Exit(context.Context) error { return nil }
