// Package telegram is the Telegram channel built on telebot. One Bot is
// shared by the output side, the input side and the remote log sink.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"wearnotify/pkg/logx"
)

const (
	Name = "telegram"

	// Telegram rejects messages above 4096 characters; keep a margin.
	messageLimit = 4000
)

// Config is the runtime form of the telegram config section.
type Config struct {
	Token          string
	ChatID         int64
	Owners         []int64
	PollTimeout    time.Duration
	Ephemeral      bool
	EphemeralDelay time.Duration
}

// api is the subset of *tele.Bot the channel uses.
type api interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

// Bot owns the telebot client.
type Bot struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
	api api
}

// NewBot connects to the Bot API (getMe) and prepares long polling.
func NewBot(cfg Config, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Bot{cfg: cfg, log: log.With(logx.String("component", "telegram")), bot: b, api: b}, nil
}

func (b *Bot) chat() *tele.Chat { return &tele.Chat{ID: b.cfg.ChatID} }

// send delivers text to the configured chat, split below the message limit.
func (b *Bot) send(text string, opts ...interface{}) ([]*tele.Message, error) {
	var out []*tele.Message
	for _, chunk := range splitText(text, messageLimit) {
		m, err := b.api.Send(b.chat(), chunk, opts...)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

// SendLog implements logx.Sink.
func (b *Bot) SendLog(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.send(text, &tele.SendOptions{DisableNotification: true, DisableWebPagePreview: true})
	return err
}

func (b *Bot) owner(id int64) bool {
	for _, o := range b.cfg.Owners {
		if o == id {
			return true
		}
	}
	return false
}

func splitText(s string, limit int) []string {
	r := []rune(s)
	if len(r) <= limit {
		return []string{s}
	}
	var out []string
	for len(r) > limit {
		cut := limit
		// Prefer a line break in the second half of the window.
		for i := limit - 1; i > limit/2; i-- {
			if r[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

// Output sends every packet as a message. With Ephemeral set, the messages
// of a batch are deleted EphemeralDelay after Finished.
type Output struct {
	b *Bot

	mu      sync.Mutex
	sent    []*tele.Message
	pending map[*time.Timer][]*tele.Message
}

func NewOutput(b *Bot) *Output {
	return &Output{b: b, pending: map[*time.Timer][]*tele.Message{}}
}

func (o *Output) Name() string { return Name }

func (o *Output) Init(context.Context) error {
	if o.b.cfg.ChatID == 0 {
		return errors.New("telegram: chat_id is required for output")
	}
	return nil
}

func (o *Output) Begin(context.Context) error {
	o.mu.Lock()
	o.sent = nil
	o.mu.Unlock()
	return nil
}

func (o *Output) Send(_ context.Context, packet string) error {
	msgs, err := o.b.send(packet)
	o.mu.Lock()
	o.sent = append(o.sent, msgs...)
	o.mu.Unlock()
	return err
}

func (o *Output) Finished(_ context.Context, count int) error {
	if !o.b.cfg.Ephemeral {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.sent
	o.sent = nil
	if len(msgs) == 0 {
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(o.b.cfg.EphemeralDelay, func() {
		o.mu.Lock()
		msgs, ok := o.pending[t]
		delete(o.pending, t)
		o.mu.Unlock()
		if ok {
			o.remove(msgs)
		}
	})
	o.pending[t] = msgs
	o.b.log.Debug("ephemeral delete scheduled", logx.Int("messages", len(msgs)), logx.Int("count", count))
	return nil
}

// Exit deletes every message still waiting for its ephemeral timer.
func (o *Output) Exit(context.Context) error {
	o.mu.Lock()
	var all []*tele.Message
	for t, msgs := range o.pending {
		if t.Stop() {
			all = append(all, msgs...)
		}
		delete(o.pending, t)
	}
	o.mu.Unlock()
	o.remove(all)
	return nil
}

func (o *Output) remove(msgs []*tele.Message) {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if err := o.b.api.Delete(m); err != nil {
			o.b.log.Warn("delete failed", logx.Int("message_id", m.ID), logx.Err(err))
		}
	}
}

func (o *Output) Help(...string) string {
	if o.b.cfg.Ephemeral {
		return fmt.Sprintf("telegram: sends packets to chat %d and deletes them %s after delivery", o.b.cfg.ChatID, o.b.cfg.EphemeralDelay)
	}
	return fmt.Sprintf("telegram: sends packets to chat %d", o.b.cfg.ChatID)
}
