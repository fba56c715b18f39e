// Package delivery pushes packed responses through the output channels.
package delivery

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"wearnotify/pkg/logx"
)

// Channel is an output channel. Calls within one cycle are sequential.
type Channel interface {
	Name() string
	Init(ctx context.Context) error
	Begin(ctx context.Context) error
	Send(ctx context.Context, packet string) error
	Finished(ctx context.Context, count int) error
	Exit(ctx context.Context) error
}

// ValueSender is implemented by channels that accept opaque values as they
// are. Other channels receive fmt.Sprint of the value.
type ValueSender interface {
	SendValue(ctx context.Context, v any) error
}

// Helper is implemented by channels that document themselves.
type Helper interface {
	Help(args ...string) string
}

// Continuation is consulted at a batch checkpoint; false stops delivery.
type Continuation func(ctx context.Context) bool

// Observer receives delivery events (metrics).
type Observer interface {
	PacketSent(channel string, size int)
	ChannelError(channel, op string)
	Aborted()
}

type throttled struct {
	Channel
	lim *rate.Limiter
}

// Throttle limits Send on ch to rps packets per second. rps <= 0 returns ch.
func Throttle(ch Channel, rps float64) Channel {
	if rps <= 0 {
		return ch
	}
	return &throttled{Channel: ch, lim: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (t *throttled) Send(ctx context.Context, packet string) error {
	if err := t.lim.Wait(ctx); err != nil {
		return err
	}
	return t.Channel.Send(ctx, packet)
}

// Unwrap returns the throttled channel.
func (t *throttled) Unwrap() Channel { return t.Channel }

func (t *throttled) SendValue(ctx context.Context, v any) error {
	if err := t.lim.Wait(ctx); err != nil {
		return err
	}
	if vs, ok := t.Channel.(ValueSender); ok {
		return vs.SendValue(ctx, v)
	}
	return t.Channel.Send(ctx, fmt.Sprint(v))
}

func callChannel(log logx.Logger, ch Channel, op string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in channel call",
				logx.String("channel", ch.Name()),
				logx.String("op", op),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s.%s: %v", ch.Name(), op, r)
		}
		if took := time.Since(start); took > 5*time.Second {
			log.Warn("slow channel call", logx.String("channel", ch.Name()), logx.String("op", op), logx.Duration("took", took))
		}
	}()
	return fn()
}
