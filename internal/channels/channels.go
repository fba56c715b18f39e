// Package channels holds what the input channels share: the input
// contract and the request queue that feeds the dispatcher.
package channels

import (
	"context"
	"strings"
	"unicode"

	"wearnotify/internal/delivery"
	"wearnotify/internal/dispatch"
	"wearnotify/pkg/logx"
)

// Input is an input channel. Run serves until ctx is done.
type Input interface {
	Name() string
	Init(ctx context.Context) error
	Run(ctx context.Context) error
	Exit(ctx context.Context) error
}

// Dispatcher is the part of the dispatch engine inputs talk to.
type Dispatcher interface {
	Submit(ctx context.Context, input string, cont delivery.Continuation, opts dispatch.ProcessOptions) (dispatch.Result, error)
}

// Request is one queued input.
type Request struct {
	Input string
	Opts  dispatch.ProcessOptions
}

// DigitOptions are the options for a digit-only input in direct mnemonic
// mode: mapped through the mnemonics and never served from the cache.
var DigitOptions = dispatch.ProcessOptions{Mnemonic: true, DenyCache: true}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return r > unicode.MaxASCII || !unicode.IsDigit(r) }) < 0
}

// Queue serializes requests of one input channel onto a single worker so
// the listener never blocks on a running cycle.
type Queue struct {
	d    Dispatcher
	cont delivery.Continuation
	log  logx.Logger
	ch   chan Request
}

func NewQueue(d Dispatcher, cont delivery.Continuation, size int, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{d: d, cont: cont, log: log, ch: make(chan Request, max(size, 1))}
}

// Enqueue adds r without blocking. It reports false when the queue is full.
func (q *Queue) Enqueue(r Request) bool {
	select {
	case q.ch <- r:
		return true
	default:
		q.log.Warn("request dropped (queue full)", logx.Int("queue_cap", cap(q.ch)))
		return false
	}
}

// Run processes queued requests until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-q.ch:
			res, err := q.d.Submit(ctx, r.Input, q.cont, r.Opts)
			if err != nil {
				q.log.Warn("request failed", logx.String("input", r.Input), logx.Err(err))
				continue
			}
			q.log.Debug("request done", logx.String("outcome", res.Outcome), logx.String("cycle", res.CycleID))
		}
	}
}
