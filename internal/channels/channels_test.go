package channels

import (
	"context"
	"testing"

	"wearnotify/internal/delivery"
	"wearnotify/internal/dispatch"
	"wearnotify/pkg/logx"
)

type countingDispatcher struct {
	got chan Request
}

func (c *countingDispatcher) Submit(_ context.Context, input string, _ delivery.Continuation, opts dispatch.ProcessOptions) (dispatch.Result, error) {
	c.got <- Request{Input: input, Opts: opts}
	return dispatch.Result{}, nil
}

func TestIsDigits(t *testing.T) {
	for in, want := range map[string]bool{"": false, "0": true, "0123": true, "12a": false, "１２": false, " 1": false} {
		if got := IsDigits(in); got != want {
			t.Fatalf("IsDigits(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	d := &countingDispatcher{got: make(chan Request, 4)}
	q := NewQueue(d, nil, 1, logx.Nop())
	if !q.Enqueue(Request{Input: "a"}) {
		t.Fatalf("first enqueue rejected")
	}
	if q.Enqueue(Request{Input: "b"}) {
		t.Fatalf("second enqueue should be dropped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	if r := <-d.got; r.Input != "a" {
		t.Fatalf("got %q", r.Input)
	}
	if !q.Enqueue(Request{Input: "c", Opts: DigitOptions}) {
		t.Fatalf("enqueue after drain rejected")
	}
	if r := <-d.got; r.Input != "c" || !r.Opts.Mnemonic {
		t.Fatalf("got %+v", r)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run = %v", err)
	}
}
