package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"wearnotify/internal/delivery"
	"wearnotify/internal/dispatch"
	"wearnotify/internal/handler"
	"wearnotify/internal/inputctx"
	"wearnotify/pkg/logx"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

type fakeDispatcher struct {
	mu     sync.Mutex
	inputs []string
	conts  []bool
}

func (f *fakeDispatcher) Submit(ctx context.Context, input string, cont delivery.Continuation, _ dispatch.ProcessOptions) (dispatch.Result, error) {
	ok := cont(ctx)
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.conts = append(f.conts, ok)
	f.mu.Unlock()
	return dispatch.Result{Outcome: dispatch.OutcomeDelivered}, nil
}

func TestOutputSeparator(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(&buf, "")
	if err := out.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got, want := buf.String(), "hello\n========\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestInputRunsUntilQuit(t *testing.T) {
	stdin := strings.NewReader("first\n\nnext\n00\nquit\nignored\n")
	var stdout bytes.Buffer
	d := &fakeDispatcher{}
	in := NewInput(stdin, &stdout, d, nil, logx.Logger{})
	quit := false
	in.OnQuit(func() { quit = true })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := in.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !quit {
		t.Fatalf("expected quit callback")
	}
	// "first" consumes "" as its continuation answer, "next" consumes "00".
	if got := strings.Join(d.inputs, ","); got != "first,next" {
		t.Fatalf("inputs = %q", got)
	}
	if !d.conts[0] || d.conts[1] {
		t.Fatalf("continuations = %v", d.conts)
	}
	// Drain the reader goroutine.
	for range in.lines {
	}
}

type stubHandler struct{ handler.Base }

func (stubHandler) Name() string                                { return "stub" }
func (stubHandler) Init(context.Context, handler.Deps) error    { return nil }
func (stubHandler) Handle(context.Context, string) (any, error) { return nil, nil }
func (stubHandler) Settings() handler.Settings                  { return handler.Settings{} }

func TestInputPromptShowsContext(t *testing.T) {
	st := inputctx.State{Key: "007"}
	in := NewInput(strings.NewReader(""), &bytes.Buffer{}, &fakeDispatcher{}, func() inputctx.State { return st }, logx.Logger{})
	if got := in.prompt(); got != "> " {
		t.Fatalf("idle prompt = %q", got)
	}
	st.Handler = &stubHandler{}
	if got := in.prompt(); got != "(007) > " {
		t.Fatalf("entered prompt = %q", got)
	}
}

func TestInputEOFEndsRun(t *testing.T) {
	in := NewInput(strings.NewReader("quit-not\n"), &bytes.Buffer{}, &fakeDispatcher{}, nil, logx.Logger{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := in.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}
