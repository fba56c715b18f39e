package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"wearnotify/internal/delivery"
	"wearnotify/internal/dispatch"
	"wearnotify/pkg/logx"
)

type fakeAPI struct {
	mu      sync.Mutex
	nextID  int
	sent    []string
	deleted []string
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, what.(string))
	return &tele.Message{ID: f.nextID, Chat: &tele.Chat{ID: 42}}, nil
}

func (f *fakeAPI) Delete(msg tele.Editable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := msg.MessageSig()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

func newTestBot(cfg Config) (*Bot, *fakeAPI) {
	api := &fakeAPI{}
	return &Bot{cfg: cfg, log: logx.Nop(), api: api}, api
}

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}
	got := splitText("aaaa\nbbbbbbbbbb", 8)
	if strings.Join(got, "") != "aaaa\nbbbbbbbbbb" {
		t.Fatalf("chunks lost text: %q", got)
	}
	for _, c := range got {
		if len([]rune(c)) > 8 {
			t.Fatalf("chunk %q over limit", c)
		}
	}
	if got[0] != "aaaa\n" {
		t.Fatalf("expected cut at newline, got %q", got[0])
	}
}

func TestOutputRequiresChat(t *testing.T) {
	b, _ := newTestBot(Config{})
	if err := NewOutput(b).Init(context.Background()); err == nil {
		t.Fatalf("expected error without chat id")
	}
}

func TestOutputEphemeralDeletesBatch(t *testing.T) {
	b, api := newTestBot(Config{ChatID: 42, Ephemeral: true, EphemeralDelay: 10 * time.Millisecond})
	out := NewOutput(b)
	ctx := context.Background()
	_ = out.Begin(ctx)
	_ = out.Send(ctx, "one")
	_ = out.Send(ctx, "two")
	if err := out.Finished(ctx, 2); err != nil {
		t.Fatalf("finished: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for api.deletedCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("deleted %d messages, want 2", api.deletedCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOutputExitFlushesPending(t *testing.T) {
	b, api := newTestBot(Config{ChatID: 42, Ephemeral: true, EphemeralDelay: time.Hour})
	out := NewOutput(b)
	ctx := context.Background()
	_ = out.Begin(ctx)
	_ = out.Send(ctx, "one")
	_ = out.Finished(ctx, 1)
	if api.deletedCount() != 0 {
		t.Fatalf("deleted too early")
	}
	_ = out.Exit(ctx)
	if api.deletedCount() != 1 {
		t.Fatalf("exit deleted %d, want 1", api.deletedCount())
	}
}

func TestSendLog(t *testing.T) {
	b, api := newTestBot(Config{ChatID: 42})
	if err := b.SendLog(context.Background(), "WARN something"); err != nil {
		t.Fatalf("send log: %v", err)
	}
	if len(api.sent) != 1 || api.sent[0] != "WARN something" {
		t.Fatalf("sent = %q", api.sent)
	}
	var _ logx.Sink = b
}

type recordingDispatcher struct {
	got chan string
}

func (r *recordingDispatcher) Submit(_ context.Context, input string, _ delivery.Continuation, opts dispatch.ProcessOptions) (dispatch.Result, error) {
	if opts.Mnemonic {
		input = "m:" + input
	}
	r.got <- input
	return dispatch.Result{}, nil
}

func TestInputRoutesText(t *testing.T) {
	b, _ := newTestBot(Config{Owners: []int64{7}})
	mnem, err := dispatch.LoadMnemonics("", dispatch.ModeCompose, logx.Nop())
	if err != nil {
		t.Fatalf("mnemonics: %v", err)
	}
	gate := dispatch.NewGate()
	d := &recordingDispatcher{got: make(chan string, 4)}
	in := NewInput(b, d, gate, mnem)
	if err := in.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	if reply := in.onText(99, "echo hi"); reply != "" {
		t.Fatalf("non-owner reply = %q", reply)
	}
	if reply := in.onText(7, "/more"); reply != "nothing is waiting" {
		t.Fatalf("/more idle reply = %q", reply)
	}

	done := make(chan bool)
	go func() { done <- gate.Wait(context.Background()) }()
	for !gate.Waiting() {
		time.Sleep(time.Millisecond)
	}
	in.onText(7, "/stop")
	if <-done {
		t.Fatalf("/stop should break the checkpoint")
	}

	if reply := in.onText(7, "/mode"); reply != "mnemonic mode: direct" {
		t.Fatalf("/mode reply = %q", reply)
	}
	in.onText(7, "12")
	in.onText(7, "echo hi")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- in.Run(ctx) }()
	if got := <-d.got; got != "m:12" {
		t.Fatalf("first = %q", got)
	}
	if got := <-d.got; got != "echo hi" {
		t.Fatalf("second = %q", got)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("run: %v", err)
	}
}
