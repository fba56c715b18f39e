package httpin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"wearnotify/internal/delivery"
	"wearnotify/internal/dispatch"
	"wearnotify/internal/metrics"
	"wearnotify/pkg/logx"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

type notes struct {
	mu  sync.Mutex
	all []string
}

func (n *notes) notify(_ context.Context, text string) error {
	n.mu.Lock()
	n.all = append(n.all, text)
	n.mu.Unlock()
	return nil
}

func (n *notes) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.all) == 0 {
		return ""
	}
	return n.all[len(n.all)-1]
}

type recordingDispatcher struct {
	got chan string
}

func (r *recordingDispatcher) Submit(_ context.Context, input string, _ delivery.Continuation, opts dispatch.ProcessOptions) (dispatch.Result, error) {
	if opts.Mnemonic && opts.DenyCache {
		input = "m:" + input
	}
	r.got <- input
	return dispatch.Result{}, nil
}

func TestComposerKeys(t *testing.T) {
	n := &notes{}
	var posted []string
	c := NewComposer(nil, n.notify, func(s string) bool { posted = append(posted, s); return true }, logx.Nop())
	ctx := context.Background()

	steps := []struct {
		key  string
		want string
	}{
		{KeyRoll, "Temp input: 1"},
		{KeyRoll, "Temp input: 2"},
		{KeyPush, "Typed: 2 | all=2"},
		{KeyRoll, "Temp input: 3"},
		{KeyPush, "Typed: 3 | all=23"},
		{KeyPush, "Posting..."},
		{KeyPush, "User action lock isn't exist"},
		{KeyFlush, "Selected mode: reverse_numberroll"},
		{KeyRoll, "Temp input: null"},
		{KeyPush, "Typed: null | all="},
		{KeyRoll, "Temp input:  "},
		{KeyRoll, "Temp input: 0"},
		{KeyPush, "Typed: 0 | all=0"},
		{KeyFlush, "What do you want? Tap input to change the input mode or flush to clean the buffer"},
		{KeyFlush, "Cleaned buffers"},
		{KeyFlush, "Selected mode: previous_roll"},
	}
	for i, st := range steps {
		if !c.Handle(ctx, st.key) {
			t.Fatalf("step %d: key %q rejected", i, st.key)
		}
		if got := n.last(); got != st.want {
			t.Fatalf("step %d: note = %q, want %q", i, got, st.want)
		}
	}
	if len(posted) != 1 || posted[0] != "23" {
		t.Fatalf("posted = %q", posted)
	}
	if c.Handle(ctx, "7") {
		t.Fatalf("unknown key accepted")
	}
}

func TestComposerExtraFlushThenRollSwitchesMode(t *testing.T) {
	n := &notes{}
	c := NewComposer(nil, n.notify, func(string) bool { return true }, logx.Nop())
	ctx := context.Background()
	c.Handle(ctx, KeyRoll)
	c.Handle(ctx, KeyPush)
	c.Handle(ctx, KeyFlush)
	c.Handle(ctx, KeyRoll)
	if got := n.last(); got != "Selected mode: reverse_numberroll" {
		t.Fatalf("note = %q", got)
	}
	if c.Buffer() != "1" {
		t.Fatalf("buffer = %q", c.Buffer())
	}
}

func TestComposerAnswersCheckpoint(t *testing.T) {
	gate := dispatch.NewGate()
	n := &notes{}
	c := NewComposer(gate, n.notify, func(string) bool { return true }, logx.Nop())

	for _, tc := range []struct {
		key  string
		want bool
	}{{KeyPush, true}, {KeyFlush, false}} {
		done := make(chan bool)
		go func() { done <- gate.Wait(context.Background()) }()
		for !gate.Waiting() {
			time.Sleep(time.Millisecond)
		}
		c.Handle(context.Background(), tc.key)
		if got := <-done; got != tc.want {
			t.Fatalf("key %s: wait = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func newTestServer(t *testing.T, mode int, m *metrics.Metrics) (*Server, *recordingDispatcher, *dispatch.Gate) {
	t.Helper()
	mnem, err := dispatch.LoadMnemonics("", mode, logx.Nop())
	if err != nil {
		t.Fatalf("mnemonics: %v", err)
	}
	gate := dispatch.NewGate()
	d := &recordingDispatcher{got: make(chan string, 8)}
	n := &notes{}
	s := New(Options{Addr: "127.0.0.1:0", Metrics: m}, d, gate, mnem, n.notify, logx.Nop())
	return s, d, gate
}

func do(t *testing.T, h http.Handler, req *http.Request) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestRoutes(t *testing.T) {
	m := metrics.New()
	s, d, gate := newTestServer(t, dispatch.ModeDirect, m)
	h := s.Handler()

	if code, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/request/echo%20hi", nil)); code != http.StatusAccepted {
		t.Fatalf("request code = %d", code)
	}
	if code, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/12", nil)); code != http.StatusAccepted {
		t.Fatalf("digits code = %d", code)
	}
	form := strings.NewReader(url.Values{"request": {"posted body"}}.Encode())
	req := httptest.NewRequest(http.MethodPost, "/", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if code, _ := do(t, h, req); code != http.StatusAccepted {
		t.Fatalf("post code = %d", code)
	}
	if code, _ := do(t, h, httptest.NewRequest(http.MethodPost, "/", nil)); code != http.StatusBadRequest {
		t.Fatalf("empty post code = %d", code)
	}
	if code, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/elsewhere", nil)); code != http.StatusNotFound {
		t.Fatalf("unknown path code = %d", code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.queue.Run(ctx)
	}()
	for i, want := range []string{"echo hi", "m:12", "posted body"} {
		if got := <-d.got; got != want {
			t.Fatalf("request %d = %q, want %q", i, got, want)
		}
	}
	cancel()
	<-done

	if code, _ := do(t, h, httptest.NewRequest(http.MethodPost, "/continue", nil)); code != http.StatusConflict {
		t.Fatalf("idle continue code = %d", code)
	}
	waited := make(chan bool)
	go func() { waited <- gate.Wait(context.Background()) }()
	for !gate.Waiting() {
		time.Sleep(time.Millisecond)
	}
	if code, _ := do(t, h, httptest.NewRequest(http.MethodPost, "/abort", nil)); code != http.StatusOK {
		t.Fatalf("abort code = %d", code)
	}
	if <-waited {
		t.Fatalf("abort should break the checkpoint")
	}

	code, body := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if code != http.StatusOK || !strings.Contains(body, "wearnotify_http_requests_total") {
		t.Fatalf("metrics code = %d body:\n%s", code, body)
	}
}

func TestComposeModeDigits(t *testing.T) {
	s, _, _ := newTestServer(t, dispatch.ModeCompose, nil)
	h := s.Handler()
	for _, key := range []string{"1", "5"} {
		if code, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/"+key, nil)); code != http.StatusOK {
			t.Fatalf("key %s code = %d", key, code)
		}
	}
	if s.Composer().Buffer() != "1" {
		t.Fatalf("buffer = %q", s.Composer().Buffer())
	}
	if code, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/9", nil)); code != http.StatusNotFound {
		t.Fatalf("unknown key code = %d", code)
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	s, d, _ := newTestServer(t, dispatch.ModeDirect, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	resp, err := http.Get("http://" + s.Addr() + "/request/ping")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("code = %d", resp.StatusCode)
	}
	if got := <-d.got; got != "ping" {
		t.Fatalf("got %q", got)
	}
	http.DefaultClient.CloseIdleConnections()
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("run: %v", err)
	}
}
