package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"wearnotify/internal/dispatch"
	"wearnotify/internal/handler"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type upper struct{ handler.Base }

func (h *upper) Name() string { return "upper" }

func (h *upper) Init(ctx context.Context, deps handler.Deps) error {
	h.InitBase(deps, "upper")
	return nil
}

func (h *upper) Handle(ctx context.Context, body string) (any, error) {
	return strings.ToUpper(body), nil
}

func (h *upper) Settings() handler.Settings { return handler.Settings{} }

const testConfig = `{
  "data_path": %q,
  "logging": {"level": "error", "console": true},
  "pipeline": {"step": 1, "packet_delay": "1ms", "initial_delay": "1ms"%s},
  "console": {"output": true, "separator": "--"},
  "http": {"enabled": true, "addr": "127.0.0.1:0", "metrics": true},
  "storage": {"driver": "file", "path": %q}
}`

func writeConfig(t *testing.T, path, dir, extraPipeline string) {
	t.Helper()
	body := fmt.Sprintf(testConfig, filepath.Join(dir, "data"), extraPipeline, filepath.Join(dir, "audit"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func startApp(t *testing.T) (*App, *syncBuffer, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	writeConfig(t, cfgPath, dir, "")

	out := &syncBuffer{}
	a, err := New(cfgPath, WithStdio(strings.NewReader(""), out), WithHandlers(&upper{}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Stop(ctx, StopQuit); err != nil {
			t.Errorf("stop: %v", err)
		}
	})
	return a, out, dir
}

func TestAppDeliversAndAudits(t *testing.T) {
	a, out, _ := startApp(t)
	ctx := context.Background()

	res, err := a.Engine().Submit(ctx, "upper hello", nil, dispatch.ProcessOptions{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != dispatch.OutcomeDelivered || res.Handler != "upper" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(out.String(), "HELLO\n--\n") {
		t.Fatalf("console output = %q", out.String())
	}

	entries, err := a.Store().RecentAudit(ctx, 5)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Handler != "upper" || entries[0].Packets != 1 {
		t.Fatalf("audit = %+v", entries)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	defer client.CloseIdleConnections()
	resp, err := client.Get("http://" + a.HTTPAddr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
}

func TestAppCommands(t *testing.T) {
	a, out, _ := startApp(t)
	ctx := context.Background()
	before := a.Engine().Mnemonics().Mode()
	res, err := a.Engine().Submit(ctx, "mode", nil, dispatch.ProcessOptions{})
	if err != nil || res.Outcome != dispatch.OutcomeCommand {
		t.Fatalf("mode = %+v, %v", res, err)
	}
	if a.Engine().Mnemonics().Mode() == before {
		t.Fatalf("mode did not toggle")
	}
	if !strings.Contains(out.String(), "mnemonic mode:") {
		t.Fatalf("console output = %q", out.String())
	}

	if text, ok := a.lookupHelp("console"); !ok || !strings.Contains(text, "--") {
		t.Fatalf("console help = %q, %v", text, ok)
	}
}

func TestAppReloadsConfig(t *testing.T) {
	a, _, dir := startApp(t)
	if len(a.Scheduler().Names()) != 0 {
		t.Fatalf("unexpected jobs: %v", a.Scheduler().Names())
	}
	cfgPath := filepath.Join(dir, "config.json")
	writeConfig(t, cfgPath, dir, `, "max_packet_length": 5`)
	// cleanup_cron lives in the cache section; rewrite the file with it.
	b, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	b = bytes.Replace(b, []byte(`"console":`), []byte(`"cache": {"cleanup_cron": "0 3 * * *"}, "console":`), 1)
	if err := os.WriteFile(cfgPath, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if a.pipe.Config().MaxPacketLength == 5 && len(a.Scheduler().Names()) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("config not applied: max=%d jobs=%v", a.pipe.Config().MaxPacketLength, a.Scheduler().Names())
		}
		time.Sleep(20 * time.Millisecond)
	}
}
