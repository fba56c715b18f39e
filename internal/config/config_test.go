package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"wearnotify/internal/pipeline"
	"wearnotify/pkg/logx"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadJSONDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"logging":{"level":"debug","console":true},"pipeline":{}}`)

	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pc, err := cfg.PipelineDefaults()
	if err != nil {
		t.Fatal(err)
	}
	def := pipeline.DefaultConfig()
	if pc.Step != -1 || pc.MaxPacketLength != 126 || pc.PacketsCount != 16 ||
		pc.PacketDelay != def.PacketDelay || pc.InitialDelay != def.InitialDelay || pc.AfterLimit != pipeline.AfterUserAction {
		t.Fatalf("unexpected defaults: %+v", pc)
	}
	if cfg.Data() != DefaultDataPath || cfg.ShardSize() != 262144 || cfg.MnemonicMode() != 1 {
		t.Fatalf("unexpected top-level defaults")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"pipline":{}}`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("unknown top-level key accepted")
	}
}

func TestLoadYAMLAndTOML(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "config.yaml")
	writeFile(t, yml, `
data_path: /tmp/wn
pipeline_engine: windowed
pipeline:
  step: 1
  max_packet_length: 40
  packet_delay: 2s
handlers:
  echo:
    prefix: ">> "
    ENTER_CONTEXT: true
`)
	cfg, err := NewConfigManager(yml).Load()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	pc, _ := cfg.PipelineDefaults()
	if pc.Step != 1 || pc.MaxPacketLength != 40 || pc.PacketDelay != 2*time.Second {
		t.Fatalf("yaml pipeline: %+v", pc)
	}
	if e, _ := cfg.Engine(); e.Name() != pipeline.EngineWindowed {
		t.Fatalf("engine = %s", e.Name())
	}
	var echo map[string]any
	if err := json.Unmarshal(cfg.Handlers["echo"], &echo); err != nil || echo["prefix"] != ">> " {
		t.Fatalf("handler section: %v %v", echo, err)
	}

	tml := filepath.Join(dir, "config.toml")
	writeFile(t, tml, `
pipeline_engine = "batched"

[pipeline]
limit_type = "bytes"
max_packet_length = 64
after_limit = "finish"

[cache]
cleanup_cron = "0 4 * * *"
`)
	cfg, err = NewConfigManager(tml).Load()
	if err != nil {
		t.Fatalf("toml: %v", err)
	}
	pc, _ = cfg.PipelineDefaults()
	if pc.LimitType != pipeline.LimitBytes || pc.AfterLimit != pipeline.AfterFinish {
		t.Fatalf("toml pipeline: %+v", pc)
	}
}

func TestValidate(t *testing.T) {
	bad := []string{
		`{"pipeline":{"step":0}}`,
		`{"pipeline":{"limit_type":"words"}}`,
		`{"pipeline":{"packet_delay":"soon"}}`,
		`{"pipeline_engine":"tulip"}`,
		`{"cache":{"cleanup_cron":"every day"}}`,
		`{"storage":{"driver":"mongo","path":"x"}}`,
		`{"telegram":{"output":true}}`,
		`{"mnemonic":{"default_mode":3}}`,
	}
	dir := t.TempDir()
	for i, body := range bad {
		path := filepath.Join(dir, "c"+string(rune('a'+i))+".json")
		writeFile(t, path, body)
		if _, err := NewConfigManager(path).Load(); err == nil {
			t.Fatalf("%s accepted", body)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	cases := map[string]time.Duration{
		"":       0,
		"1250":   1250 * time.Millisecond,
		"2s":     2 * time.Second,
		" 1m30s": 90 * time.Second,
	}
	for raw, want := range cases {
		got, err := ParseDurationField("x", raw)
		if err != nil || got != want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	for _, raw := range []string{"soon", "-1s", "-5"} {
		if _, err := ParseDurationField("x", raw); err == nil {
			t.Fatalf("ParseDurationField(%q) accepted", raw)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "0", time.Second); d != time.Second {
		t.Fatalf("zero did not fall back: %v", d)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Handlers: map[string]json.RawMessage{"echo": json.RawMessage(`{"a":1,"b":2}`)}}
	b := &Config{
		Handlers: map[string]json.RawMessage{"echo": json.RawMessage(`{ "b":2, "a":1 }`), "kb": json.RawMessage(`{}`)},
		Telegram: TelegramConfig{Token: "secret"},
	}
	changed, attrs, handlers := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "telegram,handlers" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(handlers, ",") != "kb" {
		t.Fatalf("handlers = %v", handlers)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"pipeline":{"max_packet_length":10}}`)
	m := NewConfigManager(path)
	m.SetLogger(logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	var rejected atomic.Int32
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Pipeline.MaxPacketLength == 13 {
			rejected.Add(1)
			return os.ErrInvalid
		}
		return nil
	})
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{"pipeline":{"max_packet_length":20}}`)

	select {
	case cfg := <-sub:
		if cfg.Pipeline.MaxPacketLength != 20 {
			t.Fatalf("published %d", cfg.Pipeline.MaxPacketLength)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
	if m.Get().Pipeline.MaxPacketLength != 20 {
		t.Fatalf("config not committed")
	}
}
