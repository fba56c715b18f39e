package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriterLoggerKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "pipeline"))
	log.Info("packet rolled", Int("len", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "pipeline" {
		t.Fatalf("comp = %v", m["comp"])
	}
	if m["len"] != float64(3) {
		t.Fatalf("len = %v", m["len"])
	}
	if m["message"] != "packet rolled" {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("expected zero logger")
	}
	l.Info("ignored")
}

func TestFormatRemoteJSON(t *testing.T) {
	out := formatRemoteJSON([]byte(`{"level":"warn","message":"low battery","comp":"delivery"}`))
	if !strings.HasPrefix(out, "[WARN] low battery") {
		t.Fatalf("unexpected: %q", out)
	}
	if !strings.Contains(out, "- comp=delivery") {
		t.Fatalf("missing field: %q", out)
	}
}
