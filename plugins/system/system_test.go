package system

import (
	"context"
	"strings"
	"testing"
	"time"

	"wearnotify/internal/handler"
)

func TestHandle(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	h := New()
	h.now = func() time.Time { return now }
	ctx := context.Background()
	if err := h.Init(ctx, handler.Deps{}); err != nil {
		t.Fatalf("init: %v", err)
	}

	if got, _ := h.Handle(ctx, ""); got != "pong" {
		t.Fatalf("ping = %#v", got)
	}
	now = start.Add(2*time.Hour + 5*time.Minute)
	if got, _ := h.Handle(ctx, "uptime"); got != "uptime: 2h5m" {
		t.Fatalf("uptime = %#v", got)
	}
	got, _ := h.Handle(ctx, "sysinfo")
	lines, ok := got.([]string)
	if !ok || !strings.HasPrefix(lines[0], "go: go") {
		t.Fatalf("sysinfo = %#v", got)
	}
	got, _ = h.Handle(ctx, "reboot")
	if s, ok := got.(handler.Structured); !ok || !s.Failed() {
		t.Fatalf("unknown command = %#v", got)
	}
}

func TestFormatters(t *testing.T) {
	cases := map[uint64]string{512: "512B", 2048: "2.0KB", 3 << 20: "3.0MB", 5 << 30: "5.0GB"}
	for n, want := range cases {
		if got := fmtBytes(n); got != want {
			t.Fatalf("fmtBytes(%d) = %q, want %q", n, got, want)
		}
	}
	if got := durRel(-42 * time.Second); got != "42s" {
		t.Fatalf("durRel = %q", got)
	}
	if got := durRel(61 * time.Second); got != "1m1s" {
		t.Fatalf("durRel = %q", got)
	}
}
