// Package system answers process health requests: ping, uptime and
// runtime info.
package system

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"wearnotify/internal/handler"
)

const Name = "system"

type Handler struct {
	handler.Base
	startedAt time.Time
	now       func() time.Time
}

func New() *Handler { return &Handler{now: time.Now} }

func (h *Handler) Name() string { return Name }

func (h *Handler) Init(ctx context.Context, deps handler.Deps) error {
	h.InitBase(deps, Name)
	if h.startedAt.IsZero() {
		h.startedAt = h.now()
	}
	return nil
}

func (h *Handler) Handle(ctx context.Context, body string) (any, error) {
	switch cmd := strings.ToLower(strings.TrimSpace(body)); cmd {
	case "", "ping", "health":
		return "pong", nil
	case "uptime", "up":
		return "uptime: " + durRel(h.now().Sub(h.startedAt)), nil
	case "sysinfo", "info":
		return sysinfo(), nil
	default:
		ok := false
		msg := "unknown command: " + cmd
		return handler.Structured{Status: &ok, LogMessages: []string{msg}, Message: msg}, nil
	}
}

func sysinfo() []string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mod := ""
	if bi, ok := debug.ReadBuildInfo(); ok {
		mod = bi.Main.Path + " " + bi.Main.Version
	}
	return []string{
		"go: " + runtime.Version(),
		"module: " + mod,
		fmt.Sprintf("goroutines: %d", runtime.NumGoroutine()),
		"mem_alloc: " + fmtBytes(m.Alloc),
		"mem_sys: " + fmtBytes(m.Sys),
	}
}

func (h *Handler) Help(args ...string) string { return "system ping | system uptime | system sysinfo" }

func (h *Handler) Settings() handler.Settings { return handler.Settings{NoCache: true} }

func fmtBytes(n uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1fGB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1fMB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1fKB", float64(n)/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func durRel(d time.Duration) string {
	d = d.Abs()
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
