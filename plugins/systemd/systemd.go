// Package systemd is the systemd handler: status and start/stop/restart of
// a configured set of service units over D-Bus.
package systemd

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"wearnotify/internal/handler"
	"wearnotify/pkg/logx"
)

const (
	Name          = "systemd"
	statusTimeout = 2 * time.Second
)

type Config struct {
	Units []string `json:"units"`
}

type Handler struct {
	handler.Base

	connect func(ctx context.Context) (Manager, error)

	mu    sync.Mutex
	units []string
	mgr   Manager
}

func New() *Handler { return &Handler{connect: newDBusManager} }

func (h *Handler) Name() string { return Name }

func (h *Handler) Init(ctx context.Context, deps handler.Deps) error {
	h.InitBase(deps, Name)
	return nil
}

func (h *Handler) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	units := make([]string, 0, len(c.Units))
	for _, u := range c.Units {
		if u = strings.TrimSuffix(strings.TrimSpace(u), ".service"); u != "" {
			units = append(units, u)
		}
	}
	slices.Sort(units)
	h.mu.Lock()
	h.units = slices.Compact(units)
	h.mu.Unlock()
	return nil
}

func (h *Handler) Exit(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mgr == nil {
		return nil
	}
	err := h.mgr.Close()
	h.mgr = nil
	return err
}

// manager connects on first use.
func (h *Handler) manager(ctx context.Context) (Manager, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mgr == nil {
		m, err := h.connect(ctx)
		if err != nil {
			return nil, err
		}
		h.mgr = m
	}
	return h.mgr, nil
}

// Handle understands "list", "status [unit]" and "start|stop|restart <unit>".
// Only configured units can be touched.
func (h *Handler) Handle(ctx context.Context, body string) (any, error) {
	fields := strings.Fields(body)
	cmd := "status"
	if len(fields) > 0 {
		cmd = strings.ToLower(fields[0])
		fields = fields[1:]
	}

	h.mu.Lock()
	units := slices.Clone(h.units)
	h.mu.Unlock()
	if cmd == "list" {
		if len(units) == 0 {
			return "no managed units", nil
		}
		return units, nil
	}

	targets := units
	if len(fields) > 0 {
		targets = nil
		for _, f := range fields {
			u := strings.TrimSuffix(f, ".service")
			if !slices.Contains(units, u) {
				return failed(fmt.Sprintf("unit %s is not managed", u)), nil
			}
			targets = append(targets, u)
		}
	}
	if len(targets) == 0 {
		return failed("no unit given"), nil
	}

	mgr, err := h.manager(ctx)
	if err != nil {
		h.Log.Warn("systemd unavailable", logx.Err(err))
		return failed(err.Error()), nil
	}

	var op func(context.Context, string) error
	switch cmd {
	case "status":
		return h.statuses(ctx, mgr, targets), nil
	case "start":
		op = mgr.Start
	case "stop":
		op = mgr.Stop
	case "restart":
		op = mgr.Restart
	default:
		return failed("unknown command: " + cmd), nil
	}

	out := make([]string, 0, len(targets))
	for _, u := range targets {
		if err := op(ctx, u); err != nil {
			h.Log.Warn("unit operation failed", logx.String("unit", u), logx.String("op", cmd), logx.Err(err))
			out = append(out, fmt.Sprintf("%s: %s failed: %v", u, cmd, err))
			continue
		}
		h.Log.Info("unit operation", logx.String("unit", u), logx.String("op", cmd))
		out = append(out, fmt.Sprintf("%s: %s ok", u, cmd))
	}
	return out, nil
}

func (h *Handler) statuses(ctx context.Context, mgr Manager, units []string) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		sctx, cancel := context.WithTimeout(ctx, statusTimeout)
		st, err := mgr.Status(sctx, u)
		cancel()
		out = append(out, formatStatus(u, st, err))
	}
	return out
}

func formatStatus(unit string, st Status, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("%s: error: %v", unit, err)
	case !st.Found():
		return unit + ": not found"
	}
	line := fmt.Sprintf("%s: %s (%s)", unit, st.Active, st.SubState)
	if !st.Since.IsZero() {
		line += " since " + st.Since.Format("2006-01-02 15:04:05")
	}
	return line
}

func failed(msg string) handler.Structured {
	ok := false
	return handler.Structured{Status: &ok, LogMessages: []string{msg}, Message: msg}
}

func (h *Handler) Help(args ...string) string {
	return "systemd list | systemd status [unit...] | systemd start|stop|restart <unit...>"
}

func (h *Handler) Settings() handler.Settings { return handler.Settings{NoCache: true} }
