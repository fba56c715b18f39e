// Package speedtest is the speedtest handler: it measures the link with
// speedtest.net servers and keeps a rolling history in the module cache.
package speedtest

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wearnotify/internal/config"
	"wearnotify/internal/handler"
	"wearnotify/pkg/logx"
)

const (
	Name           = "speedtest"
	defaultTimeout = 2 * time.Minute
	defaultHistory = 10
)

type Config struct {
	ServerCount     int    `json:"server_count"`
	FullTestServers int    `json:"full_test_servers"`
	SavingMode      bool   `json:"saving_mode"`
	MaxConnections  int    `json:"max_connections"`
	PingConcurrency int    `json:"ping_concurrency"`
	Timeout         string `json:"timeout"`
	DisableHTTP2    bool   `json:"disable_http2"`
	PacketLoss      bool   `json:"packet_loss"`
}

func (c Config) runConfig() (RunConfig, time.Duration, error) {
	timeout, err := config.ParseDurationField("handlers.speedtest.timeout", c.Timeout)
	if err != nil {
		return RunConfig{}, 0, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return RunConfig{
		ServerCount:       c.ServerCount,
		FullTestServers:   c.FullTestServers,
		SavingMode:        c.SavingMode,
		MaxConnections:    c.MaxConnections,
		PingConcurrency:   c.PingConcurrency,
		OperationTimeout:  timeout,
		DisableHTTP2:      c.DisableHTTP2,
		PacketLossEnabled: c.PacketLoss,
	}, timeout, nil
}

// RunFunc performs one measurement.
type RunFunc func(ctx context.Context, cfg RunConfig) (*Result, error)

type Handler struct {
	handler.Base

	run     RunFunc
	now     func() time.Time
	running atomic.Bool

	mu      sync.RWMutex
	cfg     RunConfig
	timeout time.Duration
	hist    history
}

func New() *Handler {
	return &Handler{run: Run, now: time.Now, timeout: defaultTimeout}
}

func (h *Handler) Name() string { return Name }

func (h *Handler) Init(ctx context.Context, deps handler.Deps) error {
	h.InitBase(deps, Name)
	h.mu.Lock()
	h.hist = history{mods: deps.Modules, now: h.now}
	h.mu.Unlock()
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
	rc, timeout, err := c.runConfig()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.cfg, h.timeout = rc, timeout
	h.mu.Unlock()
	return nil
}

// Handle runs a measurement on an empty body or "run"; "history [n]" and
// "stats" read the stored results.
func (h *Handler) Handle(ctx context.Context, body string) (any, error) {
	fields := strings.Fields(strings.ToLower(body))
	cmd := "run"
	if len(fields) > 0 {
		cmd = fields[0]
	}
	h.mu.RLock()
	hist := h.hist
	h.mu.RUnlock()

	switch cmd {
	case "run":
		return h.measure(ctx, hist)
	case "history":
		n := defaultHistory
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
				n = v
			}
		}
		rs, err := hist.load()
		if err != nil {
			return nil, err
		}
		if len(rs) == 0 {
			return "No speedtest history", nil
		}
		return formatHistory(rs[max(len(rs)-n, 0):]), nil
	case "stats":
		rs, err := hist.load()
		if err != nil {
			return nil, err
		}
		return formatStats(statsSince(rs, h.now().Add(-24*time.Hour))), nil
	default:
		return failed("unknown command: " + cmd), nil
	}
}

func (h *Handler) measure(ctx context.Context, hist history) (any, error) {
	if !h.running.CompareAndSwap(false, true) {
		return failed("speedtest already running"), nil
	}
	defer h.running.Store(false)

	h.mu.RLock()
	cfg, timeout := h.cfg, h.timeout
	h.mu.RUnlock()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	h.Log.Info("speedtest started", logx.Int("servers", cfg.ServerCount))
	res, err := h.run(runCtx, cfg)
	if err != nil {
		h.Log.Warn("speedtest failed", logx.Err(err))
		return failed("speedtest failed: " + err.Error()), nil
	}
	h.Log.Info("speedtest finished",
		logx.Any("download_mbps", res.DownloadMbps),
		logx.Any("upload_mbps", res.UploadMbps),
		logx.Duration("took", res.Duration),
	)
	if err := hist.add(*res); err != nil {
		h.Log.Warn("save speedtest history failed", logx.Err(err))
	}
	return formatResult(res), nil
}

func failed(msg string) handler.Structured {
	ok := false
	return handler.Structured{Status: &ok, LogMessages: []string{msg}, Message: msg}
}

func (h *Handler) Help(args ...string) string {
	return "speedtest [run] | speedtest history [n] | speedtest stats"
}

func (h *Handler) Settings() handler.Settings { return handler.Settings{NoCache: true} }
