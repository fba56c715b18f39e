// Package echo is the echo handler: it answers with its body, optionally
// prefixed and case-transformed. Set "enter_context" in its config section
// to keep raw input pinned to it.
package echo

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"wearnotify/internal/handler"
)

const Name = "echo"

type Config struct {
	Prefix string `json:"prefix"`
}

type Handler struct {
	handler.Base

	mu  sync.RWMutex
	cfg Config
}

func New() *Handler { return &Handler{} }

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
	h.mu.Lock()
	h.cfg = c
	h.mu.Unlock()
	return nil
}

func (h *Handler) prefix() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.Prefix
}

// Handle echoes body. "upper <text>" and "lower <text>" change the case.
func (h *Handler) Handle(ctx context.Context, body string) (any, error) {
	txt := strings.TrimSpace(body)
	if txt == "" {
		return nil, nil
	}
	verb, rest, _ := strings.Cut(txt, " ")
	switch strings.ToLower(verb) {
	case "upper":
		txt = strings.ToUpper(rest)
	case "lower":
		txt = strings.ToLower(rest)
	}
	return h.prefix() + txt, nil
}

// HandleOutOfContext answers requests sent while another handler holds
// the context.
func (h *Handler) HandleOutOfContext(ctx context.Context, body string) (any, error) {
	resp, err := h.Handle(ctx, body)
	if s, ok := resp.(string); ok {
		return "[ooc] " + s, err
	}
	return resp, err
}

func (h *Handler) Help(args ...string) string {
	return "echo <text> | echo upper <text> | echo lower <text>"
}

func (h *Handler) Settings() handler.Settings { return handler.Settings{} }
