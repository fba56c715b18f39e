// Package inputctx tracks the handler that sticky raw input is pinned to.
package inputctx

import (
	"context"
	"sync"

	"wearnotify/internal/handler"
	"wearnotify/pkg/logx"
)

// Hook observes every transition. New fields are empty when the context is
// cleared.
type Hook func(prevKey, newKey string, prev, next handler.Handler)

// State is a point-in-time view of the context.
type State struct {
	Key     string
	Handler handler.Handler
}

// Entered reports whether a handler holds the context.
func (s State) Entered() bool { return s.Handler != nil }

// Manager is the Idle / Entered(key, handler) state machine.
type Manager struct {
	mu       sync.Mutex
	log      logx.Logger
	settings func(handler.Handler) handler.Settings
	hook     Hook
	state    State
}

// New creates an idle manager. settings resolves the effective settings of
// a handler; nil uses the handler's own.
func New(settings func(handler.Handler) handler.Settings, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if settings == nil {
		settings = func(h handler.Handler) handler.Settings { return h.Settings() }
	}
	return &Manager{settings: settings, log: log.With(logx.String("component", "context"))}
}

// SetHook installs the transition hook.
func (m *Manager) SetHook(h Hook) {
	m.mu.Lock()
	m.hook = h
	m.mu.Unlock()
}

func (m *Manager) Get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Entered() bool { return m.Get().Entered() }

// Enter moves to Entered(key, h).
func (m *Manager) Enter(ctx context.Context, key string, h handler.Handler) {
	m.transition(ctx, State{Key: key, Handler: h})
}

// Clear moves to Idle.
func (m *Manager) Clear(ctx context.Context) {
	m.transition(ctx, State{})
}

func (m *Manager) transition(ctx context.Context, next State) {
	m.mu.Lock()
	prev := m.state
	hook := m.hook
	m.state = next
	m.mu.Unlock()

	if prev.Handler != nil && m.settings(prev.Handler).EnterContext {
		if err := prev.Handler.Exit(ctx); err != nil {
			m.log.Warn("handler exit failed", logx.String("handler", prev.Handler.Name()), logx.Err(err))
		}
	}
	if hook != nil {
		hook(prev.Key, next.Key, prev.Handler, next.Handler)
	}
	m.log.Debug("context changed", logx.String("from", prev.Key), logx.String("to", next.Key))
}
