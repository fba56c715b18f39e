package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"wearnotify/pkg/logx"
)

// Set is the startup registration table of handlers, one instance per name.
type Set struct {
	mu       sync.RWMutex
	log      logx.Logger
	m        map[string]Handler
	settings map[string]Settings
	order    []string
}

func NewSet(log logx.Logger) *Set {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Set{log: log, m: map[string]Handler{}, settings: map[string]Settings{}}
}

// Register adds handlers. Empty or duplicate names are rejected.
func (s *Set) Register(hs ...Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hs {
		if h == nil {
			return errors.New("handler: nil handler")
		}
		name := strings.TrimSpace(h.Name())
		if name == "" {
			return errors.New("handler: empty name")
		}
		if _, dup := s.m[name]; dup {
			return fmt.Errorf("handler: duplicate name %q", name)
		}
		s.m[name] = h
		s.settings[name] = h.Settings().WithDefaults()
		s.order = append(s.order, name)
	}
	return nil
}

func (s *Set) Get(name string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.m[name]
	return h, ok
}

func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns the registered names sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}

// Settings returns the effective settings of a handler: its declared
// settings overlaid with its config section.
func (s *Set) Settings(h Handler) Settings {
	if h == nil {
		return Settings{}.WithDefaults()
	}
	s.mu.RLock()
	st, ok := s.settings[h.Name()]
	s.mu.RUnlock()
	if !ok {
		return h.Settings().WithDefaults()
	}
	return st
}

// Configure applies raw per-handler config sections. Sections of unknown
// handlers are ignored.
func (s *Set) Configure(ctx context.Context, sections map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, h := range s.m {
		raw := sections[name]
		s.settings[name] = MergeSettings(h.Settings(), raw)
		c, ok := h.(Configurable)
		if !ok || len(raw) == 0 {
			continue
		}
		if err := safeCall(s.log, name, "config", func() error { return c.OnConfigChange(ctx, raw) }); err != nil {
			s.log.Warn("handler config rejected", logx.String("handler", name), logx.Err(err))
		}
	}
}

// InitAll initializes every handler. A handler failing Init is dropped.
func (s *Set) InitAll(ctx context.Context, deps Deps) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	for _, name := range s.order {
		h := s.m[name]
		if err := safeCall(s.log, name, "init", func() error { return h.Init(ctx, deps) }); err != nil {
			s.log.Error("handler init failed; disabled", logx.String("handler", name), logx.Err(err))
			delete(s.m, name)
			delete(s.settings, name)
			continue
		}
		kept = append(kept, name)
	}
	s.order = kept
}

// ExitAll calls Exit on every handler in reverse registration order.
func (s *Set) ExitAll(ctx context.Context) {
	s.mu.RLock()
	order := append([]string(nil), s.order...)
	s.mu.RUnlock()
	for i := len(order) - 1; i >= 0; i-- {
		h, ok := s.Get(order[i])
		if !ok {
			continue
		}
		if err := safeCall(s.log, order[i], "exit", func() error { return h.Exit(ctx) }); err != nil {
			s.log.Warn("handler exit failed", logx.String("handler", order[i]), logx.Err(err))
		}
	}
}

// Invoke calls the normal or out-of-context entrypoint of h, turning panics
// into errors. A handler without an out-of-context entrypoint gets the
// normal one.
func Invoke(ctx context.Context, log logx.Logger, h Handler, body string, outOfContext bool) (resp any, err error) {
	err = safeCall(log, h.Name(), "handle", func() error {
		if o, ok := h.(OutOfContextHandler); ok && outOfContext {
			resp, err = o.HandleOutOfContext(ctx, body)
			return err
		}
		resp, err = h.Handle(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func safeCall(log logx.Logger, name, label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in handler call",
				logx.String("handler", name),
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s.%s: %v", name, label, r)
		}
	}()
	return fn()
}
