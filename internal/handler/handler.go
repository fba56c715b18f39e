// Package handler defines the contract between the dispatcher and the named
// handlers that answer requests, plus the handlers built into the router.
package handler

import (
	"context"
	"encoding/json"

	"wearnotify/internal/cache"
	"wearnotify/pkg/logx"
)

// Handler answers request bodies routed to its name.
//
// Handle returns one of: a string, a []string, a Structured (or *Structured)
// envelope, or any other value passed through opaque. A nil response means
// "nothing to deliver".
type Handler interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Exit(ctx context.Context) error
	Handle(ctx context.Context, body string) (any, error)
	Help(args ...string) string
	Settings() Settings
}

// OutOfContextHandler is implemented by handlers that accept requests
// delivered outside of the normal context flow.
type OutOfContextHandler interface {
	HandleOutOfContext(ctx context.Context, body string) (any, error)
}

// Configurable handlers receive their raw config section on load and on
// every config reload.
type Configurable interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// Deps are the shared services handed to a handler on Init.
type Deps struct {
	Logger  logx.Logger
	Modules *cache.ModuleCache
	Runtime *cache.RuntimeCache
	// Lookup resolves the help text of any handler or channel by name.
	Lookup func(name string, args ...string) (string, bool)
}

// Structured is the envelope form of a handler response.
type Structured struct {
	Status           *bool          `json:"status,omitempty"`
	LogMessages      []string       `json:"log_messages,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	PipelineOverride map[string]any `json:"pipeline_override,omitempty"`
	Message          any            `json:"message,omitempty"`
}

// Failed reports an explicit status=false.
func (s Structured) Failed() bool { return s.Status != nil && !*s.Status }

// Base gives handlers a no-op lifecycle and a logger.
// Embed it and override what is needed.
type Base struct {
	Log  logx.Logger
	Deps Deps
}

func (b *Base) InitBase(deps Deps, name string) {
	b.Deps = deps
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("handler", name))
}

func (b *Base) Exit(ctx context.Context) error { return nil }
func (b *Base) Help(args ...string) string     { return "" }
