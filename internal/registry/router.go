package registry

import (
	"strings"

	"wearnotify/internal/handler"
	"wearnotify/pkg/logx"
)

// Router resolves registry keys to handlers.
type Router struct {
	table    *Table
	handlers *handler.Set
	log      logx.Logger
}

func NewRouter(table *Table, handlers *handler.Set, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{table: table, handlers: handlers, log: log.With(logx.String("component", "router"))}
}

func (r *Router) Table() *Table { return r.table }

// Split splits body against the current table.
func (r *Router) Split(body string) (key, rest string) {
	return Split(body, r.table.Snapshot())
}

// Route resolves key. Unknown keys are logged and yield nil.
func (r *Router) Route(key string) handler.Handler {
	if handler.IsBuiltin(key) {
		if h, ok := r.handlers.Get(key); ok {
			return h
		}
	}
	if strings.EqualFold(key, DefaultKey) {
		target, _ := r.table.Lookup(DefaultKey)
		if _, ok := r.table.Lookup(target); !ok {
			r.log.Error("default registry not found", logx.String("default", target))
			return nil
		}
		key = target
	}
	name, ok := r.table.Lookup(key)
	if !ok {
		r.log.Error("registry not found", logx.String("registry", key))
		return nil
	}
	if h, ok := r.handlers.Get(name); ok {
		return h
	}
	if h, ok := r.handlers.Get(strings.TrimSuffix(name, ".py")); ok {
		return h
	}
	r.log.Error("registry target not found in handlers", logx.String("registry", key), logx.String("handler", name))
	return nil
}
