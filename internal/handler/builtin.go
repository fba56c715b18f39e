package handler

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"wearnotify/internal/cache"
)

// Built-in pseudo-registry names, resolved before the registry table.
const (
	Idle = "idel"
	File = "fdel"
	Info = "help"
)

// Builtins returns fresh instances of the built-in handlers.
func Builtins() []Handler {
	return []Handler{&idle{}, &fileDelivery{}, &help{}}
}

// IsBuiltin reports whether name is a built-in pseudo-registry.
func IsBuiltin(name string) bool {
	switch name {
	case Idle, File, Info:
		return true
	}
	return false
}

// idle echoes its body and keeps the context so raw input is repeated back.
type idle struct{ Base }

func (h *idle) Name() string { return Idle }

func (h *idle) Init(ctx context.Context, deps Deps) error {
	h.InitBase(deps, Idle)
	return nil
}

func (h *idle) Handle(ctx context.Context, body string) (any, error) {
	if body == "" {
		return nil, nil
	}
	return body, nil
}

func (h *idle) Settings() Settings {
	return Settings{EnterContext: true, NoCache: true}
}

// fileDelivery returns a file from its own module cache as one line.
type fileDelivery struct{ Base }

var lineBreaks = regexp.MustCompile(`[\n\t\r]+`)

func (h *fileDelivery) Name() string { return File }

func (h *fileDelivery) Init(ctx context.Context, deps Deps) error {
	h.InitBase(deps, File)
	return nil
}

func (h *fileDelivery) Handle(ctx context.Context, body string) (any, error) {
	name := strings.TrimSpace(body)
	if h.Deps.Modules == nil || name == "" {
		return "File not found", nil
	}
	b, err := h.Deps.Modules.Get(File, name)
	if errors.Is(err, cache.ErrNotFound) {
		return "File not found", nil
	}
	if err != nil {
		return nil, err
	}
	return lineBreaks.ReplaceAllString(string(b), "|"), nil
}

func (h *fileDelivery) Help(args ...string) string {
	return "fdel <file>: send a file stored in the fdel cache directory"
}

func (h *fileDelivery) Settings() Settings { return Settings{NoCache: true} }

// help resolves the help text of a handler or channel named by the first
// word of the body.
type help struct{ Base }

const noHelp = "Help for this application wasn't written. Use external documentation files"

func (h *help) Name() string { return Info }

func (h *help) Init(ctx context.Context, deps Deps) error {
	h.InitBase(deps, Info)
	return nil
}

func (h *help) Handle(ctx context.Context, body string) (any, error) {
	words := strings.Fields(body)
	if len(words) == 0 || h.Deps.Lookup == nil {
		return noHelp, nil
	}
	text, ok := h.Deps.Lookup(words[0], words[1:]...)
	if !ok {
		return "No help for " + words[0], nil
	}
	if strings.TrimSpace(text) == "" {
		return noHelp, nil
	}
	return text, nil
}

func (h *help) Settings() Settings { return Settings{NoCache: true} }
