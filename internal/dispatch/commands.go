package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"wearnotify/pkg/logx"
)

// CommandFunc runs an out-of-context command. args is the input after the
// command name.
type CommandFunc func(ctx context.Context, args string) error

// Command is either a function or a request that is dispatched again
// through the normal delegation path.
type Command struct {
	Func         CommandFunc
	Request      string
	OutOfContext bool
}

type commandFile struct {
	Request      string `json:"request"`
	OutOfContext bool   `json:"out_of_context"`
}

// Commands is the out-of-context command table.
type Commands struct {
	mu sync.RWMutex
	m  map[string]Command
}

func NewCommands() *Commands { return &Commands{m: map[string]Command{}} }

// LoadCommands reads commands.json: an object of name to either a request
// string or {"request": ..., "out_of_context": bool}. A missing file yields
// an empty table.
func LoadCommands(path string, log logx.Logger) (*Commands, error) {
	c := NewCommands()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("commands %s: %w", path, err)
	}
	for name, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			c.m[name] = Command{Request: s}
			continue
		}
		var f commandFile
		if err := json.Unmarshal(v, &f); err != nil || f.Request == "" {
			log.Warn("command ignored", logx.String("command", name))
			continue
		}
		c.m[name] = Command{Request: f.Request, OutOfContext: f.OutOfContext}
	}
	return c, nil
}

// Define registers a function command.
func (c *Commands) Define(name string, fn CommandFunc) {
	c.mu.Lock()
	c.m[name] = Command{Func: fn}
	c.mu.Unlock()
}

// DefineRequest registers a command that re-dispatches request.
func (c *Commands) DefineRequest(name, request string, outOfContext bool) {
	c.mu.Lock()
	c.m[name] = Command{Request: request, OutOfContext: outOfContext}
	c.mu.Unlock()
}

// Lookup matches the first word of input against the table.
func (c *Commands) Lookup(input string) (Command, string, bool) {
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	if name == "" {
		return Command{}, "", false
	}
	c.mu.RLock()
	cmd, ok := c.m[name]
	c.mu.RUnlock()
	return cmd, strings.TrimSpace(args), ok
}

func (c *Commands) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.m))
	for k := range c.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
