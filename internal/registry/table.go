// Package registry maps symbolic addresses to handler names and splits raw
// input into (registry key, body).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"wearnotify/internal/handler"
	"wearnotify/pkg/logx"
)

// DefaultKey is the alias resolved through the table.
const DefaultKey = "default"

// DefaultTarget is the registry the default alias points to when the table
// does not say otherwise.
const DefaultTarget = "000"

// Table is the registry table loaded from registry.json.
type Table struct {
	mu    sync.RWMutex
	path  string
	log   logx.Logger
	extra []string
	m     map[string]string
}

// LoadTable reads path; a missing file yields an empty table. handlerNames
// are added as their own registry keys, as are the built-in names.
func LoadTable(path string, handlerNames []string, log logx.Logger) (*Table, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Table{path: path, log: log.With(logx.String("component", "registry")), extra: append([]string(nil), handlerNames...)}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the table file.
func (t *Table) Reload() error {
	m := map[string]string{}
	if t.path != "" {
		b, err := os.ReadFile(t.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			t.log.Debug("registry file missing; using defaults", logx.String("path", t.path))
		case err != nil:
			return fmt.Errorf("registry: read %s: %w", t.path, err)
		default:
			if err := json.Unmarshal(b, &m); err != nil {
				return fmt.Errorf("registry: parse %s: %w", t.path, err)
			}
		}
	}
	if _, ok := m[DefaultKey]; !ok {
		m[DefaultKey] = DefaultTarget
	}
	for _, n := range t.extra {
		if _, ok := m[n]; !ok {
			m[n] = n
		}
	}
	for _, h := range handler.Builtins() {
		m[h.Name()] = h.Name()
	}

	t.mu.Lock()
	t.m = m
	t.mu.Unlock()
	t.log.Info("registry loaded", logx.Int("entries", len(m)))
	return nil
}

// Path is the backing file.
func (t *Table) Path() string { return t.path }

func (t *Table) Lookup(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.m[key]
	return v, ok
}

// Snapshot returns a copy of the table.
func (t *Table) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.m)
}

// Set adds or replaces one entry and persists the table.
func (t *Table) Set(key, target string) error {
	key, target = strings.TrimSpace(key), strings.TrimSpace(target)
	if key == "" || target == "" {
		return errors.New("registry: empty key or target")
	}
	t.mu.Lock()
	t.m[key] = target
	snap := maps.Clone(t.m)
	t.mu.Unlock()
	return t.save(snap)
}

// Delete removes one entry and persists the table. Built-ins and the
// default alias cannot be removed.
func (t *Table) Delete(key string) error {
	if key == DefaultKey || handler.IsBuiltin(key) {
		return fmt.Errorf("registry: %q cannot be removed", key)
	}
	t.mu.Lock()
	delete(t.m, key)
	snap := maps.Clone(t.m)
	t.mu.Unlock()
	return t.save(snap)
}

func (t *Table) save(m map[string]string) error {
	if t.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

// specialNames are keys that may be addressed by name: longer than three
// characters or purely alphabetic. Longest first so that "weather2" wins
// over "weather".
func specialNames(m map[string]string) []string {
	var out []string
	for k := range m {
		if len([]rune(k)) > 3 || isAlpha(k) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
