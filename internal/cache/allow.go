package cache

import (
	"slices"
	"sync"
)

// DefaultAllowed are never removed by a non-forced cleanup.
var DefaultAllowed = []string{"fdel", "http"}

// AllowList is the persisted set of names exempt from cleanup.
type AllowList struct {
	mu    sync.RWMutex
	path  string
	names []string
}

// LoadAllowList reads path (a JSON array) merged with DefaultAllowed.
// A missing or unreadable file yields the defaults.
func LoadAllowList(path string) *AllowList {
	var names []string
	if err := readJSON(path, &names); err != nil {
		names = nil
	}
	a := &AllowList{path: path}
	for _, n := range append(names, DefaultAllowed...) {
		if n != "" && !slices.Contains(a.names, n) {
			a.names = append(a.names, n)
		}
	}
	return a
}

func (a *AllowList) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.names)
}

func (a *AllowList) Contains(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Contains(a.names, name)
}

// Add appends name and persists the list.
func (a *AllowList) Add(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if name == "" || slices.Contains(a.names, name) {
		return nil
	}
	a.names = append(a.names, name)
	return a.saveLocked()
}

// Remove drops name and persists the list.
func (a *AllowList) Remove(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := slices.Index(a.names, name)
	if i < 0 {
		return nil
	}
	a.names = slices.Delete(a.names, i, i+1)
	return a.saveLocked()
}

func (a *AllowList) saveLocked() error {
	if a.path == "" {
		return nil
	}
	return writeJSON(a.path, a.names)
}
