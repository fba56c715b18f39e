package cache

import (
	"strings"
	"sync"
)

// RuntimeCache is an in-process name -> bytes map. It is not persisted.
type RuntimeCache struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewRuntimeCache() *RuntimeCache {
	return &RuntimeCache{m: map[string][]byte{}}
}

func (c *RuntimeCache) Set(name string, data []byte) {
	c.mu.Lock()
	c.m[name] = append([]byte(nil), data...)
	c.mu.Unlock()
}

func (c *RuntimeCache) Get(name string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.m[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

func (c *RuntimeCache) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.m[name]
	return ok
}

// Remove deletes name and reports whether it was present.
func (c *RuntimeCache) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[name]
	delete(c.m, name)
	return ok
}

// Evict removes owner and every name under the "owner/" prefix. It
// returns the number of removed entries.
func (c *RuntimeCache) Evict(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.m {
		if k == owner || strings.HasPrefix(k, owner+"/") {
			delete(c.m, k)
			n++
		}
	}
	return n
}

func (c *RuntimeCache) Clear() {
	c.mu.Lock()
	clear(c.m)
	c.mu.Unlock()
}

// Size is the total length of all payloads.
func (c *RuntimeCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, b := range c.m {
		n += len(b)
	}
	return n
}
