package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"wearnotify/pkg/logx"
)

// DefaultShardSize is the byte size after which a new shard is opened.
const DefaultShardSize int64 = 262144

// RequestCache maps request strings to response strings across numbered
// shard files. Lookups scan newest shard first.
type RequestCache struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	log     logx.Logger
}

func NewRequestCache(dir string, maxSize int64, log logx.Logger) (*RequestCache, error) {
	if maxSize <= 0 {
		maxSize = DefaultShardSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: request dir: %w", err)
	}
	return &RequestCache{dir: dir, maxSize: maxSize, log: log.With(logx.String("cache", "request"))}, nil
}

func (c *RequestCache) Dir() string { return c.dir }

// shardIDs lists integer-named shard files, highest first.
func (c *RequestCache) shardIDs() []int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("list shards failed", logx.Err(err))
		return nil
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(e.Name())
		if err != nil || id < 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	return ids
}

func (c *RequestCache) shardPath(id int) string {
	return filepath.Join(c.dir, strconv.Itoa(id))
}

// load reads one shard. A missing or corrupt shard reads as empty.
func (c *RequestCache) load(id int) map[string]string {
	m := map[string]string{}
	if err := readJSON(c.shardPath(id), &m); err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("unreadable shard treated as empty", logx.Int("shard", id), logx.Err(err))
		}
		return map[string]string{}
	}
	return m
}

func (c *RequestCache) findLocked(key string) (int, map[string]string, bool) {
	for _, id := range c.shardIDs() {
		m := c.load(id)
		if _, ok := m[key]; ok {
			return id, m, true
		}
	}
	return 0, nil, false
}

// Put stores value under key. An existing key is updated in its own shard;
// new keys go to the newest shard, or to a fresh one once it is over size.
func (c *RequestCache) Put(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, m, ok := c.findLocked(key); ok {
		m[key] = value
		return c.writeShard(id, m)
	}

	id := 0
	if ids := c.shardIDs(); len(ids) > 0 {
		id = ids[0]
	}
	path := c.shardPath(id)
	st, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := c.writeShard(id, map[string]string{}); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("cache: stat shard %d: %w", id, err)
	case st.Size() > c.maxSize:
		id++
		c.log.Debug("opening new shard", logx.Int("shard", id))
		return c.writeShard(id, map[string]string{key: value})
	}

	m := c.load(id)
	m[key] = value
	c.log.Debug("put", logx.Int("shard", id))
	return c.writeShard(id, m)
}

func (c *RequestCache) writeShard(id int, m map[string]string) error {
	if err := writeJSON(c.shardPath(id), m); err != nil {
		return fmt.Errorf("cache: write shard %d: %w", id, err)
	}
	return nil
}

// Find returns the id of the newest shard holding key.
func (c *RequestCache) Find(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, _, ok := c.findLocked(key)
	return id, ok
}

func (c *RequestCache) Has(key string) bool {
	_, ok := c.Find(key)
	return ok
}

func (c *RequestCache) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, m, ok := c.findLocked(key)
	if !ok {
		return "", ErrNotFound
	}
	return m[key], nil
}

// Remove drops key from the shard holding it.
func (c *RequestCache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, m, ok := c.findLocked(key)
	if !ok {
		return ErrNotFound
	}
	delete(m, key)
	c.log.Debug("removed", logx.Int("shard", id))
	return c.writeShard(id, m)
}
