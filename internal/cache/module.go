package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"wearnotify/pkg/logx"
)

// ModuleCache stores raw byte blobs namespaced by handler name.
type ModuleCache struct {
	root string
	log  logx.Logger
}

func NewModuleCache(root string, log logx.Logger) *ModuleCache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ModuleCache{root: root, log: log.With(logx.String("cache", "module"))}
}

// Path returns the directory of one handler's blobs.
func (c *ModuleCache) Path(module string) string {
	return filepath.Join(c.root, filepath.Base(module))
}

func (c *ModuleCache) file(module, name string) (string, error) {
	name = strings.TrimSpace(name)
	if module == "" || name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("cache: invalid module file %q/%q", module, name)
	}
	return filepath.Join(c.Path(module), name), nil
}

func (c *ModuleCache) Put(module, name string, data []byte) error {
	path, err := c.file(module, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	c.log.Debug("put", logx.String("module", module), logx.String("file", name))
	return writeFileAtomic(path, data)
}

func (c *ModuleCache) Get(module, name string) ([]byte, error) {
	path, err := c.file(module, name)
	if err != nil {
		return nil, ErrNotFound
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.log.Debug("not cached", logx.String("module", module), logx.String("file", name))
		return nil, ErrNotFound
	}
	return b, err
}

func (c *ModuleCache) Exists(module, name string) bool {
	path, err := c.file(module, name)
	if err != nil {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func (c *ModuleCache) Remove(module, name string) error {
	path, err := c.file(module, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
