package cache

import (
	"path/filepath"

	"wearnotify/pkg/logx"
)

// Store bundles the caches rooted at one directory.
type Store struct {
	Root     string
	Requests *RequestCache
	Modules  *ModuleCache
	Runtime  *RuntimeCache
	Allow    *AllowList

	log logx.Logger
}

// Open prepares <dataPath>/cache and loads <dataPath>/allowed_cache.json.
func Open(dataPath string, shardSize int64, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	root := filepath.Join(dataPath, "cache")
	req, err := NewRequestCache(filepath.Join(root, "requests"), shardSize, log)
	if err != nil {
		return nil, err
	}
	return &Store{
		Root:     root,
		Requests: req,
		Modules:  NewModuleCache(root, log),
		Runtime:  NewRuntimeCache(),
		Allow:    LoadAllowList(filepath.Join(dataPath, "allowed_cache.json")),
		log:      log,
	}, nil
}

// Cleanup removes cached files under the root, see Cleanup.
func (s *Store) Cleanup(force bool) (int, error) {
	n, err := Cleanup(s.Root, s.Allow, force, s.log)
	if err != nil {
		return n, err
	}
	s.log.Info("cache cleaned", logx.Int("removed", n), logx.Bool("force", force))
	return n, nil
}
