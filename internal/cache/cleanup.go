package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"wearnotify/pkg/logx"
)

// Cleanup removes every file under root except those whose name or parent
// directory name is allowed. force ignores the allow-list. Permission errors
// are logged and skipped. It returns the number of removed files.
func Cleanup(root string, allow *AllowList, force bool, log logx.Logger) (int, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				log.Info("skipping unreadable path", logx.String("path", path))
				return nil
			}
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !force && allow != nil &&
			(allow.Contains(d.Name()) || allow.Contains(filepath.Base(filepath.Dir(path)))) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				log.Info("skipping file due to permission error", logx.String("path", path))
				return nil
			}
			return err
		}
		log.Debug("cleaned", logx.String("path", path))
		removed++
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return removed, nil
	}
	return removed, err
}
