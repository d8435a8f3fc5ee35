package sharedkv

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changed keys of a Dir.
//
// The directory is watched, not the key files: Put replaces a key by rename,
// and a watch on the old inode would go silent after the first write.
type Watcher struct {
	dir     *Dir
	keys    map[string]bool // nil watches every key
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// Watch starts watching d. When keys is non-empty only those keys are
// reported.
func (d *Dir) Watch(logger *slog.Logger, keys ...string) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("shared kv watch: %w", err)
	}
	if err := fw.Add(d.path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("shared kv watch %s: %w", d.path, err)
	}
	w := &Watcher{dir: d, watcher: fw, logger: logger}
	if len(keys) > 0 {
		w.keys = make(map[string]bool, len(keys))
		for _, k := range keys {
			w.keys[k] = true
		}
	}
	return w, nil
}

// Run calls onChange with the key of every created or rewritten entry until
// ctx is done or the watcher is closed. onChange runs on the watcher
// goroutine and must not block.
func (w *Watcher) Run(ctx context.Context, onChange func(key string)) error {
	w.logger.Debug("shared kv watcher started", "dir", w.dir.path)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if key, ok := w.keyOf(ev); ok {
				onChange(key)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("shared kv watcher error", "dir", w.dir.path, "error", err)

		case <-ctx.Done():
			w.logger.Debug("shared kv watcher stopping", "dir", w.dir.path)
			return ctx.Err()
		}
	}
}

func (w *Watcher) keyOf(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	key := filepath.Base(ev.Name)
	if strings.HasPrefix(key, tempPrefix) || !ValidKey(key) {
		return "", false
	}
	if w.keys != nil && !w.keys[key] {
		return "", false
	}
	return key, true
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
