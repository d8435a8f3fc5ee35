// Package sharedkv is the key-value store shared with the out-of-process
// usage monitor.
//
// The monitor cannot put data in its notification, so it writes an event
// descriptor under a well-known key and then signals. The core treats any
// change of that key as "re-read that key". Keys are files in one directory;
// writes go to a temp file and are renamed into place, so a reader never
// observes a half-written value.
package sharedkv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tempPrefix marks in-flight writes. Watchers ignore these names.
const tempPrefix = ".tmp-"

// Dir is a directory-backed key-value store.
type Dir struct {
	path string
}

// Open returns the store rooted at path, creating the directory if needed.
func Open(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("open shared kv: empty path")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("open shared kv %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open shared kv %s: %w", path, err)
	}
	return &Dir{path: abs}, nil
}

// Path returns the root directory.
func (d *Dir) Path() string {
	return d.path
}

// ValidKey reports whether key can be stored: non-empty, no path separators,
// not starting with a dot.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

func (d *Dir) file(key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("shared kv: invalid key %q", key)
	}
	return filepath.Join(d.path, key), nil
}

// Get returns the value stored under key. ok is false if the key is absent.
func (d *Dir) Get(key string) (value []byte, ok bool, err error) {
	name, err := d.file(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("shared kv get %s: %w", key, err)
	}
	return data, true, nil
}

// Put atomically replaces the value under key.
func (d *Dir) Put(key string, value []byte) error {
	name, err := d.file(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.path, tempPrefix+key+"-*")
	if err != nil {
		return fmt.Errorf("shared kv put %s: %w", key, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("shared kv put %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("shared kv put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("shared kv put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("shared kv put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (d *Dir) Delete(key string) error {
	name, err := d.file(key)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("shared kv delete %s: %w", key, err)
	}
	return nil
}
