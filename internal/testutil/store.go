// Package testutil provides shared fixtures for tests: a per-test store,
// handle factories and recording fakes for the external collaborators
// (picker, enforcement capability, usage monitor).
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/screentime/internal/store"
)

// OpenStore opens a fresh SQLite store in t.TempDir and closes it on cleanup.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	return OpenStoreAt(t, filepath.Join(t.TempDir(), "screentime.db"))
}

// OpenStoreAt opens the store at path and closes it on cleanup. Opening the
// same path twice simulates a process restart.
func OpenStoreAt(t *testing.T, path string) *store.Store {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
