package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/screentime/internal/domain"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testEntry creates an assignment entry with a derived sort key.
func testEntry(id, category string, seq int64) domain.AssignmentEntry {
	return domain.AssignmentEntry{
		LogicalID:  domain.LogicalID(id),
		Category:   domain.Category(category),
		PointsRate: 1,
		SortKey:    domain.HashHandleBytes([]byte(id)),
		Label:      id,
		Seq:        seq,
	}
}
