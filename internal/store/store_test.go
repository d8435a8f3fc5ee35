package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{
		"meta", "handle_identities", "assignments", "master_selection",
		"usage_records", "usage_events", "shields", "tombstones", "monitor_registrations",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "1",
	} {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.PutAssignment(testEntry("a", "learning", tx.NextSeq())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		_, ok, err := tx.GetAssignment("a")
		require.NoError(t, err)
		assert.False(t, ok, "rolled back write must not be observed")
		return nil
	}))
}

func TestView_RejectsWrites(t *testing.T) {
	s := createTestStore(t)

	err := s.View(context.Background(), func(tx *Tx) error {
		return tx.PutAssignment(testEntry("a", "learning", 1))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestClock_ResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Update(ctx, func(tx *Tx) error {
		tx.NextSeq()
		tx.NextSeq()
		tx.NextSeq()
		return nil
	}))
	assert.Equal(t, int64(3), s1.Seq())
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, int64(3), s2.Seq(), "clock resumes from persisted seq")
	require.NoError(t, s2.Update(ctx, func(tx *Tx) error {
		assert.Equal(t, int64(4), tx.NextSeq())
		return nil
	}))
}

func TestClock_Next(t *testing.T) {
	c := NewClockAt(100)
	assert.Equal(t, int64(100), c.Current())
	assert.Equal(t, int64(101), c.Next())
	assert.Equal(t, int64(102), c.Next())
	assert.Equal(t, int64(102), c.Current())
}
