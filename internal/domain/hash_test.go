package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashHandleBytesDeterminism(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}

	h1 := HashHandleBytes(raw)
	h2 := HashHandleBytes([]byte{0xde, 0xad, 0xbe, 0xef})

	assert.Equal(t, h1, h2, "same content must hash identically")
	assert.True(t, h1.Valid())
	assert.True(t, strings.HasPrefix(string(h1), "hash:"))
	assert.Len(t, string(h1), len("hash:")+64)
}

func TestHashDomainsAreSeparated(t *testing.T) {
	data := []byte("com.example.books")

	assert.NotEqual(t, HashHandleBytes(data), HashExternalID(string(data)),
		"same input under different domains must not collide")
}

func TestHashChangesWithContent(t *testing.T) {
	assert.NotEqual(t, HashHandleBytes([]byte("a")), HashHandleBytes([]byte("b")))
}

func TestEventIDDeterminism(t *testing.T) {
	fields := map[string]any{
		"scope":      "daily",
		"generation": int64(3),
		"sequence":   int64(7),
		"handle":     "hash:abc",
		"seconds":    int64(60),
	}

	id1, err := EventID(fields)
	require.NoError(t, err)
	id2, err := EventID(map[string]any{
		"seconds":    int64(60),
		"handle":     "hash:abc",
		"sequence":   int64(7),
		"generation": int64(3),
		"scope":      "daily",
	})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "key insertion order must not matter")
	assert.Len(t, id1, 64)

	fields["sequence"] = int64(8)
	id3, err := EventID(fields)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestEventIDRejectsFloats(t *testing.T) {
	_, err := EventID(map[string]any{"seconds": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

type brokenHandle struct{ ext string }

func (b brokenHandle) ExternalID() (string, bool)   { return b.ext, b.ext != "" }
func (b brokenHandle) OpaqueBytes() ([]byte, error) { return nil, errors.New("sealed") }
func (b brokenHandle) Label() (string, bool)        { return "Books", true }

func TestFingerprintHandle(t *testing.T) {
	t.Run("opaque bytes", func(t *testing.T) {
		fp, err := FingerprintHandle(OpaqueHandle{Opaque: []byte("books"), Name: " Books "})
		require.NoError(t, err)
		assert.Equal(t, HashHandleBytes([]byte("books")), fp.Hash)
		assert.Equal(t, "Books", fp.Label)
		assert.Empty(t, fp.ExternalID)
	})

	t.Run("label never affects hash", func(t *testing.T) {
		a, err := FingerprintHandle(OpaqueHandle{Opaque: []byte("x"), Name: "Same"})
		require.NoError(t, err)
		b, err := FingerprintHandle(OpaqueHandle{Opaque: []byte("y"), Name: "Same"})
		require.NoError(t, err)
		assert.NotEqual(t, a.Hash, b.Hash)
	})

	t.Run("external id only", func(t *testing.T) {
		fp, err := FingerprintHandle(brokenHandle{ext: "com.example.news"})
		require.NoError(t, err)
		assert.Equal(t, HashExternalID("com.example.news"), fp.Hash)
		assert.Equal(t, "com.example.news", fp.ExternalID)
	})

	t.Run("no bytes and no external id", func(t *testing.T) {
		_, err := FingerprintHandle(brokenHandle{})
		require.Error(t, err)
		assert.True(t, IsIdentityResolutionError(err))
	})

	t.Run("nil handle", func(t *testing.T) {
		_, err := FingerprintHandle(nil)
		assert.True(t, IsIdentityResolutionError(err))
	})
}
