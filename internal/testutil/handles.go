package testutil

import (
	"github.com/roach88/screentime/internal/domain"
)

// Handle returns a handle whose opaque bytes are derived from name and whose
// label is name. Two calls with the same name model the same item returned by
// two picker invocations: distinct values, identical content.
func Handle(name string) domain.OpaqueHandle {
	return domain.OpaqueHandle{Opaque: []byte("opaque:" + name), Name: name}
}

// UnlabeledHandle returns a handle with content but no display label.
func UnlabeledHandle(name string) domain.OpaqueHandle {
	return domain.OpaqueHandle{Opaque: []byte("opaque:" + name)}
}

// ExternalHandle returns a handle exposing a platform-stable identifier.
func ExternalHandle(externalID, label string) domain.OpaqueHandle {
	return domain.OpaqueHandle{External: externalID, Opaque: []byte("opaque:" + externalID), Name: label}
}

// SealedHandle returns a handle that cannot be hashed at all.
func SealedHandle(label string) domain.OpaqueHandle {
	return domain.OpaqueHandle{Name: label}
}

// Hash returns the HandleHash of Handle(name).
func Hash(name string) domain.HandleHash {
	return domain.HashHandleBytes([]byte("opaque:" + name))
}

// Handles converts names to handles.
func Handles(names ...string) []domain.CapabilityHandle {
	out := make([]domain.CapabilityHandle, len(names))
	for i, n := range names {
		out[i] = Handle(n)
	}
	return out
}
