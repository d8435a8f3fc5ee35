package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash domains. Each domain string is zero-padded to a 32-byte blake3 key so
// equal input under different domains never collides. The version suffix
// allows a future algorithm migration.
const (
	DomainHandle     = "screentime.handle.v1"
	DomainExternalID = "screentime.external-id.v1"
	DomainEvent      = "screentime.event.v1"
)

func domainKey(domain string) []byte {
	if len(domain) > 32 {
		panic(fmt.Sprintf("hash domain %q exceeds 32 bytes", domain))
	}
	key := make([]byte, 32)
	copy(key, domain)
	return key
}

// hashWithDomain computes a keyed blake3 digest of data under domain.
func hashWithDomain(domain string, data []byte) string {
	h, err := blake3.NewKeyed(domainKey(domain))
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic(err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashHandleBytes returns the permanent HandleHash of opaque handle bytes.
func HashHandleBytes(raw []byte) HandleHash {
	return HandleHash(HandleHashPrefix + hashWithDomain(DomainHandle, raw))
}

// HashExternalID returns the HandleHash used as sort key for a handle that
// exposes only a platform-stable identifier.
func HashExternalID(id string) HandleHash {
	return HandleHash(HandleHashPrefix + hashWithDomain(DomainExternalID, []byte(id)))
}

// EventID computes the identity of one physical threshold event from the
// canonical JSON of its descriptor fields. Redelivery of the same descriptor
// yields the same ID.
func EventID(fields map[string]any) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}
