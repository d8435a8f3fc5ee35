package domain

// CapabilityHandle is the opaque, process-local reference the platform hands
// out for a selected item. Implementations are owned by the picker's result
// set; the core reduces a handle to a Fingerprint and drops it before the
// operation that received it returns.
type CapabilityHandle interface {
	// ExternalID returns a platform-stable identifier, when the platform
	// exposes one for this item.
	ExternalID() (string, bool)

	// OpaqueBytes returns the handle's internal byte representation. An error
	// means the handle cannot be hashed at all.
	OpaqueBytes() ([]byte, error)

	// Label returns a display name, available only in narrow rendering
	// contexts. Never used for identity.
	Label() (string, bool)
}

// OpaqueHandle is a value implementation of CapabilityHandle used by the
// shared-KV event descriptor, handle files and tests.
type OpaqueHandle struct {
	External string `json:"external_id,omitempty" cbor:"1,keyasint,omitempty"`
	Opaque   []byte `json:"opaque,omitempty" cbor:"2,keyasint,omitempty"`
	Name     string `json:"label,omitempty" cbor:"3,keyasint,omitempty"`
}

// HandleSpec is the textual form of an OpaqueHandle used by YAML handle
// files and scenarios. Opaque is taken as raw UTF-8 bytes.
type HandleSpec struct {
	ExternalID string `yaml:"external_id,omitempty" json:"external_id,omitempty"`
	Opaque     string `yaml:"opaque,omitempty" json:"opaque,omitempty"`
	Label      string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Handle converts s to an OpaqueHandle.
func (s HandleSpec) Handle() OpaqueHandle {
	h := OpaqueHandle{External: s.ExternalID, Name: s.Label}
	if s.Opaque != "" {
		h.Opaque = []byte(s.Opaque)
	}
	return h
}

// ExternalID implements CapabilityHandle.
func (h OpaqueHandle) ExternalID() (string, bool) {
	return h.External, h.External != ""
}

// OpaqueBytes implements CapabilityHandle. A handle without bytes is opaque
// even at byte level.
func (h OpaqueHandle) OpaqueBytes() ([]byte, error) {
	if len(h.Opaque) == 0 {
		return nil, NewIdentityResolutionError("handle exposes no opaque bytes", nil)
	}
	return h.Opaque, nil
}

// Label implements CapabilityHandle.
func (h OpaqueHandle) Label() (string, bool) {
	return h.Name, h.Name != ""
}

// Fingerprint is everything the core keeps of a handle once the operation that
// received it returns.
type Fingerprint struct {
	Hash       HandleHash `json:"hash"`
	ExternalID string     `json:"external_id,omitempty"`
	Label      string     `json:"label,omitempty"` // display hint only
}

// FingerprintHandle reduces a handle to its permanent hash. It is pure: it
// touches no storage. When the handle exposes opaque bytes they are hashed;
// otherwise the external identifier is hashed in its own domain. A handle
// that has neither fails with an IDENTITY_RESOLUTION error.
func FingerprintHandle(h CapabilityHandle) (Fingerprint, error) {
	if h == nil {
		return Fingerprint{}, NewIdentityResolutionError("nil capability handle", nil)
	}

	var fp Fingerprint
	ext, hasExt := h.ExternalID()
	if hasExt {
		fp.ExternalID = ext
	}
	if label, ok := h.Label(); ok {
		fp.Label = NormalizeLabel(label)
	}

	raw, err := h.OpaqueBytes()
	switch {
	case err == nil && len(raw) > 0:
		fp.Hash = HashHandleBytes(raw)
	case hasExt:
		fp.Hash = HashExternalID(ext)
	default:
		if err == nil {
			err = NewIdentityResolutionError("handle exposes no opaque bytes", nil)
		}
		if !IsIdentityResolutionError(err) {
			err = NewIdentityResolutionError("cannot read handle bytes", err)
		}
		return Fingerprint{}, err
	}
	return fp, nil
}
