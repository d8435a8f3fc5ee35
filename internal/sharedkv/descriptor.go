package sharedkv

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/screentime/internal/domain"
)

// DefaultEventKey is the well-known key the monitor writes threshold
// descriptors under.
const DefaultEventKey = "threshold-event"

// EventDescriptor is what the monitor writes for one threshold callback.
// Generation is the registration generation the monitor was started with;
// Sequence counts callbacks within that generation.
type EventDescriptor struct {
	Scope            string              `cbor:"1,keyasint" json:"scope"`
	Generation       int64               `cbor:"2,keyasint" json:"generation"`
	Sequence         int64               `cbor:"3,keyasint" json:"sequence"`
	Handle           domain.OpaqueHandle `cbor:"4,keyasint" json:"handle"`
	ThresholdSeconds int64               `cbor:"5,keyasint" json:"threshold_seconds"`
	OccurredAt       int64               `cbor:"6,keyasint" json:"occurred_at"` // unix seconds
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sharedkv: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("sharedkv: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeDescriptor encodes d with core deterministic CBOR, so identical
// descriptors always produce identical bytes.
func EncodeDescriptor(d EventDescriptor) ([]byte, error) {
	data, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	return data, nil
}

// DecodeDescriptor decodes and validates a descriptor.
func DecodeDescriptor(data []byte) (EventDescriptor, error) {
	var d EventDescriptor
	if err := decMode.Unmarshal(data, &d); err != nil {
		return EventDescriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if d.Scope == "" {
		return EventDescriptor{}, fmt.Errorf("decode descriptor: missing scope")
	}
	if d.ThresholdSeconds <= 0 {
		return EventDescriptor{}, fmt.Errorf("decode descriptor: threshold_seconds must be > 0, got %d", d.ThresholdSeconds)
	}
	return d, nil
}

// PutDescriptor encodes d and stores it under key.
func (d *Dir) PutDescriptor(key string, desc EventDescriptor) error {
	data, err := EncodeDescriptor(desc)
	if err != nil {
		return err
	}
	return d.Put(key, data)
}

// GetDescriptor reads and decodes the descriptor under key.
func (d *Dir) GetDescriptor(key string) (EventDescriptor, bool, error) {
	data, ok, err := d.Get(key)
	if err != nil || !ok {
		return EventDescriptor{}, ok, err
	}
	desc, err := DecodeDescriptor(data)
	if err != nil {
		return EventDescriptor{}, true, fmt.Errorf("key %s: %w", key, err)
	}
	return desc, true, nil
}
