package domain

import "context"

// ContextItem is one entry of the picker Context: the durable reference to a
// Master member, never its handle.
type ContextItem struct {
	LogicalID LogicalID  `json:"logical_id"`
	Category  Category   `json:"category"`
	SortKey   HandleHash `json:"sort_key"`
	Label     string     `json:"label,omitempty"`
}

// PickerRequest is what the core hands the external picker when it opens.
// Items carries both categories so the picker never drops the other
// category's selections while re-rendering.
type PickerRequest struct {
	Category Category      `json:"category"`
	Items    []ContextItem `json:"items"`
}

// Picker is the external item-selection UI. Its result has no stable order
// and no guarantee that two handles for the same item compare equal.
type Picker interface {
	Present(ctx context.Context, req PickerRequest) ([]CapabilityHandle, error)
}

// EnforcementCapability is the platform primitive that blocks an item. Calls
// are best-effort: success does not mean the block is already visible.
type EnforcementCapability interface {
	Apply(ctx context.Context, id LogicalID) error
	Remove(ctx context.Context, id LogicalID) error
}

// Monitor is the out-of-process usage monitor's registration surface.
type Monitor interface {
	Start(ctx context.Context, scope string, generation, thresholdSeconds int64) error
	Stop(ctx context.Context, scope string) error
}
