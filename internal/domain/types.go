package domain

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// LogicalID is the stable, persisted identity of an item. It is the durable
// reference used by every table; capability handles are never persisted.
type LogicalID string

// Valid reports whether the identifier can be used as a key. A persisted
// LogicalID that fails this check indicates a corrupted mapping.
func (id LogicalID) Valid() bool {
	s := string(id)
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool { return r < 0x20 || r == 0x7f })
}

// HandleHash is the permanent content hash of a capability handle, formatted
// as "hash:" followed by 64 hex characters. It doubles as the stable sort key
// of every user-visible list.
type HandleHash string

// HandleHashPrefix prefixes every HandleHash.
const HandleHashPrefix = "hash:"

// Valid reports whether h has the HandleHash shape.
func (h HandleHash) Valid() bool {
	digest, ok := strings.CutPrefix(string(h), HandleHashPrefix)
	if !ok || len(digest) != 64 {
		return false
	}
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Category is one of exactly two mutually exclusive item categories.
type Category string

const (
	// CategoryLearning is the earning category: usage accrues points.
	CategoryLearning Category = "learning"

	// CategoryReward is the spending category: items are shielded until
	// unlocked, and usage consumes points.
	CategoryReward Category = "reward"
)

// Categories lists both categories in a fixed order.
var Categories = []Category{CategoryLearning, CategoryReward}

// Valid reports whether c is one of the two categories.
func (c Category) Valid() bool {
	return c == CategoryLearning || c == CategoryReward
}

// Other returns the opposite category.
func (c Category) Other() Category {
	if c == CategoryLearning {
		return CategoryReward
	}
	return CategoryLearning
}

// Blocked reports whether items of this category live under enforcement.
func (c Category) Blocked() bool {
	return c == CategoryReward
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q: must be one of %v", s, Categories)
	}
	return c, nil
}

// AssignmentEntry is the committed category of one item.
type AssignmentEntry struct {
	LogicalID  LogicalID  `json:"logical_id"`
	Category   Category   `json:"category"`
	PointsRate int64      `json:"points_rate"` // points per minute of usage
	SortKey    HandleHash `json:"sort_key"`
	Label      string     `json:"label,omitempty"` // display hint only, never identity
	Seq        int64      `json:"seq"`
}

// UsageRecord accumulates usage of one item.
type UsageRecord struct {
	LogicalID          LogicalID `json:"logical_id"`
	AccumulatedSeconds int64     `json:"accumulated_seconds"`
	AccumulatedPoints  int64     `json:"accumulated_points"`
	LastEventAt        int64     `json:"last_event_at"` // unix seconds, 0 if never
}

// PointsFor converts accumulated seconds to points at a per-minute rate.
func PointsFor(seconds, ratePerMinute int64) int64 {
	if seconds <= 0 || ratePerMinute <= 0 {
		return 0
	}
	return seconds * ratePerMinute / 60
}

// MasterMember is one entry of the durable Master selection.
type MasterMember struct {
	LogicalID LogicalID  `json:"logical_id"`
	SortKey   HandleHash `json:"sort_key"`
	Seq       int64      `json:"seq"`
}

// SnapshotRow is one line of a read-only category projection.
type SnapshotRow struct {
	SortKey     HandleHash `json:"sort_key"`
	LogicalID   LogicalID  `json:"logical_id"`
	Category    Category   `json:"category"`
	Label       string     `json:"label,omitempty"`
	PointsRate  int64      `json:"points_rate"`
	Seconds     int64      `json:"seconds"`
	Points      int64      `json:"points"`
	LastEventAt int64      `json:"last_event_at"`
	Shielded    bool       `json:"shielded"`
}

// Snapshot is the ordered projection of one category.
type Snapshot struct {
	Category     Category      `json:"category"`
	Rows         []SnapshotRow `json:"rows"`
	TotalSeconds int64         `json:"total_seconds"`
	TotalPoints  int64         `json:"total_points"`
	Seq          int64         `json:"seq"` // clock value the projection was built at
}

// IDSet is a set of logical identifiers.
type IDSet map[LogicalID]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...LogicalID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s IDSet) Has(id LogicalID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id LogicalID) {
	s[id] = struct{}{}
}

// Sorted returns the members in binary order.
func (s IDSet) Sorted() []LogicalID {
	out := make([]LogicalID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// UsageEvent is one applied physical threshold event. Events are the replay
// log behind UsageRecord; removal voids them instead of deleting them.
type UsageEvent struct {
	EventID    string    `json:"event_id"`
	LogicalID  LogicalID `json:"logical_id"`
	Seconds    int64     `json:"seconds"`
	OccurredAt int64     `json:"occurred_at"`
	Seq        int64     `json:"seq"`
	Voided     bool      `json:"voided"`
}

// Registration is the persisted state of one usage-monitor scope.
type Registration struct {
	Scope            string `json:"scope"`
	Generation       int64  `json:"generation"`
	Active           bool   `json:"active"`
	ThresholdSeconds int64  `json:"threshold_seconds"`
	Seq              int64  `json:"seq"`
}
