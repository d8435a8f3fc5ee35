package identity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/screentime/internal/domain"
)

// IDGenerator mints fresh logical identifiers for handles that expose no
// platform-stable identifier.
type IDGenerator interface {
	Generate() domain.LogicalID
}

// UUIDv7Generator mints time-sortable UUIDv7 identifiers.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 in hyphenated form.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() domain.LogicalID {
	return domain.LogicalID(uuid.Must(uuid.NewV7()).String())
}

// SequenceGenerator returns "<prefix>-0001", "<prefix>-0002", ... for
// deterministic tests and scenario golden files.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix means "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next identifier in the sequence.
func (g *SequenceGenerator) Generate() domain.LogicalID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return domain.LogicalID(fmt.Sprintf("%s-%04d", g.prefix, g.n))
}

// FixedGenerator returns predetermined identifiers in order.
//
// Panics once all identifiers have been consumed, to catch a test that
// minted more identities than it expected.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []domain.LogicalID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...domain.LogicalID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined identifier.
func (g *FixedGenerator) Generate() domain.LogicalID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all identifiers exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
