// Package assignment maintains the persisted LogicalID -> Category map and
// enforces that an item belongs to at most one category.
//
// The map is never overwritten wholesale. Every write is a per-key merge
// scoped to the keys the caller names.
package assignment

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/store"
)

// Rates are the default points-per-minute of each category.
type Rates struct {
	Learning int64
	Reward   int64
}

// For returns the default rate of c.
func (r Rates) For(c domain.Category) int64 {
	if c == domain.CategoryReward {
		return r.Reward
	}
	return r.Learning
}

// Store applies assignment rules on top of a store transaction.
type Store struct {
	rates  Rates
	logger *slog.Logger
}

// New creates an assignment store using rates for new and moved entries.
func New(rates Rates, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rates: rates, logger: logger}
}

// AssignOptions controls a single Assign.
type AssignOptions struct {
	AllowMove bool              // permit moving from the other category
	Label     string            // display hint; empty keeps the stored label
	SortKey   domain.HandleHash // permanent sort key; empty keeps the stored key
}

// Change describes one written assignment.
type Change struct {
	LogicalID domain.LogicalID
	From      domain.Category // empty for a new entry
	To        domain.Category
}

// Moved reports whether the change crossed categories.
func (c Change) Moved() bool {
	return c.From != "" && c.From != c.To
}

// Assign sets the category of id. It fails with a CONFLICT error if id is
// assigned to the other category and opts.AllowMove is false.
func (s *Store) Assign(tx *store.Tx, id domain.LogicalID, category domain.Category, opts AssignOptions) (domain.AssignmentEntry, *Change, error) {
	plan, err := s.plan(tx, id, category, opts)
	if err != nil {
		return domain.AssignmentEntry{}, nil, err
	}
	if err := s.apply(tx, plan); err != nil {
		return domain.AssignmentEntry{}, nil, err
	}
	return plan.entry, plan.change, nil
}

// MergeOptions controls MergeCommit. Maps are keyed by LogicalID.
type MergeOptions struct {
	AllowMove domain.IDSet
	Labels    map[domain.LogicalID]string
	SortKeys  map[domain.LogicalID]domain.HandleHash
}

// MergeResult is the outcome of a MergeCommit.
type MergeResult struct {
	// Assignments is the full map after the merge.
	Assignments map[domain.LogicalID]domain.Category

	// Changes lists written entries in LogicalID order. Unchanged keys are
	// not rewritten and do not appear.
	Changes []Change
}

// MergeCommit merges the keys of updates that are also in scope into the
// existing map. Keys outside scope are never written. Every key is validated
// before anything is written, so a single conflict rejects the whole merge.
func (s *Store) MergeCommit(tx *store.Tx, updates map[domain.LogicalID]domain.Category, scope domain.IDSet, opts MergeOptions) (MergeResult, error) {
	ids := make([]domain.LogicalID, 0, len(updates))
	for id := range updates {
		if scope.Has(id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	plans := make([]plan, 0, len(ids))
	for _, id := range ids {
		p, err := s.plan(tx, id, updates[id], AssignOptions{
			AllowMove: opts.AllowMove.Has(id),
			Label:     opts.Labels[id],
			SortKey:   opts.SortKeys[id],
		})
		if err != nil {
			return MergeResult{}, err
		}
		plans = append(plans, p)
	}

	result := MergeResult{Changes: []Change{}}
	for _, p := range plans {
		if err := s.apply(tx, p); err != nil {
			return MergeResult{}, err
		}
		if p.change != nil {
			result.Changes = append(result.Changes, *p.change)
		}
	}

	all, err := s.Map(tx)
	if err != nil {
		return MergeResult{}, err
	}
	result.Assignments = all
	return result, nil
}

type plan struct {
	entry  domain.AssignmentEntry
	change *Change // nil when nothing changes
}

func (s *Store) plan(tx *store.Tx, id domain.LogicalID, category domain.Category, opts AssignOptions) (plan, error) {
	if !category.Valid() {
		return plan{}, fmt.Errorf("assign %s: invalid category %q", id, category)
	}
	if !id.Valid() {
		return plan{}, fmt.Errorf("assign: invalid logical id %q", id)
	}

	existing, ok, err := tx.GetAssignment(id)
	if err != nil {
		return plan{}, fmt.Errorf("assign %s: %w", id, err)
	}

	label := domain.NormalizeLabel(opts.Label)
	if !ok {
		key := opts.SortKey
		if key == "" {
			key = domain.HashExternalID(string(id))
		}
		entry := domain.AssignmentEntry{
			LogicalID:  id,
			Category:   category,
			PointsRate: s.rates.For(category),
			SortKey:    key,
			Label:      label,
		}
		return plan{entry: entry, change: &Change{LogicalID: id, To: category}}, nil
	}

	if existing.Category.Valid() && existing.Category != category && !opts.AllowMove {
		name := label
		if name == "" {
			name = existing.Label
		}
		return plan{}, domain.NewConflictError(id, name, existing.Category, category)
	}

	entry := existing
	changed := false
	if existing.Category != category {
		entry.Category = category
		entry.PointsRate = s.rates.For(category)
		changed = true
	}
	if label != "" && label != existing.Label {
		entry.Label = label
		changed = true
	}
	if existing.SortKey == "" && opts.SortKey != "" {
		entry.SortKey = opts.SortKey
		changed = true
	}
	if !changed {
		return plan{entry: existing}, nil
	}

	from := existing.Category
	if !from.Valid() {
		from = ""
	}
	return plan{entry: entry, change: &Change{LogicalID: id, From: from, To: category}}, nil
}

func (s *Store) apply(tx *store.Tx, p plan) error {
	if p.change == nil {
		return nil
	}
	p.entry.Seq = tx.NextSeq()
	if err := tx.PutAssignment(p.entry); err != nil {
		return fmt.Errorf("assign %s: %w", p.entry.LogicalID, err)
	}
	if p.change.Moved() {
		s.logger.Info("item moved between categories",
			"logical_id", p.entry.LogicalID,
			"from", p.change.From,
			"to", p.change.To)
	}
	return nil
}

// Map returns the full LogicalID -> Category map. Entries with an invalid
// category are omitted.
func (s *Store) Map(tx *store.Tx) (map[domain.LogicalID]domain.Category, error) {
	entries, err := tx.ListAssignments()
	if err != nil {
		return nil, err
	}
	out := make(map[domain.LogicalID]domain.Category, len(entries))
	for _, e := range entries {
		if e.Category.Valid() {
			out[e.LogicalID] = e.Category
		}
	}
	return out, nil
}

// SetRate changes the points rate of one entry.
func (s *Store) SetRate(tx *store.Tx, id domain.LogicalID, rate int64) (domain.AssignmentEntry, error) {
	if rate < 0 {
		return domain.AssignmentEntry{}, fmt.Errorf("set rate %s: rate must be >= 0, got %d", id, rate)
	}
	e, ok, err := tx.GetAssignment(id)
	if err != nil {
		return domain.AssignmentEntry{}, fmt.Errorf("set rate %s: %w", id, err)
	}
	if !ok {
		return domain.AssignmentEntry{}, domain.NewNotFoundError(id)
	}
	if e.PointsRate == rate {
		return e, nil
	}
	e.PointsRate = rate
	e.Seq = tx.NextSeq()
	if err := tx.PutAssignment(e); err != nil {
		return domain.AssignmentEntry{}, fmt.Errorf("set rate %s: %w", id, err)
	}
	return e, nil
}

// Delete removes the entry for id.
func (s *Store) Delete(tx *store.Tx, id domain.LogicalID) (bool, error) {
	return tx.DeleteAssignment(id)
}

// Repair deletes entries whose stored category is not one of the two
// categories, together with their Master membership. Every other entry is
// left untouched. Returns the removed ids.
func (s *Store) Repair(tx *store.Tx) ([]domain.LogicalID, error) {
	entries, err := tx.ListAssignments()
	if err != nil {
		return nil, fmt.Errorf("repair assignments: %w", err)
	}
	removed := []domain.LogicalID{}
	for _, e := range entries {
		if e.Category.Valid() {
			continue
		}
		if _, err := tx.DeleteAssignment(e.LogicalID); err != nil {
			return nil, fmt.Errorf("repair assignments: %w", err)
		}
		if _, err := tx.RemoveMaster(e.LogicalID); err != nil {
			return nil, fmt.Errorf("repair assignments: %w", err)
		}
		s.logger.Error("removed corrupt assignment",
			"logical_id", e.LogicalID,
			"error", domain.NewPersistenceCorruptionError(e.LogicalID,
				fmt.Sprintf("unknown category %q", e.Category)))
		removed = append(removed, e.LogicalID)
	}
	return removed, nil
}
