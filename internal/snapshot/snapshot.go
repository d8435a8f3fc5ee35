// Package snapshot builds deterministic, read-only category projections.
//
// A projection is a pure function of assignments, usage records, Master
// membership and shield state. Rows are ordered by the permanent HandleHash
// sort key, never by LogicalID or display label, so identity repair never
// reshuffles a visible list.
package snapshot

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/store"
)

// Inputs is everything a projection depends on.
type Inputs struct {
	Assignments []domain.AssignmentEntry
	Master      []domain.MasterMember
	Usage       []domain.UsageRecord
	Shields     domain.IDSet
	Seq         int64
}

// Build projects category from in. An item appears only if it is both
// assigned to category and a Master member. Ties on sort key are broken by
// LogicalID.
func Build(category domain.Category, in Inputs) domain.Snapshot {
	master := make(map[domain.LogicalID]domain.MasterMember, len(in.Master))
	for _, m := range in.Master {
		master[m.LogicalID] = m
	}
	usage := make(map[domain.LogicalID]domain.UsageRecord, len(in.Usage))
	for _, u := range in.Usage {
		usage[u.LogicalID] = u
	}

	snap := domain.Snapshot{Category: category, Rows: []domain.SnapshotRow{}, Seq: in.Seq}
	for _, e := range in.Assignments {
		if e.Category != category {
			continue
		}
		m, ok := master[e.LogicalID]
		if !ok {
			continue
		}
		key := e.SortKey
		if key == "" {
			key = m.SortKey
		}
		u := usage[e.LogicalID]
		snap.Rows = append(snap.Rows, domain.SnapshotRow{
			SortKey:     key,
			LogicalID:   e.LogicalID,
			Category:    e.Category,
			Label:       e.Label,
			PointsRate:  e.PointsRate,
			Seconds:     u.AccumulatedSeconds,
			Points:      u.AccumulatedPoints,
			LastEventAt: u.LastEventAt,
			Shielded:    in.Shields.Has(e.LogicalID),
		})
		snap.TotalSeconds += u.AccumulatedSeconds
		snap.TotalPoints += u.AccumulatedPoints
	}

	slices.SortFunc(snap.Rows, func(a, b domain.SnapshotRow) int {
		return cmp.Or(
			cmp.Compare(a.SortKey, b.SortKey),
			cmp.Compare(a.LogicalID, b.LogicalID),
		)
	})
	return snap
}

// Load reads projection inputs inside tx.
func Load(tx *store.Tx) (Inputs, error) {
	assignments, err := tx.ListAssignments()
	if err != nil {
		return Inputs{}, fmt.Errorf("load snapshot: %w", err)
	}
	master, err := tx.ListMaster()
	if err != nil {
		return Inputs{}, fmt.Errorf("load snapshot: %w", err)
	}
	records, err := tx.ListUsage()
	if err != nil {
		return Inputs{}, fmt.Errorf("load snapshot: %w", err)
	}
	shields, err := tx.ListShields()
	if err != nil {
		return Inputs{}, fmt.Errorf("load snapshot: %w", err)
	}
	return Inputs{
		Assignments: assignments,
		Master:      master,
		Usage:       records,
		Shields:     shields,
		Seq:         tx.CurrentSeq(),
	}, nil
}

// Project loads inputs and builds the projection of category.
func Project(tx *store.Tx, category domain.Category) (domain.Snapshot, error) {
	if !category.Valid() {
		return domain.Snapshot{}, fmt.Errorf("project: invalid category %q", category)
	}
	in, err := Load(tx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return Build(category, in), nil
}

// Set holds the projection of both categories built from one read.
type Set struct {
	Learning domain.Snapshot `json:"learning"`
	Reward   domain.Snapshot `json:"reward"`
}

// Get returns the projection of category.
func (s *Set) Get(category domain.Category) domain.Snapshot {
	if category == domain.CategoryReward {
		return s.Reward
	}
	return s.Learning
}

// ProjectAll builds both projections from a single consistent read.
func ProjectAll(tx *store.Tx) (*Set, error) {
	in, err := Load(tx)
	if err != nil {
		return nil, err
	}
	return &Set{
		Learning: Build(domain.CategoryLearning, in),
		Reward:   Build(domain.CategoryReward, in),
	}, nil
}
