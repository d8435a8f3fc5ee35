package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/screentime/internal/domain"
)

// GoldenJSON renders the parts of a result that golden files pin: the trace
// without error text, and both final projections without their clock value.
// The output is canonical JSON, so identical runs produce identical bytes.
func GoldenJSON(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"op":      ev.Op,
			"outcome": ev.Outcome,
			"seq":     ev.Seq,
		}
		if len(ev.Args) > 0 {
			m["args"] = ev.Args
		}
		trace[i] = m
	}

	snapshots := map[string]any{}
	for _, c := range domain.Categories {
		snapshots[string(c)] = snapshotMap(result.Snapshots[c])
	}

	return domain.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"snapshots":     snapshots,
	})
}

func snapshotMap(s domain.Snapshot) map[string]any {
	rows := make([]any, len(s.Rows))
	for i, r := range s.Rows {
		row := map[string]any{
			"sort_key":      string(r.SortKey),
			"logical_id":    string(r.LogicalID),
			"category":      string(r.Category),
			"points_rate":   r.PointsRate,
			"seconds":       r.Seconds,
			"points":        r.Points,
			"last_event_at": r.LastEventAt,
			"shielded":      r.Shielded,
		}
		if r.Label != "" {
			row["label"] = r.Label
		}
		rows[i] = row
	}
	return map[string]any{
		"rows":          rows,
		"total_seconds": s.TotalSeconds,
		"total_points":  s.TotalPoints,
	}
}

// RunWithGolden executes a scenario, fails t on any step or assertion
// failure, and compares GoldenJSON against testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	out, err := GoldenJSON(scenario.Name, result)
	if err != nil {
		return nil, err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, out)
	return result, nil
}
