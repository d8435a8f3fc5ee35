package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", event.Seq, event.Op, event.Args, event.Outcome)
		}
	}
	return buf.String()
}

// assertSnapshot compares the projection of a category row by row. Rows
// must match in number and order; within a row only the given fields are
// compared.
func assertSnapshot(snapshots map[domain.Category]domain.Snapshot, a Assertion) error {
	category, _ := domain.ParseCategory(a.Category)
	snap := snapshots[category]

	if len(snap.Rows) != len(a.Rows) {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("%d %s rows", len(a.Rows), category),
			Actual:   fmt.Sprintf("%d rows: %s", len(snap.Rows), describeRows(snap.Rows)),
		}
	}
	for i, want := range a.Rows {
		if diff := diffRow(snap.Rows[i], want); diff != "" {
			return &AssertionError{
				Type:     AssertSnapshot,
				Expected: fmt.Sprintf("%s row %d: %s", category, i, diff),
				Actual:   describeRows(snap.Rows),
			}
		}
	}
	if a.TotalSeconds != nil && snap.TotalSeconds != *a.TotalSeconds {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("%s total_seconds = %d", category, *a.TotalSeconds),
			Actual:   fmt.Sprintf("%d", snap.TotalSeconds),
		}
	}
	if a.TotalPoints != nil && snap.TotalPoints != *a.TotalPoints {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("%s total_points = %d", category, *a.TotalPoints),
			Actual:   fmt.Sprintf("%d", snap.TotalPoints),
		}
	}
	return nil
}

// diffRow returns the first mismatching field, or "".
func diffRow(row domain.SnapshotRow, want RowExpect) string {
	switch {
	case want.ID != "" && string(row.LogicalID) != want.ID:
		return fmt.Sprintf("id %s, got %s", want.ID, row.LogicalID)
	case want.Label != "" && row.Label != want.Label:
		return fmt.Sprintf("label %q, got %q", want.Label, row.Label)
	case want.PointsRate != nil && row.PointsRate != *want.PointsRate:
		return fmt.Sprintf("points_rate %d, got %d", *want.PointsRate, row.PointsRate)
	case want.Seconds != nil && row.Seconds != *want.Seconds:
		return fmt.Sprintf("seconds %d, got %d", *want.Seconds, row.Seconds)
	case want.Points != nil && row.Points != *want.Points:
		return fmt.Sprintf("points %d, got %d", *want.Points, row.Points)
	case want.Shielded != nil && row.Shielded != *want.Shielded:
		return fmt.Sprintf("shielded %t, got %t", *want.Shielded, row.Shielded)
	}
	return ""
}

func describeRows(rows []domain.SnapshotRow) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("%s(%s %ds %dp shielded=%t)", r.LogicalID, r.Label, r.Seconds, r.Points, r.Shielded)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// assertAssignment checks the committed category of one item.
func assertAssignment(ctx context.Context, st *store.Store, a Assertion) error {
	var (
		entry domain.AssignmentEntry
		ok    bool
	)
	err := st.View(ctx, func(tx *store.Tx) error {
		var err error
		entry, ok, err = tx.GetAssignment(domain.LogicalID(a.ID))
		return err
	})
	if err != nil {
		return fmt.Errorf("assignment %s: %w", a.ID, err)
	}

	want := "unassigned"
	if a.Category != "" {
		c, _ := domain.ParseCategory(a.Category)
		want = string(c)
	}
	got := "unassigned"
	if ok {
		got = string(entry.Category)
	}
	if want != got {
		return &AssertionError{
			Type:     AssertAssignment,
			Expected: fmt.Sprintf("%s %s", a.ID, want),
			Actual:   got,
		}
	}
	return nil
}

// assertTraceContains checks that a step with the op (and outcome, if
// given) was executed.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Op == a.Op && (a.Outcome == "" || event.Outcome == a.Outcome) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s with outcome %q", a.Op, a.Outcome),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that op appears exactly Count times, restricted
// to Outcome when given.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == a.Op && (a.Outcome == "" || event.Outcome == a.Outcome) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that ops appear in the given order. Intervening
// steps are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Ops) && event.Op == a.Ops[next] {
			next++
		}
	}
	if next < len(a.Ops) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("ops in order: %v", a.Ops),
			Actual:   fmt.Sprintf("missing %s after position %d", a.Ops[next], next),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks one row of a store table. Queries are
// parameterized; table and column names are validated against a whitelist
// pattern.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}
	whereSQL, whereArgs, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", a.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}
	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := make(map[string]any, len(columns))
	for i, col := range columns {
		actual[col] = values[i]
	}
	keys := sortedKeys(a.Expect)
	for _, key := range keys {
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(a.Expect[key], got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, a.Expect[key], a.Expect[key]),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	keys := sortedKeys(where)
	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		if !validIdentifier.MatchString(k) {
			return "", nil, fmt.Errorf("invalid column name %q: must match pattern %s", k, validIdentifier.String())
		}
		conds = append(conds, k+" = ?")
		args = append(args, toSQLValue(where[k]))
	}
	return strings.Join(conds, " AND "), args, nil
}

// toSQLValue converts YAML booleans to SQLite integers.
func toSQLValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(all rows)"
	}
	keys := sortedKeys(where)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, where[k])
	}
	return strings.Join(parts, ", ")
}

// stateValuesEqual compares a YAML value with a SQLite column value. YAML
// integers decode as int, SQLite integers scan as int64, text may scan as
// []byte.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	switch e := expected.(type) {
	case int:
		a, ok := actual.(int64)
		return ok && a == int64(e)
	case int64:
		a, ok := actual.(int64)
		return ok && a == e
	case bool:
		a, ok := actual.(int64)
		return ok && (a != 0) == e
	case string:
		a, ok := actual.(string)
		return ok && a == e
	case nil:
		return actual == nil
	}
	return reflect.DeepEqual(expected, actual)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides store access for assertions that read state.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertSnapshot:
			err = assertSnapshot(result.Snapshots, a)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertAssignment, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, a.Type)
			} else if a.Type == AssertAssignment {
				err = assertAssignment(actx.Ctx, actx.Store, a)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
