package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/testutil"
)

// Scenario defines a scripted run of the engine and what must hold after it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rates overrides the default points rates (10 learning, 5 reward).
	Rates *RatesSpec `yaml:"rates,omitempty"`

	// ThresholdSeconds is the monitor threshold (default 60).
	ThresholdSeconds int64 `yaml:"threshold_seconds,omitempty"`

	// Steps run in order against one engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// RatesSpec is the per-category points rate.
type RatesSpec struct {
	Learning int64 `yaml:"learning"`
	Reward   int64 `yaml:"reward"`
}

// Step is one engine operation.
type Step struct {
	// Do names the operation: select, commit, cancel, remove, usage, rate,
	// unlock, relock, verify, restart.
	Do string `yaml:"do"`

	Category     string            `yaml:"category,omitempty"`
	Handles      []HandleArg       `yaml:"handles,omitempty"`
	PickerErrors []string          `yaml:"picker_errors,omitempty"`
	Moves        []string          `yaml:"moves,omitempty"`
	Overrides    map[string]string `yaml:"overrides,omitempty"`

	ID string `yaml:"id,omitempty"`

	Handle    *HandleArg `yaml:"handle,omitempty"`
	Seconds   int64      `yaml:"seconds,omitempty"`
	Stale     bool       `yaml:"stale,omitempty"`
	Redeliver bool       `yaml:"redeliver,omitempty"`

	Rate *int64 `yaml:"rate,omitempty"`

	// Expect overrides the default expectation that the step succeeds.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies how a step must end.
type ExpectClause struct {
	// Error is the expected error code (e.g. CONFLICT).
	Error string `yaml:"error,omitempty"`

	// Outcome is the expected ingest outcome (applied, shielded, stale,
	// orphaned, duplicate) or verify outcome (ok, mismatch).
	Outcome string `yaml:"outcome,omitempty"`

	// Pending and Orphans check the PendingView returned by select.
	Pending *int `yaml:"pending,omitempty"`
	Orphans *int `yaml:"orphans,omitempty"`
}

// HandleArg is a handle in a scenario: a bare name or a full spec.
type HandleArg struct {
	domain.HandleSpec
	name string
}

// UnmarshalYAML accepts a scalar name or a mapping.
func (h *HandleArg) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		h.name = node.Value
		return nil
	}
	var spec domain.HandleSpec
	if err := node.Decode(&spec); err != nil {
		return err
	}
	h.HandleSpec = spec
	return nil
}

// Handle returns the capability handle h stands for.
func (h HandleArg) Handle() domain.OpaqueHandle {
	if h.name != "" {
		return testutil.Handle(h.name)
	}
	return h.HandleSpec.Handle()
}

// Key is how steps refer to h: its label, or the name it was given.
func (h HandleArg) Key() string {
	if h.name != "" {
		return h.name
	}
	if h.Label != "" {
		return h.Label
	}
	if h.ExternalID != "" {
		return h.ExternalID
	}
	return h.Opaque
}

// Step operations.
const (
	OpSelect  = "select"
	OpCommit  = "commit"
	OpCancel  = "cancel"
	OpRemove  = "remove"
	OpUsage   = "usage"
	OpRate    = "rate"
	OpUnlock  = "unlock"
	OpRelock  = "relock"
	OpVerify  = "verify"
	OpRestart = "restart"
)

// Assertion validates the final state.
type Assertion struct {
	// Type is one of snapshot, assignment, trace_contains, trace_count,
	// trace_order, final_state.
	Type string `yaml:"type"`

	// Category is used by snapshot and assignment.
	Category string `yaml:"category,omitempty"`

	// Rows are the expected snapshot rows, in order (snapshot).
	Rows []RowExpect `yaml:"rows,omitempty"`

	// TotalSeconds and TotalPoints check snapshot totals.
	TotalSeconds *int64 `yaml:"total_seconds,omitempty"`
	TotalPoints  *int64 `yaml:"total_points,omitempty"`

	// ID is the item checked by assignment. An empty Category asserts the
	// item is unassigned.
	ID string `yaml:"id,omitempty"`

	// Op and Outcome are used by trace_contains and trace_count.
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	// Ops is the expected op order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Table, Where and Expect query a store table (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// RowExpect is a subset match against one snapshot row.
type RowExpect struct {
	ID         string `yaml:"id,omitempty"`
	Label      string `yaml:"label,omitempty"`
	PointsRate *int64 `yaml:"points_rate,omitempty"`
	Seconds    *int64 `yaml:"seconds,omitempty"`
	Points     *int64 `yaml:"points,omitempty"`
	Shielded   *bool  `yaml:"shielded,omitempty"`
}

// Assertion type constants.
const (
	AssertSnapshot      = "snapshot"
	AssertAssignment    = "assignment"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertTraceOrder    = "trace_order"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir whose base name
// matches filter (a glob; empty matches everything), sorted by path.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.ThresholdSeconds < 0 {
		return fmt.Errorf("threshold_seconds must be positive")
	}
	if s.Rates != nil && (s.Rates.Learning < 0 || s.Rates.Reward < 0) {
		return fmt.Errorf("rates must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateCategory(c string) error {
	if _, err := domain.ParseCategory(c); err != nil {
		return err
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Do {
	case OpSelect:
		if err := validateCategory(step.Category); err != nil {
			return err
		}
		for _, e := range step.PickerErrors {
			switch e {
			case "transient", "timeout", "denied":
			default:
				return fmt.Errorf("unknown picker error %q", e)
			}
		}
	case OpCommit:
		if err := validateCategory(step.Category); err != nil {
			return err
		}
		for label, c := range step.Overrides {
			if err := validateCategory(c); err != nil {
				return fmt.Errorf("override %s: %w", label, err)
			}
		}
	case OpRemove, OpUnlock, OpRelock:
		if step.ID == "" {
			return fmt.Errorf("%s: id is required", step.Do)
		}
	case OpUsage:
		if step.Redeliver {
			return nil
		}
		if step.Handle == nil {
			return fmt.Errorf("usage: handle is required")
		}
		if step.Seconds <= 0 {
			return fmt.Errorf("usage: seconds must be positive")
		}
	case OpRate:
		if step.ID == "" || step.Rate == nil {
			return fmt.Errorf("rate: id and rate are required")
		}
	case OpCancel, OpVerify, OpRestart:
	case "":
		return fmt.Errorf("do is required")
	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	if step.Expect != nil && step.Expect.Error != "" && step.Expect.Outcome != "" {
		return fmt.Errorf("expect: error and outcome are mutually exclusive")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertSnapshot:
		return validateCategory(a.Category)
	case AssertAssignment:
		if a.ID == "" {
			return fmt.Errorf("id is required for assignment")
		}
		if a.Category != "" {
			return validateCategory(a.Category)
		}
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("op is required for trace_contains")
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("op is required for trace_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("ops list is required for trace_order")
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("table is required for final_state")
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for final_state")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
