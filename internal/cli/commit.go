package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/selection"
)

// CommitOptions holds flags for the commit command.
type CommitOptions struct {
	*RootOptions
	Moves []string // handle hashes or labels allowed to change category
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit <category> <handles.yaml>",
		Short: "Commit a picker selection to a category",
		Long: `Open a selection for a category, feed the handles in a file as the
picker result, and commit them.

The handles file is a YAML (or JSON) list of handles:

  - label: Books
    opaque: "opaque:Books"
  - external_id: com.example.docs
    label: Docs

Items already assigned to the other category are rejected with CONFLICT
unless named with --move, by handle hash or label.

Exit codes:
  0 - Committed
  1 - Rejected (CONFLICT, ORPHANED_HANDLE, ...)
  2 - Command error (bad arguments, unreadable file, etc.)

Examples:
  screentime commit learning ./handles.yaml
  screentime commit reward ./handles.yaml --move Books
  screentime commit reward ./handles.yaml --move hash:2884024f...`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Moves, "move", nil, "allow this handle (hash or label) to move between categories")

	return cmd
}

func runCommit(opts *CommitOptions, categoryArg, handlesFile string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	category, err := domain.ParseCategory(categoryArg)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid category", err))
	}
	handles, err := LoadHandles(handlesFile)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to load handles", err))
	}
	overrides, err := commitOverrides(category, handles, opts.Moves)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid --move", err))
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	defer s.Close()

	ctx := cmd.Context()
	view, err := s.engine.SelectWithPicker(ctx, staticPicker(handles), category)
	if err != nil {
		return f.Fail(engineExitError("selection failed", err))
	}
	f.VerboseLog("pending: %d item(s), %d orphan(s)", len(view.Items), len(view.Orphans))

	res, err := s.engine.Commit(ctx, category, overrides)
	if err != nil {
		if domain.IsConflictError(err) {
			f.VerboseLog("re-run with --move <hash|label> to move the item")
		}
		return f.Fail(engineExitError("commit failed", err))
	}

	return f.Result(res, func(w io.Writer) {
		writeCommitText(w, res)
	})
}

func writeCommitText(w io.Writer, res selection.CommitResult) {
	fmt.Fprintf(w, "Committed %d item(s) to %s\n", len(res.Resolved), res.Category)
	for _, r := range res.Resolved {
		label := r.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "  %-12s %-38s %s  %s\n", label, r.LogicalID, r.Category, r.Hash)
	}
	for _, o := range res.Orphans {
		fmt.Fprintf(w, "  pruned %s (removed at seq %d)\n", o.LogicalID, o.RemovedSeq)
	}
}

// LoadHandles reads a YAML or JSON list of handles.
func LoadHandles(path string) ([]domain.CapabilityHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []domain.HandleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	handles := make([]domain.CapabilityHandle, len(specs))
	for i, spec := range specs {
		if spec.ExternalID == "" && spec.Opaque == "" {
			return nil, fmt.Errorf("%s: handle %d has neither external_id nor opaque", path, i)
		}
		handles[i] = spec.Handle()
	}
	return handles, nil
}

// LoadHandle reads a single YAML or JSON handle.
func LoadHandle(path string) (domain.OpaqueHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.OpaqueHandle{}, err
	}
	var spec domain.HandleSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return domain.OpaqueHandle{}, fmt.Errorf("%s: %w", path, err)
	}
	if spec.ExternalID == "" && spec.Opaque == "" {
		return domain.OpaqueHandle{}, fmt.Errorf("%s: handle has neither external_id nor opaque", path)
	}
	return spec.Handle(), nil
}

// commitOverrides names every handle of the file for category. The file is
// what the user picked, not a picker re-rendering both categories, so an
// item of the other category is a CONFLICT unless --move names it by handle
// hash or label.
func commitOverrides(category domain.Category, handles []domain.CapabilityHandle, moves []string) (map[domain.HandleHash]selection.Override, error) {
	out := make(map[domain.HandleHash]selection.Override, len(handles))
	byLabel := make(map[string]domain.HandleHash)
	for _, h := range handles {
		fp, err := domain.FingerprintHandle(h)
		if err != nil {
			return nil, err
		}
		out[fp.Hash] = selection.Override{Category: category}
		if fp.Label != "" {
			byLabel[fp.Label] = fp.Hash
		}
	}

	for _, m := range moves {
		hash := domain.HandleHash(m)
		if !hash.Valid() {
			h, ok := byLabel[domain.NormalizeLabel(m)]
			if !ok {
				return nil, fmt.Errorf("%q is neither a handle hash nor a label in the handles file", m)
			}
			hash = h
		}
		out[hash] = selection.Override{Category: category, Move: true}
	}
	return out, nil
}

// staticPicker answers every presentation with the same handles.
type staticPicker []domain.CapabilityHandle

func (p staticPicker) Present(context.Context, domain.PickerRequest) ([]domain.CapabilityHandle, error) {
	return p, nil
}
