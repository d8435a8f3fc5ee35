package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/engine"
)

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <logical-id>",
		Short: "Remove an item",
		Long: `Remove an item deliberately: its block is lifted, its usage is zeroed and
it leaves both its category and the master selection. The item keeps its
identity, so adding it again later starts from zero usage under the same
logical ID.

Example:
  screentime remove 0193f1c2-5b7e-7c1a-9d2e-3f4a5b6c7d8e`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(rootOpts, domain.LogicalID(args[0]), cmd)
		},
	}
	return cmd
}

func runRemove(opts *RootOptions, id domain.LogicalID, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := openSession(cmd, opts)
	if err != nil {
		return f.Fail(err)
	}
	defer s.Close()

	res, err := s.engine.RemoveItem(cmd.Context(), id)
	if err != nil {
		return f.Fail(engineExitError("remove failed", err))
	}
	return f.Result(res, func(w io.Writer) {
		writeRemoveText(w, res)
	})
}

func writeRemoveText(w io.Writer, res engine.RemoveResult) {
	from := "unassigned"
	if res.Category != "" {
		from = string(res.Category)
	}
	fmt.Fprintf(w, "Removed %s (was %s)\n", res.LogicalID, from)
	if res.Unshielded {
		fmt.Fprintln(w, "  block lifted")
	}
	if res.Pruned {
		fmt.Fprintln(w, "  pruned from the open selection")
	}
}
