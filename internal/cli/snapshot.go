package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/screentime/internal/domain"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot <category>",
		Short: "Print the projection of a category",
		Long: `Print every item of a category in stable order with its rate, usage,
points and block state.

Examples:
  screentime snapshot learning
  screentime snapshot reward --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSnapshot(opts *RootOptions, categoryArg string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	category, err := domain.ParseCategory(categoryArg)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid category", err))
	}

	s, err := openSession(cmd, opts)
	if err != nil {
		return f.Fail(err)
	}
	defer s.Close()

	snap := s.engine.Snapshot(category)
	return f.Result(snap, func(w io.Writer) {
		writeSnapshotText(w, snap)
	})
}

func writeSnapshotText(w io.Writer, snap domain.Snapshot) {
	fmt.Fprintf(w, "%s: %d item(s), %d second(s), %d point(s)\n",
		snap.Category, len(snap.Rows), snap.TotalSeconds, snap.TotalPoints)
	for _, r := range snap.Rows {
		label := r.Label
		if label == "" {
			label = "-"
		}
		state := ""
		if r.Shielded {
			state = "  blocked"
		}
		fmt.Fprintf(w, "  %-12s %-38s rate=%d seconds=%d points=%d%s\n",
			label, r.LogicalID, r.PointsRate, r.Seconds, r.Points, state)
	}
}
