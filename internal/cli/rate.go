package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/screentime/internal/domain"
)

// NewRateCommand creates the rate command.
func NewRateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate <logical-id> <points-per-minute>",
		Short: "Set the points rate of an item",
		Long: `Set how many points one minute of usage of an item is worth. Points
already accumulated are recomputed at the new rate.

Example:
  screentime rate com.example.docs 20`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRate(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runRate(opts *RootOptions, idArg, rateArg string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	rate, err := strconv.ParseInt(rateArg, 10, 64)
	if err != nil || rate < 0 {
		return f.Fail(NewExitError(ExitCommandError,
			fmt.Sprintf("invalid rate %q: must be a non-negative integer", rateArg)))
	}

	s, err := openSession(cmd, opts)
	if err != nil {
		return f.Fail(err)
	}
	defer s.Close()

	entry, err := s.engine.SetRate(cmd.Context(), domain.LogicalID(idArg), rate)
	if err != nil {
		return f.Fail(engineExitError("rate change failed", err))
	}
	return f.Result(entry, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s) now earns %d point(s) per minute\n",
			entry.LogicalID, entry.Category, entry.PointsRate)
	})
}
