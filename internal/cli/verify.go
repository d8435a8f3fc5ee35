package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/usage"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Restore bool
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Mismatches []usage.Mismatch    `json:"mismatches"`
	Restored   []domain.LogicalID `json:"restored,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay the usage event log against stored usage",
		Long: `Replay every applied usage event and compare the result with the stored
usage records. With --restore, records that disagree are overwritten with
the replayed values.

Exit codes:
  0 - Usage records match the event log (or were restored)
  1 - One or more records differ
  2 - Command error

Example:
  screentime verify
  screentime verify --restore`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Restore, "restore", false, "overwrite records that differ from the event log")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	defer s.Close()

	ctx := cmd.Context()
	mm, err := s.engine.Verify(ctx)
	if err != nil {
		return f.Fail(engineExitError("verify failed", err))
	}
	res := VerifyResult{Mismatches: mm}
	if res.Mismatches == nil {
		res.Mismatches = []usage.Mismatch{}
	}

	if opts.Restore && len(mm) > 0 {
		ids, err := s.engine.RestoreUsage(ctx)
		if err != nil {
			return f.Fail(engineExitError("restore failed", err))
		}
		res.Restored = ids
	}

	if err := f.Result(res, func(w io.Writer) {
		writeVerifyText(w, res)
	}); err != nil {
		return err
	}
	if len(mm) > 0 && !opts.Restore {
		return NewExitError(ExitFailure, fmt.Sprintf("%d usage record(s) differ from the event log", len(mm)))
	}
	return nil
}

func writeVerifyText(w io.Writer, res VerifyResult) {
	if len(res.Mismatches) == 0 {
		fmt.Fprintln(w, "✓ usage records match the event log")
		return
	}
	for _, m := range res.Mismatches {
		fmt.Fprintf(w, "✗ %s: stored %ds/%dpt, replayed %ds/%dpt\n", m.LogicalID,
			m.Stored.AccumulatedSeconds, m.Stored.AccumulatedPoints,
			m.Rebuilt.AccumulatedSeconds, m.Rebuilt.AccumulatedPoints)
	}
	if len(res.Restored) > 0 {
		fmt.Fprintf(w, "Restored %d record(s)\n", len(res.Restored))
	}
}
