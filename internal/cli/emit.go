package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/sharedkv"
	"github.com/roach88/screentime/internal/store"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Seconds    int64
	OccurredAt int64 // unix seconds; 0 means now
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <handle.yaml>",
		Short: "Write a threshold event to the shared directory",
		Long: `Act as the usage monitor: write a threshold event for one handle under the
event key of the shared directory. A running 'screentime run' picks it up.

The event carries the current monitor registration generation, so it is
accepted only while that registration is active.

Example:
  screentime emit ./books.yaml --seconds 60`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Seconds, "seconds", 0, "usage seconds the threshold represents (default: configured threshold)")
	cmd.Flags().Int64Var(&opts.OccurredAt, "at", 0, "event time in unix seconds (default: now)")

	return cmd
}

func runEmit(opts *EmitOptions, handleFile string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	handle, err := LoadHandle(handleFile)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to load handle", err))
	}
	seconds := opts.Seconds
	if seconds == 0 {
		seconds = cfg.ThresholdSeconds
	}
	if seconds <= 0 {
		return f.Fail(NewExitError(ExitCommandError, "--seconds must be positive"))
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer st.Close()

	var reg domain.Registration
	var found bool
	err = st.View(cmd.Context(), func(tx *store.Tx) error {
		var err error
		reg, found, err = tx.GetRegistration(cfg.MonitorScope)
		return err
	})
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to read monitor registration", err))
	}
	if !found || !reg.Active {
		return f.Fail(NewExitError(ExitCommandError,
			fmt.Sprintf("no active monitor registration for scope %q: start 'screentime run' first", cfg.MonitorScope)))
	}

	kv, err := sharedkv.Open(cfg.SharedDir)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to open shared directory", err))
	}

	// Sequence counts callbacks within one generation.
	seq := int64(1)
	prev, ok, err := kv.GetDescriptor(cfg.EventKey)
	if err == nil && ok && prev.Scope == reg.Scope && prev.Generation == reg.Generation {
		seq = prev.Sequence + 1
	}

	at := opts.OccurredAt
	if at == 0 {
		at = time.Now().Unix()
	}
	desc := sharedkv.EventDescriptor{
		Scope:            reg.Scope,
		Generation:       reg.Generation,
		Sequence:         seq,
		Handle:           handle,
		ThresholdSeconds: seconds,
		OccurredAt:       at,
	}
	if err := kv.PutDescriptor(cfg.EventKey, desc); err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to write event", err))
	}

	return f.Result(desc, func(w io.Writer) {
		fmt.Fprintf(w, "Emitted %ds for %s (scope %s, generation %d, sequence %d)\n",
			desc.ThresholdSeconds, handleName(handle), desc.Scope, desc.Generation, desc.Sequence)
	})
}

func handleName(h domain.OpaqueHandle) string {
	if label, ok := h.Label(); ok {
		return label
	}
	if ext, ok := h.ExternalID(); ok {
		return ext
	}
	return "unlabeled handle"
}
