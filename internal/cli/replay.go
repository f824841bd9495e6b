package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkeller/secondbrain/internal/replay"
	"github.com/jkeller/secondbrain/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Namespace   string
	From        string
	To          string
	TargetDB    string
	MaxAttempts int
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild derived state from the journal",
		Long: `Read the namespace's journal records in order and process each into a
separate target database. The journal and the live store are never
written. The run's agent calls are live, so results match a fresh
processing of the same messages.

Exit codes:
  0 - Replay completed (individual message failures are reported, not fatal)
  1 - One or more messages failed during replay
  2 - Command error (config, backend, or journal failure)

Examples:
  secondbrain replay --ns user-1 --target-db ./rebuilt.db
  secondbrain replay --ns user-1 --from 2026-01-01T00:00:00Z --to 2026-02-01T00:00:00Z --target-db ./jan.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplayCmd(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "ns", "", "namespace to replay (required)")
	_ = cmd.MarkFlagRequired("ns")
	cmd.Flags().StringVar(&opts.TargetDB, "target-db", "", "path to the target SQLite database (required)")
	_ = cmd.MarkFlagRequired("target-db")
	cmd.Flags().StringVar(&opts.From, "from", "", "start of the time range (RFC 3339, inclusive)")
	cmd.Flags().StringVar(&opts.To, "to", "", "end of the time range (RFC 3339, inclusive)")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", -1, "transient retry budget for agent calls (default: the worker's)")

	return cmd
}

func runReplayCmd(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	from, to, err := parseRange(opts.From, opts.To)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid time range", err)
	}

	p, err := openPipeline(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	target, err := store.Open(opts.TargetDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open target database", err)
	}
	defer target.Close()

	maxAttempts := p.cfg.Worker.MaxAttempts
	if opts.MaxAttempts >= 0 {
		maxAttempts = opts.MaxAttempts
	}
	engine := replay.New(p.journal, newInvoker(p.cfg.Agent),
		replay.WithLogger(p.logger),
		replay.WithMaxAttempts(maxAttempts),
	)
	report, err := engine.Replay(ctx, opts.Namespace, from, to, target)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		if err := out.Success(report); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Replayed %d message(s) into %s\n", report.MessagesReplayed, opts.TargetDB)
		fmt.Fprintf(w, "  Tasks:     %d\n", report.TasksCreated)
		fmt.Fprintf(w, "  Todos:     %d\n", report.TodosCreated)
		fmt.Fprintf(w, "  Reminders: %d\n", report.RemindersCreated)
		if report.Failures > 0 {
			fmt.Fprintf(w, "  Failures:  %d\n", report.Failures)
		}
	}

	if report.Failures > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d message(s) failed during replay", report.Failures))
	}
	return nil
}

func parseRange(fromStr, toStr string) (from, to time.Time, err error) {
	if fromStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if toStr != "" {
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to is before --from")
	}
	return from, to, nil
}
