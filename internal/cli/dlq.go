package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// DLQItem is one dead-lettered work item in the command's output.
type DLQItem struct {
	Kind         string    `json:"kind"`
	Namespace    string    `json:"namespace"`
	MessageID    string    `json:"message_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	ReceiveCount int       `json:"receive_count"`
}

// NewDLQCommand creates the dlq command.
func NewDLQCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect dead-lettered work items",
		Long: `List work items that exhausted their delivery budget. Inspection is
non-destructive; items stay in the dead-letter queue.

Examples:
  secondbrain dlq --db ./data
  secondbrain dlq --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDLQ(rootOpts, cmd)
		},
	}
	return cmd
}

func runDLQ(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	p, err := openPipeline(ctx, opts)
	if err != nil {
		return err
	}
	defer p.Close()

	dead, err := p.queue.DeadLetters(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read dead letters", err)
	}

	items := make([]DLQItem, 0, len(dead))
	for _, dl := range dead {
		items = append(items, DLQItem{
			Kind:         dl.Item.Kind,
			Namespace:    dl.Item.Namespace,
			MessageID:    dl.Item.MessageID,
			EnqueuedAt:   dl.EnqueuedAt,
			ReceiveCount: dl.ReceiveCount,
		})
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return out.Success(items)
	}

	w := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(w, "Dead-letter queue is empty.")
		return nil
	}
	for _, item := range items {
		fmt.Fprintf(w, "%s  %s/%s  enqueued %s  deliveries %d\n",
			item.Kind, item.Namespace, item.MessageID,
			item.EnqueuedAt.Format(time.RFC3339), item.ReceiveCount)
	}
	return nil
}
