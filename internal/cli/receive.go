package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jkeller/secondbrain/internal/ingress"
)

// ReceiveOptions holds flags for the receive command.
type ReceiveOptions struct {
	*RootOptions
	Namespace string
	Text      string
}

// ReceiveResult is the receive command's output payload.
type ReceiveResult struct {
	MessageID string `json:"message_id"`
	Namespace string `json:"namespace"`
}

// NewReceiveCommand creates the receive command.
func NewReceiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReceiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Ingest one raw message",
		Long: `Journal a raw message, store it as received, and queue it for
processing. The message ID is printed; processing happens when a worker
runs.

Exit codes:
  0 - Message accepted
  2 - Command error (config, backend, or journal failure)

Examples:
  secondbrain receive --ns user-1 --text "remind me to water the plants"
  secondbrain receive --ns user-1 --text "buy milk" --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "ns", "", "namespace the message belongs to (required)")
	_ = cmd.MarkFlagRequired("ns")
	cmd.Flags().StringVar(&opts.Text, "text", "", "raw message text (required)")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

func runReceive(opts *ReceiveOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	p, err := openPipeline(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	r := ingress.NewReceiver(p.journal, p.store, p.queue, ingress.WithLogger(p.logger))
	id, err := r.Receive(ctx, opts.Namespace, opts.Text)
	if err != nil {
		return WrapExitError(ExitCommandError, "receive failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return out.Success(ReceiveResult{MessageID: id, Namespace: opts.Namespace})
	}
	return out.Success(fmt.Sprintf("accepted %s", id))
}
