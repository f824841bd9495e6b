package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkeller/secondbrain/internal/worker"
)

// NewDispatchCommand creates the dispatch command, which runs the
// outcome dispatcher until interrupted.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run the outcome dispatcher",
		Long: `Lease respond items from the work queue and deliver each message's
outcome. Delivery goes to the log transport; wire a real channel by
embedding the dispatcher in your own binary.

Examples:
  secondbrain dispatch --db ./data`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(rootOpts, cmd)
		},
	}
	return cmd
}

func runDispatch(opts *RootOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, opts)
	if err != nil {
		return err
	}
	defer p.Close()

	d := worker.NewDispatcher(p.store, p.queue, worker.LogTransport{Logger: p.logger},
		worker.WithDispatcherLogger(p.logger),
		worker.WithDispatcherVisibility(p.cfg.Queue.Visibility.Std()),
	)

	p.logger.Info("dispatcher starting", "concurrency", p.cfg.Worker.Concurrency)
	runPool(ctx, p.cfg.Worker.Concurrency, d.Run)
	p.logger.Info("dispatcher stopped")
	return nil
}
