package cli

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkeller/secondbrain/internal/worker"
)

// NewWorkCommand creates the work command, which runs the processing
// worker pool until interrupted.
func NewWorkCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the processing worker pool",
		Long: `Lease process items from the work queue and drive messages through
the agent. Runs until interrupted. Concurrency comes from the worker
config section.

Examples:
  secondbrain work --db ./data
  secondbrain work --config prod.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWork(rootOpts, cmd)
		},
	}
	return cmd
}

func runWork(opts *RootOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, opts)
	if err != nil {
		return err
	}
	defer p.Close()

	proc := worker.NewProcessor(p.store, p.queue, newInvoker(p.cfg.Agent),
		worker.WithProcessorLogger(p.logger),
		worker.WithMaxAttempts(p.cfg.Worker.MaxAttempts),
		worker.WithBackoff(p.cfg.Worker.Backoff.Std()),
		worker.WithVisibility(p.cfg.Queue.Visibility.Std()),
	)

	p.logger.Info("worker pool starting", "concurrency", p.cfg.Worker.Concurrency)
	runPool(ctx, p.cfg.Worker.Concurrency, proc.Run)
	p.logger.Info("worker pool stopped")
	return nil
}

// runPool runs n copies of the loop until ctx is cancelled.
func runPool(ctx context.Context, n int, loop func(context.Context) error) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop(ctx)
		}()
	}
	wg.Wait()
}
