package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"swarmenc/internal/encode"
	"swarmenc/internal/logging"
	"swarmenc/internal/remote"
	"swarmenc/internal/worker"
)

func newWorkCommand(ctx *commandContext) *cobra.Command {
	var workers int
	var threads int

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run a worker pool against the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target, err := ctx.target()
			if err != nil {
				return err
			}

			if workers <= 0 {
				workers = cfg.Worker.Workers
			}
			if threads <= 0 {
				threads = cfg.Worker.Threads
			}

			workDir, err := os.MkdirTemp(cfg.Paths.WorkDir, "swarmenc-work-")
			if err != nil {
				return fmt.Errorf("create work directory: %w", err)
			}
			defer os.RemoveAll(workDir)

			logger, err := logging.NewFromConfig(cfg, "swarmenc-work")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			pool := worker.NewPool(worker.Options{
				Client:  remote.NewClient(target),
				Runner:  encode.NewPipeline(cfg.Worker.FFmpeg, cfg.Worker.Aomenc, cfg.Worker.Vpxenc, logger),
				WorkDir: workDir,
				Workers: workers,
				Threads: threads,
				Logger:  logger,
			})
			pool.Run()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-signals
				pool.Stop("interrupted")
			}()

			displayPool(cmd, pool)

			if reason := pool.StopReason(); reason != "" && reason != "interrupted" {
				return fmt.Errorf("%s", reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent workers (default from config)")
	cmd.Flags().IntVar(&threads, "threads", 0, "Encoder threads per worker (default from config)")
	return cmd
}

// displayPool blocks until the pool stops, refreshing worker status lines
// once per second on a terminal and logging nothing otherwise.
func displayPool(cmd *cobra.Command, pool *worker.Pool) {
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastLines := 0
	for {
		select {
		case <-pool.Wait():
			if tty && lastLines > 0 {
				fmt.Fprint(cmd.OutOrStdout(), "\n")
			}
			return
		case <-ticker.C:
			if !tty {
				continue
			}
			states, completed, failed := pool.Snapshot()
			// Rewind over the previous frame before repainting.
			for i := 0; i < lastLines; i++ {
				fmt.Fprint(cmd.OutOrStdout(), "\033[1A\033[2K")
			}
			for _, state := range states {
				fmt.Fprintf(cmd.OutOrStdout(), "worker %2d  %s\n", state.ID, state.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed %d  failed %d  uploading %d\n",
				completed, failed, pool.Uploading())
			lastLines = len(states) + 1
		}
	}
}
