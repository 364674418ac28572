package main

import (
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/siteselect-cli/internal/engine"
	"github.com/sells-group/siteselect-cli/internal/task"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Poll for pending tasks and process them",
	Long:  "Runs a long-lived worker that claims pending tasks from the store and processes them with bounded concurrency. Stops cleanly on SIGINT/SIGTERM.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		obj, err := initStorage(ctx)
		if err != nil {
			return err
		}

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Worker.Concurrency
		}
		poll := time.Duration(cfg.Worker.PollSecs) * time.Second

		proc := task.NewProcessor(st, obj, engine.DefaultCatalog(cfg.Data.Dir), cfg.Data.ScratchDir)

		zap.L().Info("worker started",
			zap.Int("concurrency", concurrency),
			zap.Duration("poll_interval", poll),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		// Tracks task IDs currently dispatched so a slow run is not
		// re-dispatched on the next poll. The store's claim guard is
		// the real protection; this just keeps the logs quiet.
		var inflight sync.Map

		ticker := time.NewTicker(poll)
		defer ticker.Stop()

		for {
			pending, err := st.ListTasks(gctx, task.Filter{Status: task.StatusPending})
			if err != nil {
				zap.L().Warn("list pending tasks", zap.Error(err))
			}
			for _, t := range pending {
				if _, busy := inflight.LoadOrStore(t.ID, struct{}{}); busy {
					continue
				}
				id := t.ID
				started := g.TryGo(func() error {
					defer inflight.Delete(id)
					proc.ProcessTask(gctx, id)
					return nil
				})
				if !started {
					// At capacity; the task stays pending for a later poll.
					inflight.Delete(id)
				}
			}

			select {
			case <-gctx.Done():
				zap.L().Info("worker stopping, draining in-flight tasks")
				// In-flight runs observe the context at their next
				// checkpoint and exit on their own.
				_ = g.Wait()
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	workerCmd.Flags().Int("concurrency", 0, "max tasks processed at once (default from config)")
	taskCmd.AddCommand(workerCmd)
}
