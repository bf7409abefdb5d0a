package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"speakerline/internal/logging"
	"speakerline/internal/queue"
)

var timeNow = time.Now

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the task queue",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueSweepCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show group and task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.wantJSON(cmd.OutOrStdout()) {
					return writeJSON(cmd, queueStatsPayload(stats))
				}
				fmt.Fprint(cmd.OutOrStdout(), renderQueueStats(stats))
				return nil
			})
		},
	}
}

type queueStatsJSON struct {
	Groups        int            `json:"groups"`
	ExpiredGroups int            `json:"expired_groups"`
	Tasks         map[string]int `json:"tasks"`
}

func queueStatsPayload(stats queue.Stats) queueStatsJSON {
	tasks := make(map[string]int, len(stats.Tasks))
	for status, count := range stats.Tasks {
		tasks[string(status)] = count
	}
	return queueStatsJSON{Groups: stats.Groups, ExpiredGroups: stats.ExpiredGroups, Tasks: tasks}
}

func buildQueueStatsRows(stats queue.Stats) [][]string {
	rows := [][]string{
		{"groups", strconv.Itoa(stats.Groups)},
		{"expired groups", strconv.Itoa(stats.ExpiredGroups)},
	}
	for _, status := range queue.AllStatuses {
		rows = append(rows, []string{"tasks " + string(status), strconv.Itoa(stats.Tasks[status])})
	}
	return rows
}

func renderQueueStats(stats queue.Stats) string {
	if stats.Groups == 0 && stats.TotalTasks() == 0 {
		return "Queue is empty\n"
	}
	return renderTable([]string{"Entry", "Count"}, buildQueueStatsRows(stats), []columnAlignment{alignLeft, alignRight})
}

func newQueueSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim abandoned tasks and purge expired results now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				janitor := queue.NewJanitor(store, logging.NewNop(), cfg.SweepInterval(), cfg.HeartbeatTimeout())
				result, err := janitor.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if result.Skipped {
					fmt.Fprintln(out, "Another process is sweeping the queue; nothing done")
					return nil
				}
				fmt.Fprintf(out, "Requeued %d, failed %d, purged %d expired group(s)\n",
					result.Requeued, result.Failed, result.Purged)
				return nil
			})
		},
	}
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired results (or everything with --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				var (
					removed int64
					err     error
				)
				if all {
					removed, err = store.PurgeAll(cmd.Context())
				} else {
					removed, err = store.PurgeExpired(cmd.Context(), timeNow())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d group(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every group, including in-flight jobs")
	return cmd
}
