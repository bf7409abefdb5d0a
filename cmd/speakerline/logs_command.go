package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"speakerline/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		jobID  string
	)

	cmd := &cobra.Command{
		Use:       "logs [server|worker]",
		Short:     "Show a process log",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"server", "worker"},
		RunE: func(cmd *cobra.Command, args []string) error {
			process := "server"
			if len(args) == 1 {
				process = args[0]
			}
			if process != "server" && process != "worker" {
				return fmt.Errorf("unknown process %q (want server or worker)", process)
			}
			if lines < 0 {
				return errors.New("--lines must be >= 0")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			path := logs.Path(cfg.Paths.LogDir, process)
			filter := logs.Matching(jobID)
			tail, offset, err := logs.Tail(path, lines, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return logs.Follow(signalCtx, path, offset, filter, 0, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing appended lines")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show lines mentioning this job, task or worker id")
	return cmd
}
