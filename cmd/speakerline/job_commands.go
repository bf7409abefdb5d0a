package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"speakerline/internal/api"
	"speakerline/internal/config"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "submit <audio-file>",
		Short: "Upload a recording for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			submitted, err := client.Submit(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("submit %s: %w", path, err)
			}
			if !wait {
				if ctx.wantJSON(cmd.OutOrStdout()) {
					return writeJSON(cmd, submitted)
				}
				printSubmitted(cmd.OutOrStdout(), submitted)
				return nil
			}
			if !ctx.wantJSON(cmd.OutOrStdout()) {
				printSubmitted(cmd.OutOrStdout(), submitted)
			}
			result, err := waitForResult(cmd.Context(), client, submitted.TaskID, interval, func(progress string) {
				if !ctx.wantJSON(cmd.OutOrStdout()) {
					fmt.Fprintf(cmd.ErrOrStderr(), "processing %s\n", progress)
				}
			})
			if err != nil {
				return err
			}
			return printResult(cmd, ctx, submitted.TaskID, result)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the transcript is ready")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Polling interval with --wait")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the status or transcript of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd, ctx, args[0], result)
		},
	}
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <job-id>",
		Short: "Remove a job's working files from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Cleanup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd.OutOrStdout()) {
				return writeJSON(cmd, resp)
			}
			kind := statusOK
			if resp.Status != "cleaned" {
				kind = statusWarn
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine(args[0], kind, resp.Status, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd.OutOrStdout()) {
				return writeJSON(cmd, resp)
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStatusLine("Server", statusOK, resp.Status, colorize))
			fmt.Fprintln(out, renderStatusLine("Queue", statusOK, resp.Queue, colorize))
			return nil
		},
	}
}

func waitForResult(ctx context.Context, client *api.Client, taskID string, interval time.Duration, onProgress func(string)) (*api.ResultResponse, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := client.Result(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if result.Status != "processing" {
			return result, nil
		}
		if onProgress != nil {
			onProgress(result.Progress)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printSubmitted(out io.Writer, resp *api.SubmitResponse) {
	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderStatusLine("Job", statusInfo, resp.JobID, colorize))
	fmt.Fprintln(out, renderStatusLine("Task", statusInfo, resp.TaskID, colorize))
	fmt.Fprintln(out, renderStatusLine("Segments", statusInfo, fmt.Sprintf("%d", resp.Segments), colorize))
}

func printResult(cmd *cobra.Command, ctx *commandContext, taskID string, result *api.ResultResponse) error {
	out := cmd.OutOrStdout()
	if ctx.wantJSON(out) {
		return writeJSON(cmd, result)
	}
	colorize := shouldColorize(out)
	kind := jobStatusKind(result.Status)
	switch result.Status {
	case "processing":
		fmt.Fprintln(out, renderStatusLine(taskID, kind, "processing "+result.Progress, colorize))
	case "error":
		fmt.Fprintln(out, renderStatusLine(taskID, kind, result.Message, colorize))
		return errors.New("job failed")
	case "done":
		fmt.Fprintln(out, renderStatusLine(taskID, kind, fmt.Sprintf("done, %d speakers", result.TotalSpeakers), colorize))
		fmt.Fprint(out, renderTranscript(result))
	default:
		fmt.Fprintln(out, renderStatusLine(taskID, kind, result.Status, colorize))
	}
	return nil
}

func renderTranscript(result *api.ResultResponse) string {
	if len(result.Segments) == 0 {
		return "No speech detected\n"
	}
	rows := make([][]string, 0, len(result.Segments))
	for _, turn := range result.Segments {
		rows = append(rows, []string{
			formatTimestamp(turn.Start),
			formatTimestamp(turn.End),
			turn.Speaker,
			turn.Text,
		})
	}
	return renderTable([]string{"Start", "End", "Speaker", "Text"}, rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft})
}

// formatTimestamp renders seconds as h:mm:ss.cc.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	centis := int64(seconds*100 + 0.5)
	h := centis / 360000
	m := (centis / 6000) % 60
	s := (centis / 100) % 60
	c := centis % 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, c)
}
