package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"speakerline/internal/api"
	"speakerline/internal/config"
	"speakerline/internal/events"
	"speakerline/internal/jobs"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/preflight"
	"speakerline/internal/queue"
	"speakerline/internal/segmenter"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Run the HTTP API. Uploads are segmented here and queued for workers;\n" +
			"this process never runs the speech models.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg, "server")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("speakerline server starting", logging.String("config", ctx.configPath))

	if err := runPreflight(signalCtx, cfg, preflight.RoleServer, logger); err != nil {
		return err
	}
	if cfg.Server.APIKey == "" {
		logging.WarnWithContext(logger, "api key not configured; authentication disabled", "auth_disabled",
			logging.String(logging.FieldErrorHint, "set server.api_key or SPEAKERLINE_API_KEY"),
			logging.String(logging.FieldImpact, "anyone who can reach server.bind can submit jobs"),
		)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	m := metrics.New()
	publisher := events.New(cfg.Events, logger, events.WithMetrics(m), events.WithSource("speakerline-server"))
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher", logging.Error(err))
		}
	}()

	seg := segmenter.New(cfg, logger)
	srv := api.NewServer(cfg, api.Services{
		Submitter: jobs.NewDispatcher(cfg, seg, store, logger, jobs.WithMetrics(m), jobs.WithPublisher(publisher)),
		Status:    jobs.NewAggregator(store, logger, m),
		Cleaner:   jobs.NewLifecycle(cfg.Paths.TempRoot, logger, m, publisher),
		Queue:     store,
		Metrics:   m,
	}, logger)
	if err := srv.Start(signalCtx); err != nil {
		return err
	}

	janitor := queue.NewJanitor(store, logger, cfg.SweepInterval(), cfg.HeartbeatTimeout())
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		janitor.Run(signalCtx)
	}()

	<-signalCtx.Done()
	logger.Info("speakerline server stopping")
	srv.Stop()
	<-janitorDone
	return nil
}

func runPreflight(ctx context.Context, cfg *config.Config, role preflight.Role, logger *slog.Logger) error {
	results := preflight.RunAll(ctx, cfg, role)
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported check and restart"),
		)
	}
	return preflight.Failed(results)
}
