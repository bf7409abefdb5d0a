package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"speakerline/internal/events"
	"speakerline/internal/inference"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/preflight"
	"speakerline/internal/queue"
	"speakerline/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued segments with the speech models",
		Long: "Process queued segments. Each slot loads its own copy of the\n" +
			"transcription and diarization models once and keeps it for the life\n" +
			"of the process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				if concurrency < 1 {
					return errors.New("--concurrency must be >= 1")
				}
				cfg.Worker.Concurrency = concurrency
			}
			return runWorker(cmd.Context(), ctx)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Model slots in this process (overrides worker.concurrency)")
	return cmd
}

func runWorker(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg, "worker")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := runPreflight(signalCtx, cfg, preflight.RoleWorker, logger); err != nil {
		return err
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	m := metrics.New()
	publisher := events.New(cfg.Events, logger, events.WithMetrics(m), events.WithSource("speakerline-worker"))
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher", logging.Error(err))
		}
	}()

	if cfg.Worker.MetricsBind != "" {
		stopMetrics := serveMetrics(cfg.Worker.MetricsBind, m, logger)
		defer stopMetrics()
	}

	loader := inference.NewLoader(cfg, logger)
	pool := worker.New(cfg, store, loader.Load, logger, worker.WithMetrics(m), worker.WithPublisher(publisher))
	logger.Info("speakerline worker starting",
		logging.WorkerID(pool.ID()),
		logging.Int("concurrency", cfg.Worker.Concurrency),
		logging.String("whisper_model", cfg.Models.WhisperModel),
	)
	if err := pool.Start(signalCtx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("speakerline worker stopping")
	pool.Stop()
	if err := pool.LastError(); err != nil {
		logger.Warn("worker stopped with error", logging.Error(err))
	}
	return nil
}

func serveMetrics(bind string, m *metrics.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", logging.Error(err))
		}
	}()
	logger.Info("metrics server listening", logging.String("address", bind))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
