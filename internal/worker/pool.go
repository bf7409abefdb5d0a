package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"speakerline/internal/config"
	"speakerline/internal/events"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/processor"
	"speakerline/internal/queue"
	"speakerline/internal/transcript"
)

// LoadFunc loads the models for one slot. The closer releases them.
type LoadFunc func(ctx context.Context, slot int) (processor.Models, io.Closer, error)

// errorRetryInterval is the pause after a failed queue claim or model reload.
const errorRetryInterval = 5 * time.Second

// ErrModelsLost is returned by RunOnce when the slot's models reported a
// fault. The slot must reload its models before claiming again.
var ErrModelsLost = errors.New("slot models lost")

// Pool runs segment tasks with a fixed number of model slots.
type Pool struct {
	store     *queue.Store
	load      LoadFunc
	processor *processor.Processor
	heartbeat *heartbeatMonitor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher *events.Publisher

	id           string
	concurrency  int
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []io.Closer
	lastErr error
}

// Option customizes a Pool.
type Option func(*Pool)

// WithMetrics records segment outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// WithPublisher publishes segment events through publisher.
func WithPublisher(publisher *events.Publisher) Option {
	return func(p *Pool) {
		p.publisher = publisher
	}
}

// WithID overrides the generated worker id.
func WithID(id string) Option {
	return func(p *Pool) {
		p.id = id
	}
}

// New creates a pool that claims tasks from store.
func New(cfg *config.Config, store *queue.Store, load LoadFunc, logger *slog.Logger, opts ...Option) *Pool {
	base := logger
	logger = logging.NewComponentLogger(base, "worker")
	p := &Pool{
		store:        store,
		load:         load,
		logger:       logger,
		id:           defaultWorkerID(),
		concurrency:  cfg.Worker.Concurrency,
		pollInterval: cfg.PollInterval(),
		heartbeat:    newHeartbeatMonitor(store, logger, cfg.HeartbeatInterval(), cfg.HeartbeatTimeout()),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.pollInterval <= 0 {
		p.pollInterval = time.Second
	}
	p.processor = processor.New(base, p.metrics)
	return p
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// ID returns the worker id recorded on claimed tasks.
func (p *Pool) ID() string {
	return p.id
}

// Start loads models for every slot and begins claiming tasks. Models that
// fail to load abort the start and release the slots already loaded.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("worker pool already running")
	}
	p.running = true
	p.mu.Unlock()

	slots := make([]processor.Models, 0, p.concurrency)
	closers := make([]io.Closer, 0, p.concurrency)
	for slot := 0; slot < p.concurrency; slot++ {
		p.logger.Info("loading models", logging.Int("slot", slot))
		models, closer, err := p.load(ctx, slot)
		if err != nil {
			closeAll(closers, p.logger)
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			return fmt.Errorf("load models for slot %d: %w", slot, err)
		}
		slots = append(slots, models)
		closers = append(closers, closer)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.closers = closers
	p.wg.Add(len(slots))
	p.mu.Unlock()

	for slot, models := range slots {
		go p.runSlot(runCtx, slot, models)
	}
	p.logger.Info("worker started",
		logging.WorkerID(p.id),
		logging.Int("slots", len(slots)),
	)
	return nil
}

// Stop cancels the slot loops, waits for them and releases the models. A
// task interrupted by Stop stays running until its heartbeat expires and it
// is requeued.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	// Slots swap their closers on reload, so they are collected only after
	// every slot has exited.
	p.mu.Lock()
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()
	closeAll(closers, p.logger)
	p.logger.Info("worker stopped", logging.WorkerID(p.id))
}

// LastError returns the most recent queue error, if any.
func (p *Pool) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Pool) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func closeAll(closers []io.Closer, logger *slog.Logger) {
	for _, closer := range closers {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil {
			logger.Warn("failed to release models", logging.Error(err))
		}
	}
}

func (p *Pool) slotWorkerID(slot int) string {
	return p.id + "/" + strconv.Itoa(slot)
}

func (p *Pool) runSlot(ctx context.Context, slot int, models processor.Models) {
	defer p.wg.Done()
	workerID := p.slotWorkerID(slot)
	ctx = logging.WithWorkerID(ctx, workerID)
	logger := logging.WithContext(ctx, p.logger)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if slot == 0 {
			if err := p.heartbeat.reclaimStale(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reclaim stale tasks failed; stuck tasks may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}

		processed, err := p.RunOnce(ctx, slot, models)
		if errors.Is(err, ErrModelsLost) {
			reloaded, ok := p.reload(ctx, slot, logger)
			if !ok {
				return
			}
			models = reloaded
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.setLastError(err)
			logger.Error("failed to claim queue task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			p.wait(ctx, errorRetryInterval)
			continue
		}
		if !processed {
			p.wait(ctx, p.pollInterval)
		}
	}
}

// reload closes the slot's models and loads new ones, retrying until it
// succeeds or ctx is cancelled. It reports false on cancellation.
func (p *Pool) reload(ctx context.Context, slot int, logger *slog.Logger) (processor.Models, bool) {
	p.mu.Lock()
	old := p.closers[slot]
	p.closers[slot] = nil
	p.mu.Unlock()
	closeAll([]io.Closer{old}, logger)
	p.metrics.RecordModelReload()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return processor.Models{}, false
		}
		logger.Info("reloading models", logging.Int("slot", slot), logging.Int("attempt", attempt))
		models, closer, err := p.load(ctx, slot)
		if err == nil {
			p.mu.Lock()
			p.closers[slot] = closer
			p.mu.Unlock()
			logger.Info("models reloaded", logging.Int("slot", slot))
			return models, true
		}
		if ctx.Err() != nil {
			return processor.Models{}, false
		}
		p.setLastError(err)
		logging.ErrorWithContext(logger, "model reload failed", "model_reload_failed",
			logging.Error(err),
			logging.Int("slot", slot),
			logging.String(logging.FieldErrorHint, "check inference sidecar logs and model access"),
		)
		p.wait(ctx, errorRetryInterval)
	}
}

func (p *Pool) wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// RunOnce claims and processes at most one task using models. It reports
// whether a task was claimed. Task failures are recorded on the task, not
// returned. The error reports queue access problems, or ErrModelsLost when
// models reported a fault; nothing is claimed with faulted models and a task
// they were running goes back to the queue.
func (p *Pool) RunOnce(ctx context.Context, slot int, models processor.Models) (bool, error) {
	if fault := models.Fault(); fault != nil {
		return false, fmt.Errorf("%w: %v", ErrModelsLost, fault)
	}
	workerID := p.slotWorkerID(slot)
	task, err := p.store.Claim(ctx, workerID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	if fault := p.process(ctx, workerID, models, task); fault != nil {
		return true, fmt.Errorf("%w: %v", ErrModelsLost, fault)
	}
	return true, nil
}

// process runs one claimed task. It returns the models' fault when the task
// failed because the models became unusable.
func (p *Pool) process(ctx context.Context, workerID string, models processor.Models, task *queue.Task) error {
	ctx = logging.WithWorkerID(ctx, workerID)
	ctx = logging.WithJobID(ctx, task.JobID)
	ctx = logging.WithTaskID(ctx, task.GroupID)
	logger := logging.WithContext(ctx, p.logger).With(
		logging.String("member_id", task.ID),
		logging.SegmentIndex(task.Segment.Index),
		logging.Int("attempt", task.Attempts),
	)
	logger.Info("segment task claimed", logging.String("path", task.Segment.Path))

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go p.heartbeat.run(hbCtx, &hbWG, task.ID)

	p.metrics.SlotStarted()
	start := time.Now()
	result, err := p.runTask(ctx, models, task)
	elapsed := time.Since(start)

	hbCancel()
	hbWG.Wait()

	if ctx.Err() != nil && err != nil && errors.Is(err, ctx.Err()) {
		p.metrics.RecordSegment(false, elapsed)
		logger.Warn("segment task interrupted by shutdown; it will be requeued after its heartbeat expires",
			logging.String(logging.FieldEventType, "segment_interrupted"),
		)
		return nil
	}

	// Record the outcome even when shutdown begins right after processing.
	finishCtx := context.WithoutCancel(ctx)
	event := events.SegmentEvent{
		JobID:        task.JobID,
		TaskID:       task.GroupID,
		MemberID:     task.ID,
		SegmentIndex: task.Segment.Index,
		WorkerID:     workerID,
		ElapsedMS:    elapsed.Milliseconds(),
	}

	var fault error
	if err != nil {
		fault = models.Fault()
	}

	switch {
	case fault != nil:
		requeued, requeueErr := p.store.Requeue(finishCtx, task.ID, err.Error())
		if requeueErr != nil {
			logger.Error("failed to return segment task to the queue", logging.Error(requeueErr))
		}
		if requeued {
			p.metrics.RecordSegmentRequeued(elapsed)
		} else {
			p.metrics.RecordSegment(false, elapsed)
		}
		logging.WarnWithContext(logger, "models failed during segment task", "segment_models_lost",
			logging.Error(err),
			logging.Bool("requeued", requeued),
			logging.String(logging.FieldErrorHint, "check inference sidecar logs"),
			logging.String(logging.FieldImpact, "slot reloads its models before claiming again"),
		)
		if requeued {
			return fault
		}
		event.Type = events.TypeSegmentFailed
		event.Error = err.Error()
	case err != nil:
		message := err.Error()
		if finishErr := p.store.Fail(finishCtx, task.ID, message); finishErr != nil {
			logger.Error("failed to record segment failure", logging.Error(finishErr))
		}
		p.metrics.RecordSegment(false, elapsed)
		logging.ErrorWithContext(logger, "segment task failed", "segment_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check inference sidecar logs"),
		)
		event.Type = events.TypeSegmentFailed
		event.Error = message
	default:
		if finishErr := p.store.Complete(finishCtx, task.ID, result); finishErr != nil {
			logger.Error("failed to record segment result", logging.Error(finishErr))
		}
		p.metrics.RecordSegment(true, elapsed)
		logger.Info("segment task succeeded",
			logging.Int("turns", len(result.Segments)),
			logging.Duration("elapsed", elapsed),
		)
		event.Type = events.TypeSegmentSucceeded
		event.Turns = len(result.Segments)
	}

	if err := p.publisher.PublishSegment(finishCtx, event); err != nil {
		logger.Debug("segment event not published", logging.Error(err))
	}
	return fault
}

// runTask processes the task's segment, converting a panic into an error.
func (p *Pool) runTask(ctx context.Context, models processor.Models, task *queue.Task) (result transcript.SegmentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("segment task panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("worker crashed: %v", r)
		}
	}()
	return p.processor.Process(ctx, models, task.Segment)
}
