package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"speakerline/internal/config"
	"speakerline/internal/events"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/preflight"
	"speakerline/internal/queue"
	"speakerline/internal/transcript"
)

// SegmentsDir is the job subdirectory holding produced segments.
const SegmentsDir = "segments"

const defaultUploadName = "upload"

// Handle identifies a submitted job.
type Handle struct {
	JobID        string
	TaskID       string
	SegmentCount int
}

// Segmenter splits an input recording into segments under outputDir.
type Segmenter interface {
	Segment(ctx context.Context, input, outputDir string) ([]transcript.Segment, error)
}

// Dispatcher accepts uploads and enqueues their segments.
type Dispatcher struct {
	tempRoot  string
	minFree   uint64
	segmenter Segmenter
	store     *queue.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher *events.Publisher
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics records submissions on m.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithPublisher publishes job events through publisher.
func WithPublisher(publisher *events.Publisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.publisher = publisher
	}
}

// NewDispatcher creates a dispatcher writing job directories under
// paths.temp_root.
func NewDispatcher(cfg *config.Config, segmenter Segmenter, store *queue.Store, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tempRoot:  cfg.Paths.TempRoot,
		segmenter: segmenter,
		store:     store,
		logger:    logging.NewComponentLogger(logger, "dispatcher"),
	}
	if cfg.Server.MinFreeGiB > 0 {
		d.minFree = uint64(cfg.Server.MinFreeGiB) << 30
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit stores the upload, segments it and enqueues one task per segment.
// It returns as soon as the tasks are queued. On failure the job directory
// is removed and the error matches ErrSubmissionFailed.
func (d *Dispatcher) Submit(ctx context.Context, filename string, body io.Reader) (Handle, error) {
	jobID := uuid.NewString()
	ctx = logging.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, d.logger)

	handle, err := d.submit(ctx, logger, jobID, filename, body)
	if err != nil {
		var subErr *SubmissionError
		stage := "unknown"
		if errors.As(err, &subErr) {
			stage = subErr.Stage
		}
		d.metrics.RecordSubmissionFailure(stage)
		logging.WarnWithContext(logger, "submission rejected", "submission_failed",
			logging.Error(err),
			logging.String("stage", stage),
			logging.String(logging.FieldImpact, "job was not queued"),
		)
		return Handle{}, err
	}
	return handle, nil
}

func (d *Dispatcher) submit(ctx context.Context, logger *slog.Logger, jobID, filename string, body io.Reader) (Handle, error) {
	if err := os.MkdirAll(d.tempRoot, 0o755); err != nil {
		return Handle{}, d.fail(StageStore, fmt.Errorf("ensure temp root: %w", err))
	}
	if err := preflight.EnsureFreeSpace(d.tempRoot, d.minFree); err != nil {
		return Handle{}, d.fail(StageCapacity, err)
	}

	jobDir := filepath.Join(d.tempRoot, jobID)
	if err := os.Mkdir(jobDir, 0o755); err != nil {
		return Handle{}, d.fail(StageStore, fmt.Errorf("create job directory: %w", err))
	}
	succeeded := false
	defer func() {
		if !succeeded {
			if err := os.RemoveAll(jobDir); err != nil {
				logger.Warn("failed to remove job directory after rejected submission",
					logging.String("path", jobDir),
					logging.Error(err),
				)
			}
		}
	}()

	uploadPath := filepath.Join(jobDir, SanitizeFilename(filename))
	size, err := writeUpload(uploadPath, body)
	if err != nil {
		return Handle{}, d.fail(StageStore, err)
	}
	logger.Info("upload stored", logging.String("path", uploadPath), logging.Int64("bytes", size))

	start := time.Now()
	segments, err := d.segmenter.Segment(ctx, uploadPath, filepath.Join(jobDir, SegmentsDir))
	if err != nil {
		return Handle{}, d.fail(StageSegment, err)
	}
	segmentation := time.Since(start)

	specs := make([]queue.TaskSpec, len(segments))
	for i, seg := range segments {
		specs[i] = queue.TaskSpec{Segment: seg}
	}
	groupID, err := d.store.SubmitGroup(ctx, jobID, specs)
	if err != nil {
		return Handle{}, d.fail(StageEnqueue, err)
	}
	succeeded = true

	d.metrics.RecordSubmission(len(segments), segmentation)
	logger.Info("job queued",
		logging.TaskID(groupID),
		logging.Int("segments", len(segments)),
		logging.Duration("segmentation", segmentation),
	)
	if err := d.publisher.PublishJob(ctx, events.JobEvent{
		Type:     events.TypeJobSubmitted,
		JobID:    jobID,
		TaskID:   groupID,
		Segments: len(segments),
	}); err != nil {
		logger.Debug("job event not published", logging.Error(err))
	}

	return Handle{JobID: jobID, TaskID: groupID, SegmentCount: len(segments)}, nil
}

func writeUpload(path string, body io.Reader) (int64, error) {
	if body == nil {
		return 0, errors.New("empty upload")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	size, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("write upload: %w", copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close upload: %w", closeErr)
	}
	if size == 0 {
		return 0, errors.New("empty upload")
	}
	return size, nil
}

// SanitizeFilename reduces a client-supplied filename to a safe base name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	base := filepath.Base(name)
	switch base {
	case "", ".", "..", "/":
		return defaultUploadName
	}
	if strings.HasPrefix(base, ".") {
		base = defaultUploadName + base
	}
	return base
}
