package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"speakerline/internal/events"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
)

// CleanupStatus is the outcome of a cleanup request.
type CleanupStatus string

const (
	CleanupCleaned  CleanupStatus = "cleaned"
	CleanupNotFound CleanupStatus = "not_found"
)

// Lifecycle removes job working directories on request.
type Lifecycle struct {
	tempRoot  string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher *events.Publisher
}

// NewLifecycle creates a lifecycle manager for job directories under tempRoot.
// m and publisher may be nil.
func NewLifecycle(tempRoot string, logger *slog.Logger, m *metrics.Metrics, publisher *events.Publisher) *Lifecycle {
	return &Lifecycle{
		tempRoot:  tempRoot,
		logger:    logging.NewComponentLogger(logger, "lifecycle"),
		metrics:   m,
		publisher: publisher,
	}
}

// JobDir returns the working directory for jobID.
func (l *Lifecycle) JobDir(jobID string) string {
	return filepath.Join(l.tempRoot, jobID)
}

// Cleanup removes the job's working directory. Queue entries are left to
// expire. Unknown ids, including ones that are not job ids at all, report
// CleanupNotFound.
func (l *Lifecycle) Cleanup(ctx context.Context, jobID string) (CleanupStatus, error) {
	status, err := l.cleanup(jobID)
	if err != nil {
		return "", err
	}
	l.metrics.RecordCleanup(string(status))
	if status == CleanupCleaned {
		ctx = logging.WithJobID(ctx, jobID)
		logging.WithContext(ctx, l.logger).Info("job directory removed")
		if err := l.publisher.PublishJob(ctx, events.JobEvent{
			Type:  events.TypeJobCleaned,
			JobID: jobID,
		}); err != nil {
			l.logger.Debug("job event not published", logging.Error(err))
		}
	}
	return status, nil
}

func (l *Lifecycle) cleanup(jobID string) (CleanupStatus, error) {
	parsed, err := uuid.Parse(jobID)
	if err != nil || parsed.String() != jobID {
		return CleanupNotFound, nil
	}
	dir := l.JobDir(jobID)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return CleanupNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("stat job directory: %w", err)
	}
	if !info.IsDir() {
		return CleanupNotFound, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("remove job directory: %w", err)
	}
	return CleanupCleaned, nil
}
