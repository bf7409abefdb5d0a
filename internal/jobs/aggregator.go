package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/queue"
	"speakerline/internal/transcript"
)

// State is the externally visible state of a job.
type State string

const (
	StateNotFound   State = "not_found"
	StateProcessing State = "processing"
	StateError      State = "error"
	StateDone       State = "done"
)

// Result is a job status snapshot. Which fields are set depends on State.
type Result struct {
	State         State
	Completed     int
	Total         int
	Message       string
	TotalSpeakers int
	Segments      []transcript.TranscribedTurn
}

// Progress renders completion as "completed/total".
func (r Result) Progress() string {
	return fmt.Sprintf("%d/%d", r.Completed, r.Total)
}

// Aggregator builds job status from the queue without waiting on workers.
type Aggregator struct {
	store   *queue.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAggregator creates an aggregator reading from store. m may be nil.
func NewAggregator(store *queue.Store, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		store:   store,
		logger:  logging.NewComponentLogger(logger, "aggregator"),
		metrics: m,
	}
}

// Status reports the state of the group identified by taskID. Once every
// member has finished it either merges all results or, if any member failed,
// reports the first failure by segment index. Results are never partially
// merged. Status only reads, so repeated calls return the same transcript.
func (a *Aggregator) Status(ctx context.Context, taskID string) (Result, error) {
	result, err := a.status(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	a.metrics.RecordResultPoll(string(result.State))
	return result, nil
}

func (a *Aggregator) status(ctx context.Context, taskID string) (Result, error) {
	group, err := a.store.Group(ctx, taskID)
	if err != nil {
		return Result{}, fmt.Errorf("load group %s: %w", taskID, err)
	}
	if group == nil {
		return Result{State: StateNotFound}, nil
	}
	if !group.Ready() {
		return Result{
			State:     StateProcessing,
			Completed: group.Completed(),
			Total:     group.Total,
		}, nil
	}

	members, err := a.store.Members(ctx, taskID)
	if err != nil {
		return Result{}, fmt.Errorf("load members of %s: %w", taskID, err)
	}

	results := make([]transcript.SegmentResult, 0, len(members))
	for _, member := range members {
		switch {
		case member.Status == queue.StatusFailed:
			logging.WithContext(logging.WithTaskID(ctx, taskID), a.logger).Debug("group has failed member",
				logging.JobID(group.JobID),
				logging.Int("segment", int(member.Segment.Index)),
			)
			return Result{State: StateError, Message: member.ErrorMessage}, nil
		case member.Result == nil:
			return Result{
				State:   StateError,
				Message: fmt.Sprintf("segment %d finished without a result", member.Segment.Index),
			}, nil
		default:
			results = append(results, *member.Result)
		}
	}

	turns, speakers := transcript.Assemble(results)
	return Result{
		State:         StateDone,
		Completed:     group.Completed(),
		Total:         group.Total,
		TotalSpeakers: speakers,
		Segments:      turns,
	}, nil
}
