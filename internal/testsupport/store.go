package testsupport

import (
	"context"
	"testing"

	"speakerline/internal/config"
	"speakerline/internal/queue"
	"speakerline/internal/transcript"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SubmitSegments submits one task per segment offset (index i at offset i*chunk)
// and returns the group id.
func SubmitSegments(t testing.TB, store *queue.Store, jobID string, count int, chunkSeconds float64) string {
	t.Helper()

	specs := make([]queue.TaskSpec, count)
	for i := range specs {
		specs[i] = queue.TaskSpec{Segment: transcript.Segment{
			Path:   "/tmp/" + jobID + "/segment.wav",
			Index:  uint(i),
			Offset: float64(i) * chunkSeconds,
		}}
	}
	groupID, err := store.SubmitGroup(context.Background(), jobID, specs)
	if err != nil {
		t.Fatalf("store.SubmitGroup: %v", err)
	}
	return groupID
}

// CompleteNext claims the oldest pending task and completes it with result.
func CompleteNext(t testing.TB, store *queue.Store, result func(task *queue.Task) transcript.SegmentResult) *queue.Task {
	t.Helper()

	ctx := context.Background()
	task, err := store.Claim(ctx, "test-worker")
	if err != nil {
		t.Fatalf("store.Claim: %v", err)
	}
	if task == nil {
		t.Fatal("expected a pending task")
	}
	if err := store.Complete(ctx, task.ID, result(task)); err != nil {
		t.Fatalf("store.Complete: %v", err)
	}
	return task
}
