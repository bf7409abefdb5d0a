package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"speakerline/internal/jobs"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/queue"
	"speakerline/internal/segmenter"
	"speakerline/internal/testsupport"
	"speakerline/internal/transcript"
)

type fakeSegmenter struct {
	chunk    float64
	duration float64
	err      error
	inputs   []string
}

func (f *fakeSegmenter) Segment(_ context.Context, input, outputDir string) ([]transcript.Segment, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	var segments []transcript.Segment
	for start := 0.0; start < f.duration; start += f.chunk {
		index := uint(len(segments))
		path := filepath.Join(outputDir, fmt.Sprintf("chunk_%03d.wav", index))
		if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
			return nil, err
		}
		segments = append(segments, transcript.Segment{Path: path, Index: index, Offset: start})
	}
	return segments, nil
}

type harness struct {
	store      *queue.Store
	dispatcher *jobs.Dispatcher
	aggregator *jobs.Aggregator
	lifecycle  *jobs.Lifecycle
	segmenter  *fakeSegmenter
	metrics    *metrics.Metrics
	tempRoot   string
}

func newHarness(t *testing.T, duration float64) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	m := metrics.New()
	seg := &fakeSegmenter{chunk: 300, duration: duration}
	return &harness{
		store:      store,
		dispatcher: jobs.NewDispatcher(cfg, seg, store, logger, jobs.WithMetrics(m)),
		aggregator: jobs.NewAggregator(store, logger, m),
		lifecycle:  jobs.NewLifecycle(cfg.Paths.TempRoot, logger, m, nil),
		segmenter:  seg,
		metrics:    m,
		tempRoot:   cfg.Paths.TempRoot,
	}
}

func (h *harness) submit(t *testing.T) jobs.Handle {
	t.Helper()
	handle, err := h.dispatcher.Submit(context.Background(), "meeting.mp3", strings.NewReader("audio bytes"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return handle
}

func (h *harness) claimAll(t *testing.T, count int) []*queue.Task {
	t.Helper()
	tasks := make([]*queue.Task, 0, count)
	for range count {
		task, err := h.store.Claim(context.Background(), "test-worker")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if task == nil {
			t.Fatal("expected a pending task")
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func (h *harness) status(t *testing.T, taskID string) jobs.Result {
	t.Helper()
	result, err := h.aggregator.Status(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return result
}

func turnsFor(task *queue.Task, labels ...string) transcript.SegmentResult {
	result := transcript.SegmentResult{Index: task.Segment.Index}
	for i, label := range labels {
		turn := transcript.SpeakerTurn{Start: float64(i * 10), End: float64(i*10 + 5), Speaker: label}
		result.Segments = append(result.Segments, turn.Shift(task.Segment.Offset, fmt.Sprintf("segment %d turn %d", task.Segment.Index, i)))
	}
	return result
}

func TestSubmitQueuesOneTaskPerSegment(t *testing.T) {
	h := newHarness(t, 700)
	handle := h.submit(t)

	if handle.JobID == "" || handle.TaskID == "" {
		t.Fatalf("incomplete handle: %+v", handle)
	}
	if handle.SegmentCount != 3 {
		t.Fatalf("segment count = %d, want 3", handle.SegmentCount)
	}
	upload := filepath.Join(h.tempRoot, handle.JobID, "meeting.mp3")
	if len(h.segmenter.inputs) != 1 || h.segmenter.inputs[0] != upload {
		t.Fatalf("segmenter inputs = %v, want [%s]", h.segmenter.inputs, upload)
	}
	data, err := os.ReadFile(upload)
	if err != nil {
		t.Fatalf("read upload: %v", err)
	}
	if string(data) != "audio bytes" {
		t.Fatalf("upload content = %q", data)
	}

	members, err := h.store.Members(context.Background(), handle.TaskID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3", len(members))
	}
	for i, member := range members {
		if member.JobID != handle.JobID {
			t.Fatalf("member %d job id = %q", i, member.JobID)
		}
		if member.Segment.Offset != float64(i)*300 {
			t.Fatalf("member %d offset = %v", i, member.Segment.Offset)
		}
	}

	result := h.status(t, handle.TaskID)
	if result.State != jobs.StateProcessing || result.Progress() != "0/3" {
		t.Fatalf("unexpected status after submit: %+v", result)
	}
}

func TestSubmitFailureRemovesJobDirectory(t *testing.T) {
	h := newHarness(t, 120)
	h.segmenter.err = &segmenter.Error{Kind: segmenter.KindTranscode, Err: errors.New("invalid data")}

	_, err := h.dispatcher.Submit(context.Background(), "broken.mp3", strings.NewReader("not audio"))
	if !errors.Is(err, jobs.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if !errors.Is(err, segmenter.ErrTranscode) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	var subErr *jobs.SubmissionError
	if !errors.As(err, &subErr) || subErr.Stage != jobs.StageSegment {
		t.Fatalf("expected segment stage, got %#v", err)
	}
	if subErr.ErrorKind() != "external_tool" {
		t.Fatalf("error kind = %q", subErr.ErrorKind())
	}

	entries, err := os.ReadDir(h.tempRoot)
	if err != nil {
		t.Fatalf("read temp root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected job directory to be removed, found %d entries", len(entries))
	}
	stats, err := h.store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Groups != 0 {
		t.Fatalf("expected no queued groups, got %d", stats.Groups)
	}
}

func TestSubmitRejectsEmptyUpload(t *testing.T) {
	h := newHarness(t, 120)
	_, err := h.dispatcher.Submit(context.Background(), "empty.wav", strings.NewReader(""))
	var subErr *jobs.SubmissionError
	if !errors.As(err, &subErr) || subErr.Stage != jobs.StageStore {
		t.Fatalf("expected store stage failure, got %v", err)
	}
	if len(h.segmenter.inputs) != 0 {
		t.Fatal("segmenter should not run for an empty upload")
	}
}

func TestSingleSegmentScenario(t *testing.T) {
	h := newHarness(t, 120)
	handle := h.submit(t)
	if handle.SegmentCount != 1 {
		t.Fatalf("segment count = %d", handle.SegmentCount)
	}

	testsupport.CompleteNext(t, h.store, func(task *queue.Task) transcript.SegmentResult {
		turn := transcript.SpeakerTurn{Start: 0, End: 120, Speaker: "A"}
		return transcript.SegmentResult{
			Index:    task.Segment.Index,
			Segments: []transcript.TranscribedTurn{turn.Shift(task.Segment.Offset, " hello world ")},
		}
	})

	result := h.status(t, handle.TaskID)
	want := []transcript.TranscribedTurn{{Start: 0, End: 120, Speaker: "SPEAKER_1", Text: "hello world"}}
	if result.State != jobs.StateDone || result.TotalSpeakers != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !reflect.DeepEqual(result.Segments, want) {
		t.Fatalf("segments = %+v, want %+v", result.Segments, want)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	h := newHarness(t, 120)
	result := h.status(t, "does-not-exist")
	if result.State != jobs.StateNotFound {
		t.Fatalf("state = %q, want not_found", result.State)
	}
}

func TestStatusReportsPartialProgress(t *testing.T) {
	h := newHarness(t, 900)
	handle := h.submit(t)

	testsupport.CompleteNext(t, h.store, func(task *queue.Task) transcript.SegmentResult { return turnsFor(task, "A") })
	testsupport.CompleteNext(t, h.store, func(task *queue.Task) transcript.SegmentResult { return turnsFor(task, "B") })

	result := h.status(t, handle.TaskID)
	if result.State != jobs.StateProcessing {
		t.Fatalf("state = %q, want processing", result.State)
	}
	if result.Progress() != "2/3" || result.Completed != 2 || result.Total != 3 {
		t.Fatalf("progress = %s (%+v)", result.Progress(), result)
	}
	if result.Segments != nil {
		t.Fatal("processing status must not expose partial segments")
	}
}

func TestStatusOrdersOutOfOrderCompletion(t *testing.T) {
	h := newHarness(t, 900)
	handle := h.submit(t)
	tasks := h.claimAll(t, 3)

	labels := map[uint][]string{0: {"A", "B"}, 1: {"A"}, 2: {"C"}}
	for i := len(tasks) - 1; i >= 0; i-- {
		task := tasks[i]
		if err := h.store.Complete(context.Background(), task.ID, turnsFor(task, labels[task.Segment.Index]...)); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	result := h.status(t, handle.TaskID)
	if result.State != jobs.StateDone {
		t.Fatalf("state = %q (%s)", result.State, result.Message)
	}
	if result.TotalSpeakers != 3 {
		t.Fatalf("total speakers = %d, want 3", result.TotalSpeakers)
	}

	var speakers []string
	for i, turn := range result.Segments {
		speakers = append(speakers, turn.Speaker)
		if i > 0 && turn.Start < result.Segments[i-1].Start {
			t.Fatalf("turns out of order at %d: %+v", i, result.Segments)
		}
	}
	want := []string{"SPEAKER_1", "SPEAKER_2", "SPEAKER_1", "SPEAKER_3"}
	if !reflect.DeepEqual(speakers, want) {
		t.Fatalf("speakers = %v, want %v", speakers, want)
	}
	if result.Segments[2].Start != 300 || result.Segments[3].Start != 600 {
		t.Fatalf("offsets not applied: %+v", result.Segments)
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	h := newHarness(t, 600)
	handle := h.submit(t)
	testsupport.CompleteNext(t, h.store, func(task *queue.Task) transcript.SegmentResult { return turnsFor(task, "X", "Y") })
	testsupport.CompleteNext(t, h.store, func(task *queue.Task) transcript.SegmentResult { return turnsFor(task, "Y") })

	first := h.status(t, handle.TaskID)
	second := h.status(t, handle.TaskID)
	if first.State != jobs.StateDone {
		t.Fatalf("state = %q", first.State)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation changed between reads:\n%+v\n%+v", first, second)
	}

	members, err := h.store.Members(context.Background(), handle.TaskID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if got := members[0].Result.Segments[0].Speaker; got != "X" {
		t.Fatalf("stored result was rewritten: speaker %q", got)
	}
}

func TestStatusReportsFailedMember(t *testing.T) {
	h := newHarness(t, 900)
	handle := h.submit(t)
	tasks := h.claimAll(t, 3)
	ctx := context.Background()

	if err := h.store.Complete(ctx, tasks[0].ID, turnsFor(tasks[0], "A")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := h.store.Fail(ctx, tasks[2].ID, "cuda out of memory"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	result := h.status(t, handle.TaskID)
	if result.State != jobs.StateProcessing || result.Progress() != "2/3" {
		t.Fatalf("expected processing until every member finishes, got %+v", result)
	}

	if err := h.store.Fail(ctx, tasks[1].ID, "diarization failed"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	result = h.status(t, handle.TaskID)
	if result.State != jobs.StateError {
		t.Fatalf("state = %q, want error", result.State)
	}
	if result.Message != "diarization failed" {
		t.Fatalf("message = %q, want first failure by index", result.Message)
	}
	if result.Segments != nil {
		t.Fatal("error status must not carry partial segments")
	}
}

func TestCleanup(t *testing.T) {
	h := newHarness(t, 120)
	handle := h.submit(t)
	ctx := context.Background()

	status, err := h.lifecycle.Cleanup(ctx, handle.JobID)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if status != jobs.CleanupCleaned {
		t.Fatalf("status = %q, want cleaned", status)
	}
	if _, err := os.Stat(h.lifecycle.JobDir(handle.JobID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected job directory removed, stat err = %v", err)
	}

	status, err = h.lifecycle.Cleanup(ctx, handle.JobID)
	if err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if status != jobs.CleanupNotFound {
		t.Fatalf("second status = %q, want not_found", status)
	}

	group, err := h.store.Group(ctx, handle.TaskID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if group == nil {
		t.Fatal("cleanup must not remove queue entries")
	}
}

func TestCleanupRejectsNonJobIDs(t *testing.T) {
	h := newHarness(t, 120)
	outside := filepath.Join(filepath.Dir(h.tempRoot), "keep")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	for _, id := range []string{"", "..", "../keep", "keep", "not-a-uuid"} {
		status, err := h.lifecycle.Cleanup(context.Background(), id)
		if err != nil {
			t.Fatalf("Cleanup(%q): %v", id, err)
		}
		if status != jobs.CleanupNotFound {
			t.Fatalf("Cleanup(%q) = %q, want not_found", id, status)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("directory outside temp root was touched: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"meeting.mp3", "meeting.mp3"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\talk.wav`, "talk.wav"},
		{"", "upload"},
		{"..", "upload"},
		{"/", "upload"},
		{".hidden", "upload.hidden"},
	}
	for _, tt := range tests {
		if got := jobs.SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
