package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"speakerline/internal/api"
	"speakerline/internal/config"
	"speakerline/internal/jobs"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/queue"
	"speakerline/internal/testsupport"
	"speakerline/internal/transcript"
)

type stubSegmenter struct {
	count int
	err   error
	// stderr makes Segment fail the way ffmpeg does, naming the input path.
	stderr string
}

func (s *stubSegmenter) Segment(_ context.Context, input string, outputDir string) ([]transcript.Segment, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.stderr != "" {
		return nil, fmt.Errorf("transcode failed: %s: ffmpeg: exit status 1: %s: %s", input, input, s.stderr)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	segments := make([]transcript.Segment, s.count)
	for i := range segments {
		segments[i] = transcript.Segment{
			Path:   filepath.Join(outputDir, "chunk.wav"),
			Index:  uint(i),
			Offset: float64(i) * 300,
		}
	}
	return segments, nil
}

type testServer struct {
	cfg       *config.Config
	store     *queue.Store
	segmenter *stubSegmenter
	http      *httptest.Server
	client    *api.Client
}

func newTestServer(t *testing.T, opts ...testsupport.ConfigOption) *testServer {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	m := metrics.New()
	seg := &stubSegmenter{count: 1}

	srv := api.NewServer(cfg, api.Services{
		Submitter: jobs.NewDispatcher(cfg, seg, store, logger, jobs.WithMetrics(m)),
		Status:    jobs.NewAggregator(store, logger, m),
		Cleaner:   jobs.NewLifecycle(cfg.Paths.TempRoot, logger, m, nil),
		Queue:     store,
		Metrics:   m,
	}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{
		cfg:       cfg,
		store:     store,
		segmenter: seg,
		http:      ts,
		client:    api.NewClient(ts.URL, cfg.Server.APIKey, ts.Client()),
	}
}

func (s *testServer) request(t *testing.T, method, path string, body io.Reader, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.http.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := s.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func writeUpload(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "meeting.wav")
	if err := os.WriteFile(path, bytes.Repeat([]byte{1}, size), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func multipartBody(t *testing.T, field string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "meeting.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealthDoesNotRequireAuth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.request(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var health api.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Queue != "ok" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong key", http.Header{"X-Api-Key": {"nope"}}, http.StatusUnauthorized},
		{"api key header", http.Header{"X-Api-Key": {testsupport.TestAPIKey}}, http.StatusOK},
		{"bearer", http.Header{"Authorization": {"Bearer " + testsupport.TestAPIKey}}, http.StatusOK},
		{"basic", http.Header{"Authorization": {"Basic " + testsupport.TestAPIKey}}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.request(t, http.MethodGet, "/result/unknown", nil, tt.header)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
			if tt.want == http.StatusUnauthorized && strings.TrimSpace(string(body)) != `{"error":"unauthorized"}` {
				t.Fatalf("unexpected body: %s", body)
			}
		})
	}
}

func TestEmptyAPIKeyDisablesAuth(t *testing.T) {
	s := newTestServer(t, testsupport.WithAPIKey(""))
	resp, body := s.request(t, http.MethodGet, "/result/unknown", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	s := newTestServer(t)
	_, body := s.request(t, http.MethodGet, "/result/unknown", nil, http.Header{"X-Api-Key": {testsupport.TestAPIKey}})
	if got := strings.TrimSpace(string(body)); got != `{"status":"not_found"}` {
		t.Fatalf("body = %s", got)
	}
}

func TestTranscribeThenResult(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	path := writeUpload(t, t.TempDir(), 1024)

	submitted, err := s.client.Submit(ctx, path)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if submitted.Status != "processing" || submitted.Segments != 1 || submitted.JobID == "" || submitted.TaskID == "" {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}
	if _, err := os.Stat(filepath.Join(s.cfg.Paths.TempRoot, submitted.JobID, "meeting.wav")); err != nil {
		t.Fatalf("upload not stored: %v", err)
	}

	result, err := s.client.Result(ctx, submitted.TaskID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Status != "processing" || result.Progress != "0/1" || result.Total != 1 {
		t.Fatalf("unexpected processing result: %+v", result)
	}

	testsupport.CompleteNext(t, s.store, func(task *queue.Task) transcript.SegmentResult {
		turn := transcript.SpeakerTurn{Start: 0, End: 120, Speaker: "A"}
		return transcript.SegmentResult{
			Index:    task.Segment.Index,
			Segments: []transcript.TranscribedTurn{turn.Shift(task.Segment.Offset, "hello world")},
		}
	})

	_, body := s.request(t, http.MethodGet, "/result/"+submitted.TaskID, nil, http.Header{"X-Api-Key": {testsupport.TestAPIKey}})
	want := `{"status":"done","total_speakers":1,"segments":[{"start":0,"end":120,"speaker":"SPEAKER_1","text":"hello world"}]}`
	if got := strings.TrimSpace(string(body)); got != want {
		t.Fatalf("body = %s\nwant   %s", got, want)
	}
}

func TestTranscribeSubmissionFailure(t *testing.T) {
	s := newTestServer(t)
	s.segmenter.err = errors.New("invalid data found when processing input")

	_, err := s.client.Submit(context.Background(), writeUpload(t, t.TempDir(), 16))
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, want 422", statusErr.Code)
	}
	if !strings.Contains(statusErr.Message, "invalid data") {
		t.Fatalf("message = %q", statusErr.Message)
	}
	entries, _ := os.ReadDir(s.cfg.Paths.TempRoot)
	if len(entries) != 0 {
		t.Fatalf("expected no job directories, found %d", len(entries))
	}
}

func TestTranscribeFailureHidesServerPaths(t *testing.T) {
	s := newTestServer(t)
	s.segmenter.stderr = "Invalid data found when processing input"

	upload := writeUpload(t, t.TempDir(), 16)
	_, err := s.client.Submit(context.Background(), upload)
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 StatusError, got %v", err)
	}
	if strings.Contains(statusErr.Message, s.cfg.Paths.TempRoot) {
		t.Fatalf("message leaks server path: %q", statusErr.Message)
	}
	if !strings.Contains(statusErr.Message, "Invalid data found when processing input") {
		t.Fatalf("message lost the cause: %q", statusErr.Message)
	}
	if !strings.Contains(statusErr.Message, filepath.Base(upload)) {
		t.Fatalf("message should name the upload: %q", statusErr.Message)
	}
}

func TestTranscribeRequiresFileField(t *testing.T) {
	s := newTestServer(t)
	body, contentType := multipartBody(t, "audio", []byte("data"))
	resp, data := s.request(t, http.MethodPost, "/transcribe", body, http.Header{
		"X-Api-Key":    {testsupport.TestAPIKey},
		"Content-Type": {contentType},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	resp, data = s.request(t, http.MethodPost, "/transcribe", strings.NewReader("raw"), http.Header{
		"X-Api-Key":    {testsupport.TestAPIKey},
		"Content-Type": {"audio/wav"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-multipart status = %d, body %s", resp.StatusCode, data)
	}
}

func TestTranscribeRejectsOversizedUpload(t *testing.T) {
	s := newTestServer(t, testsupport.WithMaxUploadMB(1))
	body, contentType := multipartBody(t, "file", bytes.Repeat([]byte{1}, 1<<20+64<<10))
	resp, data := s.request(t, http.MethodPost, "/transcribe", body, http.Header{
		"X-Api-Key":    {testsupport.TestAPIKey},
		"Content-Type": {contentType},
	})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	entries, _ := os.ReadDir(s.cfg.Paths.TempRoot)
	if len(entries) != 0 {
		t.Fatalf("expected partial upload to be removed, found %d entries", len(entries))
	}
}

func TestCleanup(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	submitted, err := s.client.Submit(ctx, writeUpload(t, t.TempDir(), 16))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	resp, err := s.client.Cleanup(ctx, submitted.JobID)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if resp.Status != "cleaned" {
		t.Fatalf("status = %q", resp.Status)
	}
	resp, err = s.client.Cleanup(ctx, submitted.JobID)
	if err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if resp.Status != "not_found" {
		t.Fatalf("second status = %q", resp.Status)
	}

	result, err := s.client.Result(ctx, submitted.TaskID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Status != "processing" {
		t.Fatalf("queue entry affected by cleanup: %+v", result)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.client.Result(context.Background(), "unknown"); err != nil {
		t.Fatalf("Result: %v", err)
	}
	resp, body := s.request(t, http.MethodGet, "/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `speakerline_result_polls_total{status="not_found"} 1`) {
		t.Fatalf("expected result poll metric, got:\n%s", body)
	}
}
