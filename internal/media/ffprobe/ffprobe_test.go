package ffprobe

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestParseAudioResult(t *testing.T) {
	payload := []byte(`{
		"streams": [{"index": 0, "codec_name": "pcm_s16le", "codec_type": "audio", "sample_rate": "16000", "channels": 1, "duration": "612.5"}],
		"format": {"filename": "normalized.wav", "nb_streams": 1, "duration": "612.500000", "size": "19600044", "format_name": "wav"}
	}`)
	result, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.AudioStreamCount() != 1 {
		t.Fatalf("expected 1 audio stream, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 612.5 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
}

func TestDurationFallsBackToStream(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "audio", Duration: "42.25"}, {CodecType: "audio", Duration: "bad"}},
		Format:  Format{Duration: "N/A"},
	}
	if result.DurationSeconds() != 42.25 {
		t.Fatalf("expected stream duration fallback, got %v", result.DurationSeconds())
	}
}

func TestDurationHandlesInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
}

func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestDurationUsesConfiguredBinary(t *testing.T) {
	stub := writeStub(t, `echo '{"streams":[{"codec_type":"audio"}],"format":{"duration":"301.0"}}'`+"\n")
	seconds, err := ProbeDuration(context.Background(), stub, "/tmp/input.wav")
	if err != nil {
		t.Fatalf("ProbeDuration: %v", err)
	}
	if seconds != 301 {
		t.Fatalf("expected 301 seconds, got %v", seconds)
	}
}

func TestDurationErrors(t *testing.T) {
	t.Run("exit status", func(t *testing.T) {
		stub := writeStub(t, "echo 'Invalid data found' >&2\nexit 1\n")
		if _, err := ProbeDuration(context.Background(), stub, "/tmp/input.wav"); err == nil {
			t.Fatal("expected error for failing ffprobe")
		}
	})
	t.Run("missing duration", func(t *testing.T) {
		stub := writeStub(t, `echo '{"streams":[{"codec_type":"audio"}],"format":{}}'`+"\n")
		_, err := ProbeDuration(context.Background(), stub, "/tmp/input.wav")
		if !errors.Is(err, ErrNoDuration) {
			t.Fatalf("expected ErrNoDuration, got %v", err)
		}
	})
	t.Run("no audio stream", func(t *testing.T) {
		stub := writeStub(t, `echo '{"streams":[{"codec_type":"video"}],"format":{"duration":"12.0"}}'`+"\n")
		_, err := ProbeDuration(context.Background(), stub, "/tmp/input.mp4")
		if !errors.Is(err, ErrNoAudioStream) {
			t.Fatalf("expected ErrNoAudioStream, got %v", err)
		}
	})
}
