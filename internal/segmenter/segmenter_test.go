package segmenter_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"speakerline/internal/logging"
	"speakerline/internal/segmenter"
	"speakerline/internal/testsupport"
	"speakerline/internal/waveform"
)

// fakeFFmpeg emulates the two ffmpeg invocations with real WAV files so the
// segmenter's bookkeeping can be checked without the binary. Durations are
// expressed in seconds of 16 kHz audio.
type fakeFFmpeg struct {
	inputSeconds  float64
	chunkSeconds  int
	failNormalize bool
	failSplit     bool
	emptySplit    bool
	calls         [][]string
}

func (f *fakeFFmpeg) run(_ context.Context, _ string, args ...string) error {
	f.calls = append(f.calls, args)
	output := args[len(args)-1]
	input := args[slices.Index(args, "-i")+1]

	if !slices.Contains(args, "segment") {
		if f.failNormalize {
			_ = os.WriteFile(output, []byte("partial"), 0o644)
			return errors.New("exit status 1: invalid data found when processing input")
		}
		samples := make([]int, int(f.inputSeconds*waveform.SampleRate))
		return (&waveform.Waveform{Samples: samples, SampleRate: waveform.SampleRate, BitDepth: 16}).WriteFile(output)
	}

	dir := filepath.Dir(output)
	if f.failSplit {
		_ = os.WriteFile(filepath.Join(dir, "segment_000.wav"), []byte("partial"), 0o644)
		return errors.New("exit status 1: disk full")
	}
	if f.emptySplit {
		return nil
	}
	src, err := waveform.Decode(input)
	if err != nil {
		return err
	}
	total := float64(src.Len()) / float64(src.SampleRate)
	for i := 0; float64(i*f.chunkSeconds) < total; i++ {
		chunk := src.Slice(float64(i*f.chunkSeconds), float64((i+1)*f.chunkSeconds))
		if err := chunk.WriteFile(filepath.Join(dir, fmt.Sprintf("segment_%03d.wav", i))); err != nil {
			return err
		}
	}
	return nil
}

func wavSeconds(_ context.Context, path string) (float64, error) {
	w, err := waveform.Decode(path)
	if err != nil {
		return 0, err
	}
	return float64(w.Len()) / float64(w.SampleRate), nil
}

func newSegmenter(t *testing.T, fake *fakeFFmpeg) *segmenter.Segmenter {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Segmentation.ChunkSeconds = fake.chunkSeconds
	seg := segmenter.New(cfg, logging.NewNop())
	seg.WithCommandRunner(fake.run)
	seg.WithProber(wavSeconds)
	return seg
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestShortRecordingIsSingleSegment(t *testing.T) {
	for _, seconds := range []float64{0.5, 1.9, 2} {
		t.Run(fmt.Sprintf("%.1fs", seconds), func(t *testing.T) {
			fake := &fakeFFmpeg{inputSeconds: seconds, chunkSeconds: 2}
			outDir := filepath.Join(t.TempDir(), "segments")

			segments, err := newSegmenter(t, fake).Segment(context.Background(), writeInput(t), outDir)
			if err != nil {
				t.Fatalf("Segment: %v", err)
			}
			if len(segments) != 1 {
				t.Fatalf("expected 1 segment, got %d", len(segments))
			}
			if segments[0].Offset != 0 || segments[0].Index != 0 {
				t.Fatalf("unexpected segment %+v", segments[0])
			}
			if filepath.Base(segments[0].Path) != segmenter.NormalizedName {
				t.Fatalf("expected normalized file to be the segment, got %s", segments[0].Path)
			}
			if _, err := os.Stat(segments[0].Path); err != nil {
				t.Fatalf("normalized file must be kept: %v", err)
			}
			if len(fake.calls) != 1 {
				t.Fatalf("expected no split call, got %d ffmpeg calls", len(fake.calls))
			}
		})
	}
}

func TestLongRecordingSplitsIntoContiguousChunks(t *testing.T) {
	for _, seconds := range []float64{2.5, 4, 7.25} {
		t.Run(fmt.Sprintf("%.2fs", seconds), func(t *testing.T) {
			fake := &fakeFFmpeg{inputSeconds: seconds, chunkSeconds: 2}
			outDir := filepath.Join(t.TempDir(), "segments")

			segments, err := newSegmenter(t, fake).Segment(context.Background(), writeInput(t), outDir)
			if err != nil {
				t.Fatalf("Segment: %v", err)
			}
			want := int(math.Ceil(seconds / 2))
			if len(segments) != want {
				t.Fatalf("expected %d segments, got %d", want, len(segments))
			}

			var sum float64
			for i, seg := range segments {
				if seg.Index != uint(i) {
					t.Fatalf("segment %d has index %d", i, seg.Index)
				}
				if seg.Offset != float64(i*2) {
					t.Fatalf("segment %d has offset %v", i, seg.Offset)
				}
				d, err := wavSeconds(context.Background(), seg.Path)
				if err != nil {
					t.Fatalf("decode %s: %v", seg.Path, err)
				}
				sum += d
			}
			if math.Abs(sum-seconds) > 0.01 {
				t.Fatalf("segment durations sum to %v, want %v", sum, seconds)
			}
			if _, err := os.Stat(filepath.Join(outDir, segmenter.NormalizedName)); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("normalized file should be removed after chunking, stat err=%v", err)
			}
		})
	}
}

func TestSegmentErrors(t *testing.T) {
	t.Run("input not found", func(t *testing.T) {
		fake := &fakeFFmpeg{inputSeconds: 1, chunkSeconds: 2}
		_, err := newSegmenter(t, fake).Segment(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), t.TempDir())
		if !errors.Is(err, segmenter.ErrInputNotFound) {
			t.Fatalf("expected ErrInputNotFound, got %v", err)
		}
		if len(fake.calls) != 0 {
			t.Fatal("ffmpeg must not run for a missing input")
		}
	})

	t.Run("transcode removes partial output", func(t *testing.T) {
		fake := &fakeFFmpeg{chunkSeconds: 2, failNormalize: true}
		outDir := t.TempDir()
		_, err := newSegmenter(t, fake).Segment(context.Background(), writeInput(t), outDir)
		if !errors.Is(err, segmenter.ErrTranscode) {
			t.Fatalf("expected ErrTranscode, got %v", err)
		}
		assertEmptyDir(t, outDir)
	})

	t.Run("duration probe removes normalized file", func(t *testing.T) {
		fake := &fakeFFmpeg{inputSeconds: 1, chunkSeconds: 2}
		seg := newSegmenter(t, fake)
		seg.WithProber(func(context.Context, string) (float64, error) { return 0, errors.New("moov atom not found") })
		outDir := t.TempDir()
		_, err := seg.Segment(context.Background(), writeInput(t), outDir)
		if !errors.Is(err, segmenter.ErrDurationProbe) {
			t.Fatalf("expected ErrDurationProbe, got %v", err)
		}
		assertEmptyDir(t, outDir)
	})

	t.Run("segmentation removes chunks", func(t *testing.T) {
		fake := &fakeFFmpeg{inputSeconds: 5, chunkSeconds: 2, failSplit: true}
		outDir := t.TempDir()
		_, err := newSegmenter(t, fake).Segment(context.Background(), writeInput(t), outDir)
		if !errors.Is(err, segmenter.ErrSegmentation) {
			t.Fatalf("expected ErrSegmentation, got %v", err)
		}
		assertEmptyDir(t, outDir)
	})

	t.Run("no segments produced", func(t *testing.T) {
		fake := &fakeFFmpeg{inputSeconds: 5, chunkSeconds: 2, emptySplit: true}
		_, err := newSegmenter(t, fake).Segment(context.Background(), writeInput(t), t.TempDir())
		if !errors.Is(err, segmenter.ErrNoSegmentsProduced) {
			t.Fatalf("expected ErrNoSegmentsProduced, got %v", err)
		}
		var segErr *segmenter.Error
		if !errors.As(err, &segErr) || segErr.Kind != segmenter.KindNoSegmentsProduced {
			t.Fatalf("expected typed error, got %T", err)
		}
	})
}

func TestSegmentWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	input := filepath.Join(t.TempDir(), "tone.mp3")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "lavfi", "-i", "sine=frequency=440:duration=5", "-ac", "2", input)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate fixture: %v: %s", err, out)
	}

	cfg := testsupport.NewConfig(t)
	cfg.Segmentation.ChunkSeconds = 2
	segments, err := segmenter.New(cfg, logging.NewNop()).Segment(context.Background(), input, filepath.Join(t.TempDir(), "segments"))
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	w, err := waveform.Decode(segments[0].Path)
	if err != nil {
		t.Fatalf("decode first chunk: %v", err)
	}
	if w.SampleRate != waveform.SampleRate {
		t.Fatalf("expected canonical sample rate, got %d", w.SampleRate)
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected no leftover files, found %v", names)
	}
}

func TestCleanupFailureIsLoggedBySegmenter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	seg := segmenter.New(testsupport.NewConfig(t), logger)
	seg.WithProber(wavSeconds)
	// A non-empty directory at the output path cannot be removed with os.Remove.
	seg.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		output := args[len(args)-1]
		if err := os.MkdirAll(filepath.Join(output, "stuck"), 0o755); err != nil {
			return err
		}
		return errors.New("exit status 1")
	})

	_, err := seg.Segment(context.Background(), writeInput(t), filepath.Join(t.TempDir(), "segments"))
	if !errors.Is(err, segmenter.ErrTranscode) {
		t.Fatalf("expected ErrTranscode, got %v", err)
	}
	logged := buf.String()
	if !strings.Contains(logged, `"msg":"cleanup failed"`) || !strings.Contains(logged, `"component":"segmenter"`) {
		t.Fatalf("expected cleanup failure on the segmenter logger, got %q", logged)
	}
}
