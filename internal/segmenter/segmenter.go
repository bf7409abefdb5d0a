// Package segmenter converts an uploaded recording into canonical mono 16 kHz
// PCM WAV and splits it into fixed-length chunks tagged with their absolute
// offsets.
//
// Every ffmpeg invocation is treated as a scoped resource: whatever a failed
// call left behind in the output directory is removed before the error is
// returned.
package segmenter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"speakerline/internal/config"
	"speakerline/internal/logging"
	"speakerline/internal/media/ffprobe"
	"speakerline/internal/transcript"
	"speakerline/internal/waveform"
)

const (
	// NormalizedName is the intermediate full-length canonical file.
	NormalizedName = "normalized.wav"
	segmentPattern = "segment_%03d.wav"
	segmentGlob    = "segment_*.wav"
)

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// DurationProber returns the duration of an audio file in seconds.
type DurationProber func(ctx context.Context, path string) (float64, error)

// Segmenter normalizes and splits recordings.
type Segmenter struct {
	ffmpegBinary string
	chunkSeconds int
	run          CommandRunner
	probe        DurationProber
	logger       *slog.Logger
}

// New builds a Segmenter from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Segmenter {
	s := &Segmenter{
		ffmpegBinary: "ffmpeg",
		chunkSeconds: 300,
		logger:       logging.NewComponentLogger(logger, "segmenter"),
	}
	ffprobeBinary := "ffprobe"
	if cfg != nil {
		s.ffmpegBinary = cfg.Segmentation.FFmpegBinary
		s.chunkSeconds = cfg.Segmentation.ChunkSeconds
		ffprobeBinary = cfg.Segmentation.FFprobeBinary
	}
	s.run = runCommand
	s.probe = func(ctx context.Context, path string) (float64, error) {
		return ffprobe.ProbeDuration(ctx, ffprobeBinary, path)
	}
	return s
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Segmenter) WithCommandRunner(runner CommandRunner) {
	s.run = runner
}

// WithProber sets a custom duration prober (for testing).
func (s *Segmenter) WithProber(prober DurationProber) {
	s.probe = prober
}

// Segment normalizes input into outputDir and returns its chunks in index
// order. Recordings no longer than the chunk length become a single segment
// backed by the normalized file itself.
func (s *Segmenter) Segment(ctx context.Context, input, outputDir string) ([]transcript.Segment, error) {
	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(KindInputNotFound, input, nil)
		}
		return nil, newError(KindInputNotFound, input, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, newError(KindTranscode, outputDir, fmt.Errorf("ensure output dir: %w", err))
	}

	normalized := filepath.Join(outputDir, NormalizedName)
	if err := s.normalize(ctx, input, normalized); err != nil {
		return nil, err
	}

	duration, err := s.probe(ctx, normalized)
	if err != nil {
		s.removeQuietly(normalized)
		return nil, newError(KindDurationProbe, normalized, err)
	}

	logger := s.logger.With(logging.Seconds("duration_seconds", duration), logging.Int("chunk_seconds", s.chunkSeconds))
	if duration <= float64(s.chunkSeconds) {
		logger.Debug("recording fits in one segment")
		return []transcript.Segment{{Path: normalized, Index: 0, Offset: 0}}, nil
	}

	paths, err := s.split(ctx, normalized, outputDir)
	if err != nil {
		s.removeQuietly(normalized)
		return nil, err
	}
	s.removeQuietly(normalized)

	segments := make([]transcript.Segment, len(paths))
	for i, path := range paths {
		segments[i] = transcript.Segment{
			Path:   path,
			Index:  uint(i),
			Offset: float64(i * s.chunkSeconds),
		}
	}
	logger.Info("recording segmented", logging.Int("segments", len(segments)))
	return segments, nil
}

func (s *Segmenter) normalize(ctx context.Context, input, dest string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vn",
	}
	args = append(args, canonicalAudioArgs()...)
	args = append(args, dest)

	if err := s.run(ctx, s.ffmpegBinary, args...); err != nil {
		s.removeQuietly(dest)
		return newError(KindTranscode, input, err)
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		s.removeQuietly(dest)
		return newError(KindTranscode, input, errors.New("transcoder produced no output"))
	}
	return nil
}

func (s *Segmenter) split(ctx context.Context, normalized, outputDir string) ([]string, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", normalized,
		"-f", "segment",
		"-segment_time", strconv.Itoa(s.chunkSeconds),
		"-reset_timestamps", "1",
	}
	args = append(args, canonicalAudioArgs()...)
	args = append(args, filepath.Join(outputDir, segmentPattern))

	if err := s.run(ctx, s.ffmpegBinary, args...); err != nil {
		s.removeChunks(outputDir)
		return nil, newError(KindSegmentation, normalized, err)
	}

	paths, err := filepath.Glob(filepath.Join(outputDir, segmentGlob))
	if err != nil {
		s.removeChunks(outputDir)
		return nil, newError(KindSegmentation, normalized, err)
	}
	if len(paths) == 0 {
		return nil, newError(KindNoSegmentsProduced, normalized, nil)
	}
	sort.Strings(paths)
	return paths, nil
}

func canonicalAudioArgs() []string {
	return []string{
		"-ac", "1",
		"-ar", strconv.Itoa(waveform.SampleRate),
		"-c:a", "pcm_s16le",
	}
}

func (s *Segmenter) removeChunks(dir string) {
	paths, _ := filepath.Glob(filepath.Join(dir, segmentGlob))
	for _, path := range paths {
		s.removeQuietly(path)
	}
}

func (s *Segmenter) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("cleanup failed", logging.String("path", path), logging.Error(err))
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
