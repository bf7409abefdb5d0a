package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/transcript"
	"speakerline/internal/waveform"
)

// MinTurnSeconds is the shortest turn that is transcribed.
const MinTurnSeconds = 0.5

// Drop reasons recorded on metrics.
const (
	DropShort = "short"
	DropEmpty = "empty"
)

// Diarizer splits a segment into speaker turns and returns the decoded audio
// the turns refer to.
type Diarizer interface {
	Diarize(ctx context.Context, path string) ([]transcript.SpeakerTurn, *waveform.Waveform, error)
}

// Transcriber converts a span of audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio *waveform.Waveform) (string, error)
}

// Releaser frees transient accelerator memory held after a segment.
type Releaser interface {
	Release(ctx context.Context) error
}

// HealthChecker reports a fault that leaves loaded models unusable until
// they are reloaded.
type HealthChecker interface {
	Err() error
}

// Models is the set of loaded model handles one worker slot uses.
type Models struct {
	Diarizer    Diarizer
	Transcriber Transcriber
	Releaser    Releaser
	Health      HealthChecker
}

// Fault returns the error that made the models unusable, or nil. Models
// without a health checker never report a fault.
func (m Models) Fault() error {
	if m.Health == nil {
		return nil
	}
	return m.Health.Err()
}

func (m Models) validate() error {
	if m.Diarizer == nil {
		return errors.New("diarizer not configured")
	}
	if m.Transcriber == nil {
		return errors.New("transcriber not configured")
	}
	return nil
}

// Processor runs segments through diarization and transcription.
type Processor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a processor. Both arguments may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Processor {
	return &Processor{
		logger:  logging.NewComponentLogger(logger, "processor"),
		metrics: m,
	}
}

// Process diarizes seg, transcribes each usable turn and returns the turns in
// diarization order with absolute times. The models' transient memory is
// released afterwards whether or not processing succeeded.
func (p *Processor) Process(ctx context.Context, models Models, seg transcript.Segment) (transcript.SegmentResult, error) {
	if err := models.validate(); err != nil {
		return transcript.SegmentResult{}, err
	}
	ctx = logging.WithSegmentIndex(ctx, seg.Index)
	logger := logging.WithContext(ctx, p.logger)

	defer func() {
		if models.Releaser == nil {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if releaseErr := models.Releaser.Release(releaseCtx); releaseErr != nil {
			logging.WarnWithContext(logger, "model memory release failed", "model_release_failed",
				logging.Error(releaseErr),
				logging.String(logging.FieldErrorHint, "watch accelerator memory on this worker"),
				logging.String(logging.FieldImpact, "next segment may run with less free memory"),
			)
		}
	}()

	start := time.Now()
	turns, audio, err := models.Diarizer.Diarize(ctx, seg.Path)
	if err != nil {
		return transcript.SegmentResult{}, fmt.Errorf("diarize segment %d: %w", seg.Index, err)
	}
	if audio == nil {
		return transcript.SegmentResult{}, fmt.Errorf("diarize segment %d: no audio returned", seg.Index)
	}
	logger.Info("diarization complete",
		logging.Int("turns", len(turns)),
		logging.Duration("elapsed", time.Since(start)),
	)

	minSamples := float64(audio.SampleRate) * MinTurnSeconds
	emitted := make([]transcript.TranscribedTurn, 0, len(turns))
	for i, turn := range turns {
		if err := ctx.Err(); err != nil {
			return transcript.SegmentResult{}, err
		}
		span := audio.Slice(turn.Start, turn.End)
		if float64(span.Len()) < minSamples {
			p.metrics.RecordTurnDropped(DropShort)
			logger.Debug("skipping short turn",
				logging.Int("turn", i),
				logging.Seconds("start", turn.Start),
				logging.Seconds("end", turn.End),
			)
			continue
		}

		text, err := models.Transcriber.Transcribe(ctx, span)
		if err != nil {
			return transcript.SegmentResult{}, fmt.Errorf("transcribe segment %d turn %d: %w", seg.Index, i, err)
		}
		if strings.TrimSpace(text) == "" {
			p.metrics.RecordTurnDropped(DropEmpty)
			logger.Debug("skipping empty transcription", logging.Int("turn", i))
			continue
		}

		emitted = append(emitted, turn.Shift(seg.Offset, text))
		p.metrics.RecordTurnEmitted()
	}

	logger.Info("segment processed",
		logging.Int("emitted", len(emitted)),
		logging.Int("dropped", len(turns)-len(emitted)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return transcript.SegmentResult{Index: seg.Index, Segments: emitted}, nil
}
