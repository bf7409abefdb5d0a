package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"speakerline/internal/config"
	"speakerline/internal/language"
	"speakerline/internal/processor"
	"speakerline/internal/transcript"
	"speakerline/internal/waveform"
)

// Backend is the request surface a Session drives.
type Backend interface {
	Diarize(ctx context.Context, path string) ([]transcript.SpeakerTurn, error)
	Transcribe(ctx context.Context, path, language string) (string, error)
	Release(ctx context.Context) error
	Err() error
	Close() error
}

// Session adapts one backend to the processor's model interfaces.
type Session struct {
	backend  Backend
	scratch  string
	language string
}

// NewSession creates a session writing per-turn audio under scratch. The
// scratch directory is removed on Close.
func NewSession(backend Backend, scratch, lang string) (*Session, error) {
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("ensure scratch dir: %w", err)
	}
	return &Session{backend: backend, scratch: scratch, language: lang}, nil
}

// Models returns the session as processor model handles.
func (s *Session) Models() processor.Models {
	return processor.Models{Diarizer: s, Transcriber: s, Releaser: s, Health: s}
}

// Err reports a backend fault that requires a new session.
func (s *Session) Err() error {
	return s.backend.Err()
}

// Diarize runs diarization on path and decodes the segment for slicing.
func (s *Session) Diarize(ctx context.Context, path string) ([]transcript.SpeakerTurn, *waveform.Waveform, error) {
	turns, err := s.backend.Diarize(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	audio, err := waveform.Decode(path)
	if err != nil {
		return nil, nil, err
	}
	return turns, audio, nil
}

// Transcribe writes audio to a scoped temp WAV and transcribes it.
func (s *Session) Transcribe(ctx context.Context, audio *waveform.Waveform) (string, error) {
	f, err := os.CreateTemp(s.scratch, "turn-*.wav")
	if err != nil {
		return "", fmt.Errorf("create turn audio: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	defer os.Remove(path)

	if err := audio.WriteFile(path); err != nil {
		return "", err
	}
	return s.backend.Transcribe(ctx, path, s.language)
}

// Release frees transient accelerator memory.
func (s *Session) Release(ctx context.Context) error {
	return s.backend.Release(ctx)
}

// Close stops the backend and removes the scratch directory.
func (s *Session) Close() error {
	err := s.backend.Close()
	if rmErr := os.RemoveAll(s.scratch); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

// Loader starts one sidecar-backed session per worker slot.
type Loader struct {
	cfg    *config.Config
	logger *slog.Logger
	start  func(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error)
}

// NewLoader creates a loader for the configured models.
func NewLoader(cfg *config.Config, logger *slog.Logger) *Loader {
	return &Loader{
		cfg:    cfg,
		logger: logger,
		start: func(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error) {
			return StartSidecar(ctx, opts, logger)
		},
	}
}

// Load starts the models for slot. The returned closer stops them.
func (l *Loader) Load(ctx context.Context, slot int) (processor.Models, io.Closer, error) {
	lang, err := language.Normalize(l.cfg.Models.Language)
	if err != nil {
		return processor.Models{}, nil, fmt.Errorf("models.language: %w", err)
	}

	workDir, err := os.MkdirTemp("", "speakerline-slot-"+strconv.Itoa(slot)+"-")
	if err != nil {
		return processor.Models{}, nil, fmt.Errorf("create slot work dir: %w", err)
	}
	opts := Options{
		UVXBinary:        l.cfg.Models.UVXBinary,
		WhisperModel:     l.cfg.Models.WhisperModel,
		DiarizationModel: l.cfg.Models.DiarizationModel,
		CUDAEnabled:      l.cfg.Models.CUDAEnabled,
		HFToken:          l.cfg.Models.HFToken,
		WorkDir:          workDir,
	}
	backend, err := l.start(ctx, opts, l.logger)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return processor.Models{}, nil, err
	}
	session, err := NewSession(backend, workDir, lang)
	if err != nil {
		_ = backend.Close()
		_ = os.RemoveAll(workDir)
		return processor.Models{}, nil, err
	}
	return session.Models(), session, nil
}
