// Package waveform decodes and encodes the canonical mono 16-bit PCM WAV
// files produced by the segmenter.
package waveform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// SampleRate is the canonical sample rate both models consume.
	SampleRate = 16000
	// BitDepth is the canonical PCM sample width.
	BitDepth = 16

	wavFormatPCM = 1
)

// ErrInvalidWAV is returned when a file is not a readable RIFF/WAVE file.
var ErrInvalidWAV = errors.New("invalid wav file")

// Waveform is a decoded mono buffer. It is never mutated after decode, so
// slices share the backing array.
type Waveform struct {
	Samples    []int
	SampleRate int
	BitDepth   int
}

// Decode reads a WAV file into memory, down-mixing to mono when needed.
func Decode(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("%w: %s: missing format", ErrInvalidWAV, path)
	}

	channels := buf.Format.NumChannels
	samples := buf.Data
	if channels > 1 {
		samples = downmix(buf.Data, channels)
	}
	return &Waveform{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		BitDepth:   int(decoder.BitDepth),
	}, nil
}

func downmix(data []int, channels int) []int {
	frames := len(data) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return mono
}

// Len returns the number of samples.
func (w *Waveform) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Samples)
}

// Slice returns the samples in [start*sr, end*sr), clamped to the buffer.
func (w *Waveform) Slice(start, end float64) *Waveform {
	if w == nil {
		return nil
	}
	lo := clamp(int(start*float64(w.SampleRate)), 0, len(w.Samples))
	hi := clamp(int(end*float64(w.SampleRate)), lo, len(w.Samples))
	return &Waveform{
		Samples:    w.Samples[lo:hi],
		SampleRate: w.SampleRate,
		BitDepth:   w.BitDepth,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WriteFile encodes the buffer as mono PCM WAV at path.
func (w *Waveform) WriteFile(path string) (err error) {
	if w == nil {
		return errors.New("write wav: nil waveform")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("write wav: ensure dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("write wav: close: %w", closeErr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	bitDepth := w.BitDepth
	if bitDepth <= 0 {
		bitDepth = BitDepth
	}
	encoder := wav.NewEncoder(f, w.SampleRate, bitDepth, 1, wavFormatPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           w.Samples,
		SourceBitDepth: bitDepth,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("write wav: encode: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("write wav: finalize: %w", err)
	}
	return nil
}
