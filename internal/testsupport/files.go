package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"speakerline/internal/waveform"
)

// WriteWAV writes a canonical mono 16 kHz WAV of the given length filled with
// a low-amplitude sawtooth and returns its path.
func WriteWAV(t testing.TB, path string, seconds float64) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	samples := make([]int, int(seconds*waveform.SampleRate))
	for i := range samples {
		samples[i] = (i % 64) - 32
	}
	w := &waveform.Waveform{Samples: samples, SampleRate: waveform.SampleRate, BitDepth: waveform.BitDepth}
	if err := w.WriteFile(path); err != nil {
		t.Fatalf("write wav %s: %v", path, err)
	}
	return path
}
