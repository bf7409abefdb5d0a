package processor_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"speakerline/internal/logging"
	"speakerline/internal/metrics"
	"speakerline/internal/processor"
	"speakerline/internal/transcript"
	"speakerline/internal/waveform"
)

type stubDiarizer struct {
	turns   []transcript.SpeakerTurn
	seconds float64
	err     error
	calls   int
}

func (d *stubDiarizer) Diarize(_ context.Context, _ string) ([]transcript.SpeakerTurn, *waveform.Waveform, error) {
	d.calls++
	if d.err != nil {
		return nil, nil, d.err
	}
	samples := make([]int, int(d.seconds*waveform.SampleRate))
	return d.turns, &waveform.Waveform{Samples: samples, SampleRate: waveform.SampleRate, BitDepth: waveform.BitDepth}, nil
}

// stubTranscriber returns texts in call order and records span lengths.
type stubTranscriber struct {
	mu      sync.Mutex
	texts   []string
	lengths []int
	err     error
}

func (s *stubTranscriber) Transcribe(_ context.Context, audio *waveform.Waveform) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.lengths = append(s.lengths, audio.Len())
	if len(s.texts) == 0 {
		return "", nil
	}
	text := s.texts[0]
	s.texts = s.texts[1:]
	return text, nil
}

type countingReleaser struct {
	calls int
	err   error
}

func (r *countingReleaser) Release(context.Context) error {
	r.calls++
	return r.err
}

func newProcessor() *processor.Processor {
	return processor.New(logging.NewNop(), metrics.New())
}

func TestProcessSingleTurnWholeSegment(t *testing.T) {
	diarizer := &stubDiarizer{
		seconds: 120,
		turns:   []transcript.SpeakerTurn{{Start: 0, End: 120, Speaker: "SPEAKER_00"}},
	}
	transcriber := &stubTranscriber{texts: []string{"  hello world  "}}
	releaser := &countingReleaser{}

	result, err := newProcessor().Process(context.Background(), processor.Models{
		Diarizer: diarizer, Transcriber: transcriber, Releaser: releaser,
	}, transcript.Segment{Path: "normalized.wav", Index: 0, Offset: 0})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := transcript.SegmentResult{Index: 0, Segments: []transcript.TranscribedTurn{
		{Start: 0, End: 120, Speaker: "SPEAKER_00", Text: "hello world"},
	}}
	if !reflect.DeepEqual(result, want) {
		t.Fatalf("result = %+v, want %+v", result, want)
	}
	if transcriber.lengths[0] != 120*waveform.SampleRate {
		t.Fatalf("transcribed %d samples, want whole segment", transcriber.lengths[0])
	}
	if releaser.calls != 1 {
		t.Fatalf("release called %d times, want 1", releaser.calls)
	}
}

func TestProcessShiftsOffsetsAndKeepsOrder(t *testing.T) {
	diarizer := &stubDiarizer{
		seconds: 10,
		turns: []transcript.SpeakerTurn{
			{Start: 2.346, End: 4.0, Speaker: "SPEAKER_01"},
			{Start: 0.0, End: 1.0, Speaker: "SPEAKER_00"},
		},
	}
	transcriber := &stubTranscriber{texts: []string{"later", "earlier"}}

	result, err := newProcessor().Process(context.Background(), processor.Models{
		Diarizer: diarizer, Transcriber: transcriber,
	}, transcript.Segment{Path: "segment_001.wav", Index: 1, Offset: 300})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Index != 1 || len(result.Segments) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	first := result.Segments[0]
	if first.Start != 302.35 || first.End != 304 || first.Speaker != "SPEAKER_01" || first.Text != "later" {
		t.Fatalf("first turn = %+v", first)
	}
	if result.Segments[1].Start != 300 || result.Segments[1].Speaker != "SPEAKER_00" {
		t.Fatalf("second turn = %+v", result.Segments[1])
	}
}

func TestProcessDropsShortAndEmptyTurns(t *testing.T) {
	diarizer := &stubDiarizer{
		seconds: 10,
		turns: []transcript.SpeakerTurn{
			{Start: 0.0, End: 0.4, Speaker: "A"},
			{Start: 1.0, End: 2.0, Speaker: "B"},
			{Start: 3.0, End: 3.5, Speaker: "C"},
			{Start: 9.8, End: 12.0, Speaker: "D"},
		},
	}
	transcriber := &stubTranscriber{texts: []string{"   ", "exactly half"}}

	result, err := newProcessor().Process(context.Background(), processor.Models{
		Diarizer: diarizer, Transcriber: transcriber,
	}, transcript.Segment{Path: "segment.wav"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// A is 0.4s. D is clamped to 0.2s of buffer. B transcribes to whitespace.
	if len(transcriber.lengths) != 2 {
		t.Fatalf("expected 2 transcriptions, got %d", len(transcriber.lengths))
	}
	if len(result.Segments) != 1 || result.Segments[0].Speaker != "C" || result.Segments[0].Text != "exactly half" {
		t.Fatalf("unexpected segments: %+v", result.Segments)
	}
}

func TestProcessNoTurnsYieldsEmptySegments(t *testing.T) {
	diarizer := &stubDiarizer{seconds: 5}
	result, err := newProcessor().Process(context.Background(), processor.Models{
		Diarizer: diarizer, Transcriber: &stubTranscriber{},
	}, transcript.Segment{Path: "silence.wav", Index: 3})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Index != 3 || result.Segments == nil || len(result.Segments) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProcessReleasesOnFailure(t *testing.T) {
	cases := []struct {
		name        string
		diarizer    *stubDiarizer
		transcriber *stubTranscriber
	}{
		{
			name:        "diarization fails",
			diarizer:    &stubDiarizer{err: errors.New("pipeline exploded")},
			transcriber: &stubTranscriber{},
		},
		{
			name: "transcription fails",
			diarizer: &stubDiarizer{
				seconds: 5,
				turns:   []transcript.SpeakerTurn{{Start: 0, End: 2, Speaker: "A"}},
			},
			transcriber: &stubTranscriber{err: errors.New("CUDA out of memory")},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			releaser := &countingReleaser{}
			_, err := newProcessor().Process(context.Background(), processor.Models{
				Diarizer: tc.diarizer, Transcriber: tc.transcriber, Releaser: releaser,
			}, transcript.Segment{Path: "segment.wav"})
			if err == nil {
				t.Fatal("expected error")
			}
			if releaser.calls != 1 {
				t.Fatalf("release called %d times, want 1", releaser.calls)
			}
		})
	}
}

func TestProcessReleaseErrorDoesNotFailSegment(t *testing.T) {
	diarizer := &stubDiarizer{
		seconds: 2,
		turns:   []transcript.SpeakerTurn{{Start: 0, End: 2, Speaker: "A"}},
	}
	releaser := &countingReleaser{err: errors.New("cache flush failed")}
	result, err := newProcessor().Process(context.Background(), processor.Models{
		Diarizer: diarizer, Transcriber: &stubTranscriber{texts: []string{"hi"}}, Releaser: releaser,
	}, transcript.Segment{Path: "segment.wav"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.Segments) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProcessRequiresModels(t *testing.T) {
	if _, err := newProcessor().Process(context.Background(), processor.Models{}, transcript.Segment{}); err == nil {
		t.Fatal("expected error for missing models")
	}
}
