package transcript

import (
	"math"
	"strings"
)

// Segment is one contiguous chunk of the normalized recording.
type Segment struct {
	Path   string  `json:"path"`
	Index  uint    `json:"index"`
	Offset float64 `json:"offset"`
}

// SpeakerTurn is a diarized turn. Start and End are relative to the segment
// and Speaker is only meaningful inside that segment's diarization run.
type SpeakerTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// TranscribedTurn is an emitted turn with absolute times.
type TranscribedTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// SegmentResult is the output of processing one segment.
type SegmentResult struct {
	Index    uint              `json:"index"`
	Segments []TranscribedTurn `json:"segments"`
}

// RoundTime rounds seconds to two decimal places.
func RoundTime(seconds float64) float64 {
	return math.Round(seconds*100) / 100
}

// Shift converts a segment-relative turn into an absolute transcribed turn.
// The speaker label is copied unchanged.
func (t SpeakerTurn) Shift(offset float64, text string) TranscribedTurn {
	return TranscribedTurn{
		Start:   RoundTime(t.Start + offset),
		End:     RoundTime(t.End + offset),
		Speaker: t.Speaker,
		Text:    strings.TrimSpace(text),
	}
}
