package transcript

import (
	"fmt"
	"sort"
)

// SpeakerMap assigns global ids to raw speaker labels in first-seen order.
// The zero value is not usable; call NewSpeakerMap.
type SpeakerMap struct {
	ids   map[string]string
	order []string
}

// NewSpeakerMap returns an empty map. A new map is built for every
// aggregation and never persisted.
func NewSpeakerMap() *SpeakerMap {
	return &SpeakerMap{ids: make(map[string]string)}
}

// Global returns the global id for a raw label, minting SPEAKER_<n> on first sight.
func (m *SpeakerMap) Global(label string) string {
	if id, ok := m.ids[label]; ok {
		return id
	}
	id := fmt.Sprintf("SPEAKER_%d", len(m.order)+1)
	m.ids[label] = id
	m.order = append(m.order, label)
	return id
}

// Len returns the number of distinct global ids assigned.
func (m *SpeakerMap) Len() int {
	return len(m.order)
}

// Merge orders results by segment index and concatenates their turns. Turns
// within a segment keep their emission order. The input slice is not modified.
func Merge(results []SegmentResult) []TranscribedTurn {
	ordered := append([]SegmentResult(nil), results...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	total := 0
	for _, r := range ordered {
		total += len(r.Segments)
	}
	merged := make([]TranscribedTurn, 0, total)
	for _, r := range ordered {
		merged = append(merged, r.Segments...)
	}
	return merged
}

// Reconcile rewrites every turn's speaker label to its global id, walking the
// sequence once from left to right. It returns the number of distinct speakers.
func Reconcile(turns []TranscribedTurn) int {
	speakers := NewSpeakerMap()
	for i := range turns {
		turns[i].Speaker = speakers.Global(turns[i].Speaker)
	}
	return speakers.Len()
}

// Assemble merges out-of-order segment results into one reconciled transcript.
func Assemble(results []SegmentResult) ([]TranscribedTurn, int) {
	merged := Merge(results)
	total := Reconcile(merged)
	return merged, total
}
