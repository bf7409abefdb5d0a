// Package transcript defines the values that flow between the segmenter, the
// per-segment processor and the result aggregator, plus the fan-in logic that
// turns out-of-order segment results into one ordered, speaker-reconciled
// transcript.
//
// Key types:
//   - Segment: one chunk of normalized audio and its absolute offset
//   - SpeakerTurn: a diarized turn, relative to its segment
//   - TranscribedTurn: an emitted turn with absolute, 2dp-rounded times
//   - SegmentResult: the output of processing one segment
//   - SpeakerMap: raw local label to SPEAKER_<n> assignment
//
// Reconciliation treats equal raw label strings as the same speaker even when
// they came from different segments. Diarization labels are scoped to a single
// run, so two different people can collide on a label such as SPEAKER_00 and
// will be merged. There is no embedding comparison across segments.
package transcript
