// Package inference runs the speech-to-text and diarization models in a
// long-lived Python sidecar launched with uvx.
//
// Each worker slot owns one sidecar. The sidecar loads whisper and the
// pyannote pipeline once at startup and then serves JSON line requests:
//
//	{"id":1,"op":"diarize","path":"/jobs/x/segments/segment_000.wav"}
//	{"id":2,"op":"transcribe","path":"/tmp/turn-1.wav","language":"en"}
//	{"id":3,"op":"release"}
//
// Session adapts a sidecar to the processor's model interfaces. Diarized
// segments are decoded once in Go; each turn is written to a scoped temp
// WAV for transcription and removed afterwards.
package inference
