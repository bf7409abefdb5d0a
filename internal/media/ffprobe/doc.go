// Package ffprobe wraps ffprobe JSON output for the audio files speakerline
// ingests.
//
// Inspect returns the parsed streams and container format. ProbeDuration is
// the narrow call the segmenter uses to decide whether a recording needs to be
// split.
package ffprobe
