// Package language normalizes transcription language hints.
//
// Hints arrive from configuration and environment as BCP 47 tags ("en-US"),
// ISO 639 codes ("en", "eng", "ger") or English words ("german"). The
// inference sidecar expects a bare ISO 639-1 code, or nothing for automatic
// detection.
package language
