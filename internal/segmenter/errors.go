package segmenter

import (
	"errors"
	"fmt"
)

// Sentinel errors matched through errors.Is on *Error values.
var (
	ErrInputNotFound      = errors.New("input not found")
	ErrTranscode          = errors.New("transcode failed")
	ErrDurationProbe      = errors.New("duration probe failed")
	ErrSegmentation       = errors.New("segmentation failed")
	ErrNoSegmentsProduced = errors.New("no segments produced")
)

// Kind classifies a segmentation failure.
type Kind string

const (
	KindInputNotFound      Kind = "input_not_found"
	KindTranscode          Kind = "transcode"
	KindDurationProbe      Kind = "duration_probe"
	KindSegmentation       Kind = "segmentation"
	KindNoSegmentsProduced Kind = "no_segments_produced"
)

var kindSentinels = map[Kind]error{
	KindInputNotFound:      ErrInputNotFound,
	KindTranscode:          ErrTranscode,
	KindDurationProbe:      ErrDurationProbe,
	KindSegmentation:       ErrSegmentation,
	KindNoSegmentsProduced: ErrNoSegmentsProduced,
}

// Error is returned by Segment for every failure.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := kindSentinels[e.Kind].Error()
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// ErrorKind classifies the failure for callers mapping errors to responses.
// A missing input is the caller's problem; everything else is a tool failure.
func (e *Error) ErrorKind() string {
	if e.Kind == KindInputNotFound {
		return "not_found"
	}
	return "external_tool"
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}
