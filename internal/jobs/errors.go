package jobs

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrSubmissionFailed marks every error returned by Dispatcher.Submit.
var ErrSubmissionFailed = errors.New("submission failed")

// SubmissionError describes which submission step failed. It matches
// ErrSubmissionFailed and unwraps to the underlying cause.
type SubmissionError struct {
	Stage string
	Err   error

	// root is the server directory whose paths are hidden from clients.
	root string
}

// Submission stages.
const (
	StageCapacity = "capacity"
	StageStore    = "store_upload"
	StageSegment  = "segment"
	StageEnqueue  = "enqueue"
)

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed: %s: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrSubmissionFailed.
func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

// ClientMessage is the error text with every path under the server's temp
// root reduced to its file name.
func (e *SubmissionError) ClientMessage() string {
	return redactPaths(e.Error(), e.root)
}

// pathEnd marks characters that end a path embedded in tool output.
const pathEnd = " \t\n:;,'\"()[]"

func redactPaths(msg, root string) string {
	root = strings.TrimRight(filepath.Clean(root), string(filepath.Separator))
	if root == "" || root == "." {
		return msg
	}
	var b strings.Builder
	for {
		i := strings.Index(msg, root)
		if i < 0 {
			b.WriteString(msg)
			return b.String()
		}
		b.WriteString(msg[:i])
		end := len(msg)
		if n := strings.IndexAny(msg[i:], pathEnd); n >= 0 {
			end = i + n
		}
		b.WriteString(filepath.Base(msg[i:end]))
		msg = msg[end:]
	}
}

// ErrorKind classifies the failure for API status mapping.
func (e *SubmissionError) ErrorKind() string {
	var classifier interface{ ErrorKind() string }
	if errors.As(e.Err, &classifier) {
		return classifier.ErrorKind()
	}
	return e.Stage
}

func (d *Dispatcher) fail(stage string, err error) error {
	return &SubmissionError{Stage: stage, Err: err, root: d.tempRoot}
}
