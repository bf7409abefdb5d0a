package jobs

import (
	"errors"
	"strings"
	"testing"
)

func TestClientMessageReducesServerPathsToNames(t *testing.T) {
	root := "/var/lib/speakerline/tmp"
	cause := errors.New("transcode failed: " + root + "/job-1/meeting.wav: ffmpeg: exit status 1: " +
		root + "/job-1/meeting.wav: Invalid data found when processing input")
	err := &SubmissionError{Stage: StageSegment, Err: cause, root: root}

	got := err.ClientMessage()
	if strings.Contains(got, root) {
		t.Fatalf("client message leaks %q: %q", root, got)
	}
	want := "submission failed: segment: transcode failed: meeting.wav: ffmpeg: exit status 1: meeting.wav: Invalid data found when processing input"
	if got != want {
		t.Fatalf("client message = %q, want %q", got, want)
	}
	if !strings.Contains(err.Error(), root) {
		t.Fatalf("Error() should keep full paths for logs: %q", err.Error())
	}
}

func TestClientMessageWithoutRootIsUnchanged(t *testing.T) {
	err := &SubmissionError{Stage: StageCapacity, Err: errors.New("insufficient space")}
	if got := err.ClientMessage(); got != err.Error() {
		t.Fatalf("client message = %q, want %q", got, err.Error())
	}
}
