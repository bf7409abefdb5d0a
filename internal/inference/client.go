package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"speakerline/internal/transcript"
)

// ErrClosed is returned by calls on a client whose sidecar has exited or
// been interrupted.
var ErrClosed = errors.New("inference sidecar closed")

// RemoteError is a failure reported by the sidecar for one request. The
// sidecar remains usable afterwards.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ErrorKind implements the classifier used by API and worker error reporting.
func (e *RemoteError) ErrorKind() string {
	return "inference"
}

type request struct {
	ID       int64  `json:"id"`
	Op       string `json:"op"`
	Path     string `json:"path,omitempty"`
	Language string `json:"language,omitempty"`
}

type response struct {
	ID     int64                    `json:"id"`
	Error  string                   `json:"error,omitempty"`
	Turns  []transcript.SpeakerTurn `json:"turns,omitempty"`
	Text   string                   `json:"text,omitempty"`
	Ready  *bool                    `json:"ready,omitempty"`
	Device string                   `json:"device,omitempty"`
}

// Client speaks the sidecar's JSON line protocol. Requests are serialized;
// a sidecar handles one at a time.
type Client struct {
	mu     sync.Mutex
	enc    *json.Encoder
	dec    *json.Decoder
	abort  func()
	nextID int64
	broken error
	device string
}

// NewClient wraps an already-running sidecar's stdin (w) and stdout (r).
// abort is called to tear the sidecar down when a request is interrupted.
func NewClient(r io.Reader, w io.Writer, abort func()) *Client {
	if abort == nil {
		abort = func() {}
	}
	return &Client{
		enc:   json.NewEncoder(w),
		dec:   json.NewDecoder(r),
		abort: abort,
	}
}

// AwaitReady blocks until the sidecar reports that its models are loaded.
func (c *Client) AwaitReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.exchange(ctx, nil)
	if err != nil {
		return err
	}
	if resp.Ready == nil {
		c.broken = fmt.Errorf("%w: unexpected startup message", ErrClosed)
		c.abort()
		return c.broken
	}
	if !*resp.Ready {
		c.broken = fmt.Errorf("%w: %s", ErrClosed, resp.Error)
		c.abort()
		return &RemoteError{Op: "load", Message: resp.Error}
	}
	c.device = resp.Device
	return nil
}

// Device reports the device the sidecar loaded its models onto.
func (c *Client) Device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// Err returns the error that made the client unusable, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Diarize returns the speaker turns of the audio file at path.
func (c *Client) Diarize(ctx context.Context, path string) ([]transcript.SpeakerTurn, error) {
	resp, err := c.call(ctx, request{Op: "diarize", Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Turns, nil
}

// Transcribe returns the text spoken in the audio file at path. An empty
// language requests automatic detection.
func (c *Client) Transcribe(ctx context.Context, path, language string) (string, error) {
	resp, err := c.call(ctx, request{Op: "transcribe", Path: path, Language: language})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Release asks the sidecar to free cached accelerator memory.
func (c *Client) Release(ctx context.Context) error {
	_, err := c.call(ctx, request{Op: "release"})
	return err
}

// Shutdown asks the sidecar to exit after acknowledging.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.call(ctx, request{Op: "shutdown"})
	c.mu.Lock()
	if c.broken == nil {
		c.broken = ErrClosed
	}
	c.mu.Unlock()
	return err
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return response{}, c.broken
	}
	c.nextID++
	req.ID = c.nextID

	resp, err := c.exchange(ctx, &req)
	if err != nil {
		return response{}, err
	}
	if resp.ID != req.ID {
		c.broken = fmt.Errorf("%w: response id %d does not match request %d", ErrClosed, resp.ID, req.ID)
		c.abort()
		return response{}, c.broken
	}
	if resp.Error != "" {
		return response{}, &RemoteError{Op: req.Op, Message: resp.Error}
	}
	return resp, nil
}

// exchange writes req (when non-nil) and reads one response. The caller
// holds c.mu. Interruption or a broken stream leaves the client unusable.
func (c *Client) exchange(ctx context.Context, req *request) (response, error) {
	type outcome struct {
		resp response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		if req != nil {
			if err := c.enc.Encode(req); err != nil {
				done <- outcome{err: fmt.Errorf("write request: %w", err)}
				return
			}
		}
		var resp response
		if err := c.dec.Decode(&resp); err != nil {
			done <- outcome{err: fmt.Errorf("read response: %w", err)}
			return
		}
		done <- outcome{resp: resp}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			c.broken = fmt.Errorf("%w: %v", ErrClosed, out.err)
			c.abort()
			return response{}, c.broken
		}
		return out.resp, nil
	case <-ctx.Done():
		c.broken = fmt.Errorf("%w: interrupted", ErrClosed)
		c.abort()
		return response{}, ctx.Err()
	}
}
