package inference

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"speakerline/internal/logging"
)

//go:embed sidecar.py
var sidecarScript string

const (
	cudaIndexURL = "https://download.pytorch.org/whl/cu128"
	pypiIndexURL = "https://pypi.org/simple"

	// DefaultLoadTimeout bounds model download and load at sidecar startup.
	DefaultLoadTimeout = 15 * time.Minute

	shutdownGrace = 10 * time.Second
	stderrTail    = 20
)

// Options configures one sidecar process.
type Options struct {
	UVXBinary        string
	WhisperModel     string
	DiarizationModel string
	CUDAEnabled      bool
	HFToken          string
	// WorkDir receives the sidecar script and per-turn scratch audio.
	WorkDir     string
	LoadTimeout time.Duration
}

// uvxArgs builds the uvx command line that runs the sidecar script.
func (o Options) uvxArgs(scriptPath string) []string {
	args := []string{
		"--quiet",
		"--with", "openai-whisper",
		"--with", "pyannote.audio",
		"--with", "torchaudio",
		"--with", "soundfile",
		"--with", "numpy",
	}
	if o.CUDAEnabled {
		args = append(args,
			"--index-url", cudaIndexURL,
			"--extra-index-url", pypiIndexURL,
		)
	}
	device := "cpu"
	if o.CUDAEnabled {
		device = "cuda"
	}
	return append(args, "python", scriptPath,
		"--whisper-model", o.WhisperModel,
		"--diarization-model", o.DiarizationModel,
		"--device", device,
	)
}

func (o Options) env() []string {
	env := os.Environ()
	if token := strings.TrimSpace(o.HFToken); token != "" {
		env = append(env, "HF_TOKEN="+token)
	}
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		env = append(env, "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	return env
}

// Sidecar is a running inference process.
type Sidecar struct {
	*Client

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *io.PipeReader
	logger  *slog.Logger
	stderr  *tailBuffer
	exited  chan struct{}
	waitErr error
	once    sync.Once
}

// StartSidecar launches the sidecar and waits until its models are loaded.
func StartSidecar(ctx context.Context, opts Options, logger *slog.Logger) (*Sidecar, error) {
	logger = logging.NewComponentLogger(logger, "inference-sidecar")
	if strings.TrimSpace(opts.WorkDir) == "" {
		return nil, errors.New("start sidecar: work dir required")
	}
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("start sidecar: ensure work dir: %w", err)
	}
	scriptPath := filepath.Join(opts.WorkDir, "sidecar.py")
	if err := os.WriteFile(scriptPath, []byte(sidecarScript), 0o644); err != nil {
		return nil, fmt.Errorf("start sidecar: write script: %w", err)
	}

	uvx := opts.UVXBinary
	if strings.TrimSpace(uvx) == "" {
		uvx = "uvx"
	}
	cmd := exec.Command(uvx, opts.uvxArgs(scriptPath)...) //nolint:gosec
	cmd.Env = opts.env()
	cmd.Dir = opts.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("start sidecar: stdin: %w", err)
	}
	// Wait closes StdoutPipe readers early, so output is copied through
	// io.Pipes that are closed only after the process has been reaped.
	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start sidecar: %w", err)
	}

	s := &Sidecar{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: logger,
		stderr: newTailBuffer(stderrTail),
		exited: make(chan struct{}),
	}
	s.Client = NewClient(stdout, stdin, s.kill)

	go s.drainStderr(stderr)
	go func() {
		s.waitErr = cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		close(s.exited)
	}()

	loadTimeout := opts.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	readyCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	logger.Info("waiting for inference models to load",
		logging.String("whisper_model", opts.WhisperModel),
		logging.String("diarization_model", opts.DiarizationModel),
		logging.Bool("cuda", opts.CUDAEnabled),
	)
	if err := s.AwaitReady(readyCtx); err != nil {
		s.kill()
		<-s.exited
		return nil, s.describe(fmt.Errorf("sidecar startup: %w", err))
	}
	logger.Info("inference models loaded", logging.String("device", s.Device()))
	return s, nil
}

func (s *Sidecar) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.stderr.Add(line)
		s.logger.Debug("sidecar", logging.String("line", line))
	}
}

// describe adds recent sidecar stderr, and a hint for gated model errors.
func (s *Sidecar) describe(err error) error {
	tail := s.stderr.String()
	if tail == "" {
		return err
	}
	if strings.Contains(tail, "GatedRepoError") || strings.Contains(tail, "401") {
		return fmt.Errorf("%w: HuggingFace model access denied; accept the pyannote model terms and set HF_TOKEN", err)
	}
	return fmt.Errorf("%w: %s", err, tail)
}

// Err reports why the sidecar can no longer serve requests, or nil. A
// process that exited while idle is reported before any request fails.
func (s *Sidecar) Err() error {
	select {
	case <-s.exited:
		if s.waitErr != nil {
			return s.describe(fmt.Errorf("%w: process exited: %v", ErrClosed, s.waitErr))
		}
		return fmt.Errorf("%w: process exited", ErrClosed)
	default:
	}
	return s.Client.Err()
}

func (s *Sidecar) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	// Unblocks the output copy so Wait can return.
	_ = s.stdout.CloseWithError(ErrClosed)
}

// Close asks the sidecar to exit and kills it if it does not within the
// grace period.
func (s *Sidecar) Close() error {
	var err error
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if shutdownErr := s.Shutdown(ctx); shutdownErr != nil && !errors.Is(shutdownErr, ErrClosed) {
			s.logger.Debug("sidecar shutdown request failed", logging.Error(shutdownErr))
		}
		_ = s.stdin.Close()
		select {
		case <-s.exited:
		case <-ctx.Done():
			s.kill()
			<-s.exited
		}
		var exitErr *exec.ExitError
		if s.waitErr != nil && !errors.As(s.waitErr, &exitErr) {
			err = s.waitErr
		}
	})
	return err
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
