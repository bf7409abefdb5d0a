package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"speakerline/internal/config"
	"speakerline/internal/deps"
)

// ErrInsufficientSpace is returned when a directory has less free space than required.
var ErrInsufficientSpace = errors.New("insufficient free disk space")

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// EnsureFreeSpace returns ErrInsufficientSpace when path has less than
// minBytes available. A zero minimum always passes.
func EnsureFreeSpace(path string, minBytes uint64) error {
	if minBytes == 0 {
		return nil
	}
	free, err := FreeSpace(path)
	if err != nil {
		return err
	}
	if free < minBytes {
		return fmt.Errorf("%w: %s has %s free, need %s",
			ErrInsufficientSpace, path, humanize.IBytes(free), humanize.IBytes(minBytes))
	}
	return nil
}

// CheckDiskSpace reports whether path has at least minBytes free.
func CheckDiskSpace(name, path string, minBytes uint64) Result {
	free, err := FreeSpace(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s free", humanize.IBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s, need %s", detail, humanize.IBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps evaluates the external binaries role needs. The server
// segments uploads with ffmpeg; workers launch the inference sidecar via uvx.
func CheckSystemDeps(_ context.Context, cfg *config.Config, role Role) []deps.Status {
	var requirements []deps.Requirement
	switch role {
	case RoleServer:
		requirements = []deps.Requirement{
			{
				Name:        "FFmpeg",
				Command:     cfg.Segmentation.FFmpegBinary,
				Description: "Required for normalizing and segmenting uploads",
			},
			{
				Name:        "FFprobe",
				Command:     cfg.Segmentation.FFprobeBinary,
				Description: "Required for duration probing",
			},
		}
	case RoleWorker:
		requirements = []deps.Requirement{
			{
				Name:        "uvx",
				Command:     cfg.Models.UVXBinary,
				Description: "Required for the whisper/pyannote inference sidecar",
			},
		}
	}
	return deps.CheckBinaries(requirements)
}

func queueDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Queue.DatabasePath)
}
