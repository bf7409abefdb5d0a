package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations.
type Paths struct {
	TempRoot string `toml:"temp_root"`
	LogDir   string `toml:"log_dir"`
}

// Server contains configuration for the request-serving process.
type Server struct {
	Bind        string `toml:"bind"`
	APIKey      string `toml:"api_key"`
	MaxUploadMB int    `toml:"max_upload_mb"`
	MinFreeGiB  int    `toml:"min_free_gib"`
}

// Segmentation contains configuration for splitting long recordings.
type Segmentation struct {
	ChunkSeconds  int    `toml:"chunk_seconds"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Queue contains configuration for the SQLite-backed task queue shared by
// the server and the workers.
type Queue struct {
	DatabasePath      string `toml:"database_path"`
	ResultTTLHours    int    `toml:"result_ttl_hours"`
	PollInterval      int    `toml:"poll_interval"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	HeartbeatTimeout  int    `toml:"heartbeat_timeout"`
	MaxAttempts       int    `toml:"max_attempts"`
	SweepInterval     int    `toml:"sweep_interval"`
}

// Worker contains configuration for inference worker processes.
type Worker struct {
	Concurrency int    `toml:"concurrency"`
	MetricsBind string `toml:"metrics_bind"`
}

// Models contains configuration for the speech-to-text and diarization models.
type Models struct {
	WhisperModel     string `toml:"whisper_model"`
	Language         string `toml:"language"`
	DiarizationModel string `toml:"diarization_model"`
	CUDAEnabled      bool   `toml:"cuda_enabled"`
	HFToken          string `toml:"hf_token"`
	UVXBinary        string `toml:"uvx_binary"`
}

// Events contains configuration for optional Kafka event publishing.
type Events struct {
	Enabled       bool     `toml:"enabled"`
	Brokers       []string `toml:"brokers"`
	TopicJobs     string   `toml:"topic_jobs"`
	TopicSegments string   `toml:"topic_segments"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for speakerline.
//
// Configuration sections by subsystem:
//   - Paths: job temp root and log directory
//   - Server: HTTP bind address, API key, upload limits
//   - Segmentation: chunk length and transcoder binaries
//   - Queue: task database location, result expiry, heartbeats
//   - Worker: inference slots per worker process
//   - Models: whisper / pyannote selection and language hint
//   - Events: Kafka job and segment events
//   - Logging: log format and level
type Config struct {
	Paths        Paths        `toml:"paths"`
	Server       Server       `toml:"server"`
	Segmentation Segmentation `toml:"segmentation"`
	Queue        Queue        `toml:"queue"`
	Worker       Worker       `toml:"worker"`
	Models       Models       `toml:"models"`
	Events       Events       `toml:"events"`
	Logging      Logging      `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("speakerline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories both processes rely on.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.TempRoot, c.Paths.LogDir, filepath.Dir(c.Queue.DatabasePath)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ResultTTL returns how long finished task groups remain retrievable.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Queue.ResultTTLHours) * time.Hour
}

// PollInterval returns the idle wait between queue claims.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollInterval) * time.Second
}

// HeartbeatInterval returns how often running tasks refresh their heartbeat.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Queue.HeartbeatInterval) * time.Second
}

// HeartbeatTimeout returns the age after which a running task is reclaimed.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Queue.HeartbeatTimeout) * time.Second
}

// SweepInterval returns how often the server janitor sweeps the queue.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Queue.SweepInterval) * time.Second
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
