package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	if err := c.normalizeSegmentation(); err != nil {
		return err
	}
	if err := c.normalizeQueue(); err != nil {
		return err
	}
	c.normalizeModels()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.TempRoot) == "" {
		c.Paths.TempRoot = defaultTempRoot
	}
	if c.Paths.TempRoot, err = expandPath(c.Paths.TempRoot); err != nil {
		return fmt.Errorf("paths.temp_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	if value, ok := os.LookupEnv("SPEAKERLINE_API_KEY"); ok {
		c.Server.APIKey = value
	}
	c.Server.APIKey = strings.TrimSpace(c.Server.APIKey)
}

func (c *Config) normalizeSegmentation() error {
	if value, ok := os.LookupEnv("SPEAKERLINE_CHUNK_SECONDS"); ok && strings.TrimSpace(value) != "" {
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("SPEAKERLINE_CHUNK_SECONDS: %w", err)
		}
		c.Segmentation.ChunkSeconds = seconds
	}
	c.Segmentation.FFmpegBinary = strings.TrimSpace(c.Segmentation.FFmpegBinary)
	if c.Segmentation.FFmpegBinary == "" {
		c.Segmentation.FFmpegBinary = defaultFFmpegBinary
	}
	c.Segmentation.FFprobeBinary = strings.TrimSpace(c.Segmentation.FFprobeBinary)
	if c.Segmentation.FFprobeBinary == "" {
		c.Segmentation.FFprobeBinary = defaultFFprobeBinary
	}
	return nil
}

func (c *Config) normalizeQueue() error {
	if value, ok := os.LookupEnv("SPEAKERLINE_QUEUE_DB"); ok && strings.TrimSpace(value) != "" {
		c.Queue.DatabasePath = value
	}
	if strings.TrimSpace(c.Queue.DatabasePath) == "" {
		c.Queue.DatabasePath = defaultQueueDatabasePath
	}
	var err error
	if c.Queue.DatabasePath, err = expandPath(c.Queue.DatabasePath); err != nil {
		return fmt.Errorf("queue.database_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeModels() {
	if value, ok := os.LookupEnv("WHISPER_MODEL"); ok && strings.TrimSpace(value) != "" {
		c.Models.WhisperModel = value
	}
	c.Models.WhisperModel = strings.TrimSpace(c.Models.WhisperModel)
	if c.Models.WhisperModel == "" {
		c.Models.WhisperModel = defaultWhisperModel
	}
	if value, ok := os.LookupEnv("WHISPER_LANGUAGE"); ok {
		c.Models.Language = value
	}
	c.Models.Language = strings.ToLower(strings.TrimSpace(c.Models.Language))
	if c.Models.Language == "auto" {
		c.Models.Language = ""
	}
	c.Models.DiarizationModel = strings.TrimSpace(c.Models.DiarizationModel)
	if c.Models.DiarizationModel == "" {
		c.Models.DiarizationModel = defaultDiarizationModel
	}
	if value, ok := os.LookupEnv("HUGGING_FACE_HUB_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Models.HFToken = value
	} else if value, ok := os.LookupEnv("HF_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Models.HFToken = value
	}
	c.Models.HFToken = strings.TrimSpace(c.Models.HFToken)
	c.Models.UVXBinary = strings.TrimSpace(c.Models.UVXBinary)
	if c.Models.UVXBinary == "" {
		c.Models.UVXBinary = defaultUVXBinary
	}
}

func (c *Config) normalizeEvents() {
	if value, ok := os.LookupEnv("KAFKA_BROKERS"); ok && strings.TrimSpace(value) != "" {
		c.Events.Brokers = strings.Split(value, ",")
	}
	brokers := make([]string, 0, len(c.Events.Brokers))
	for _, broker := range c.Events.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Events.Brokers = brokers
	c.Events.TopicJobs = strings.TrimSpace(c.Events.TopicJobs)
	if c.Events.TopicJobs == "" {
		c.Events.TopicJobs = defaultTopicJobs
	}
	c.Events.TopicSegments = strings.TrimSpace(c.Events.TopicSegments)
	if c.Events.TopicSegments == "" {
		c.Events.TopicSegments = defaultTopicSegments
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
