package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSegmentation(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.TempRoot) == "" {
		return errors.New("paths.temp_root must be set")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	if c.Server.MinFreeGiB < 0 {
		return errors.New("server.min_free_gib must be >= 0")
	}
	return nil
}

func (c *Config) validateSegmentation() error {
	if c.Segmentation.ChunkSeconds <= 0 {
		return errors.New("segmentation.chunk_seconds must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.result_ttl_hours":   c.Queue.ResultTTLHours,
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.heartbeat_interval": c.Queue.HeartbeatInterval,
		"queue.heartbeat_timeout":  c.Queue.HeartbeatTimeout,
		"queue.max_attempts":       c.Queue.MaxAttempts,
		"queue.sweep_interval":     c.Queue.SweepInterval,
	}); err != nil {
		return err
	}
	if c.Queue.HeartbeatTimeout <= c.Queue.HeartbeatInterval {
		return errors.New("queue.heartbeat_timeout must be greater than queue.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return errors.New("events.brokers must include at least one broker when events.enabled is true (or set KAFKA_BROKERS)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
