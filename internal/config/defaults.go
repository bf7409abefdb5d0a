package config

const (
	defaultConfigPath             = "~/.config/speakerline/config.toml"
	defaultTempRoot               = "~/.local/share/speakerline/jobs"
	defaultLogDir                 = "~/.local/share/speakerline/logs"
	defaultQueueDatabasePath      = "~/.local/share/speakerline/queue.db"
	defaultServerBind             = "127.0.0.1:8000"
	defaultMaxUploadMB            = 2048
	defaultMinFreeGiB             = 2
	defaultChunkSeconds           = 300
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultResultTTLHours         = 24
	defaultQueuePollInterval      = 2
	defaultQueueHeartbeatInterval = 15
	defaultQueueHeartbeatTimeout  = 120
	defaultQueueMaxAttempts       = 3
	defaultQueueSweepInterval     = 300
	defaultWorkerConcurrency      = 1
	defaultWhisperModel           = "small"
	defaultDiarizationModel       = "pyannote/speaker-diarization-3.1"
	defaultUVXBinary              = "uvx"
	defaultTopicJobs              = "speakerline.jobs"
	defaultTopicSegments          = "speakerline.segments"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			TempRoot: defaultTempRoot,
			LogDir:   defaultLogDir,
		},
		Server: Server{
			Bind:        defaultServerBind,
			MaxUploadMB: defaultMaxUploadMB,
			MinFreeGiB:  defaultMinFreeGiB,
		},
		Segmentation: Segmentation{
			ChunkSeconds:  defaultChunkSeconds,
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Queue: Queue{
			DatabasePath:      defaultQueueDatabasePath,
			ResultTTLHours:    defaultResultTTLHours,
			PollInterval:      defaultQueuePollInterval,
			HeartbeatInterval: defaultQueueHeartbeatInterval,
			HeartbeatTimeout:  defaultQueueHeartbeatTimeout,
			MaxAttempts:       defaultQueueMaxAttempts,
			SweepInterval:     defaultQueueSweepInterval,
		},
		Worker: Worker{
			Concurrency: defaultWorkerConcurrency,
		},
		Models: Models{
			WhisperModel:     defaultWhisperModel,
			DiarizationModel: defaultDiarizationModel,
			UVXBinary:        defaultUVXBinary,
		},
		Events: Events{
			TopicJobs:     defaultTopicJobs,
			TopicSegments: defaultTopicSegments,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
