package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// Snapshot backends.
const (
	SnapshotFile     = "file"
	SnapshotRedis    = "redis"
	SnapshotPostgres = "postgres"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	TutorAPIURL string `yaml:"tutorAPIURL"`

	SnapshotBackend string `yaml:"snapshotBackend"`
	SnapshotPath    string `yaml:"snapshotPath"`
	SnapshotKey     string `yaml:"snapshotKey"`
	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`
	DatabaseURL     string `yaml:"databaseURL"`

	MaxImageBytes          int64 `yaml:"maxImageBytes"`
	RecordingLimitSeconds  int   `yaml:"recordingLimitSeconds"`
	FeedbackThreshold      int   `yaml:"feedbackThreshold"`
	ChatRateLimitPerMinute int   `yaml:"chatRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("LAYZA_TUTOR_API_URL"); v != "" {
		cfg.TutorAPIURL = v
	}
	if v := os.Getenv("LAYZA_SNAPSHOT_BACKEND"); v != "" {
		cfg.SnapshotBackend = v
	}
	if v := os.Getenv("LAYZA_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LAYZA_RECORDING_LIMIT_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parse LAYZA_RECORDING_LIMIT_SECONDS: %w", err)
		}
		cfg.RecordingLimitSeconds = seconds
	}
	if cfg.SnapshotBackend == "" {
		cfg.SnapshotBackend = SnapshotFile
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.TutorAPIURL == "" {
		return errors.New("config: tutorAPIURL is required (set in config.yaml or LAYZA_TUTOR_API_URL)")
	}
	switch cfg.SnapshotBackend {
	case SnapshotFile:
		if cfg.SnapshotPath == "" {
			return errors.New("config: snapshotPath is required for the file snapshot backend")
		}
	case SnapshotRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis snapshot backend")
		}
	case SnapshotPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres snapshot backend")
		}
	default:
		return fmt.Errorf("config: unknown snapshotBackend %q (file, redis or postgres)", cfg.SnapshotBackend)
	}
	if cfg.MaxImageBytes < 0 {
		return errors.New("config: maxImageBytes must not be negative")
	}
	if cfg.RecordingLimitSeconds < 0 {
		return errors.New("config: recordingLimitSeconds must not be negative")
	}
	if cfg.FeedbackThreshold < 0 {
		return errors.New("config: feedbackThreshold must not be negative")
	}
	if cfg.ChatRateLimitPerMinute < 0 {
		return errors.New("config: chatRateLimitPerMinute must not be negative")
	}
	return nil
}
