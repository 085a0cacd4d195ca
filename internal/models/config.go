package models

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr  string         `yaml:"server_addr"`
	DatabaseURL string         `yaml:"database_url"`
	Log         LogConfig      `yaml:"log"`
	Storage     StorageConfig  `yaml:"storage"`
	Tracker     TrackerConfig  `yaml:"tracker"`
	Pipeline    PipelineConfig `yaml:"pipeline"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Classifier  ClassifyConfig `yaml:"classifier"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type StorageConfig struct {
	Driver        string `yaml:"driver"` // s3 or memory
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PublicBaseURL string `yaml:"public_base_url"`
	PathStyle     bool   `yaml:"path_style"`
}

type TrackerConfig struct {
	Driver   string        `yaml:"driver"` // memory or redis
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

type PipelineConfig struct {
	Workers          int    `yaml:"workers"`
	QueueSize        int    `yaml:"queue_size"`
	MaxUploadBytes   int64  `yaml:"max_upload_bytes"`
	ThumbnailSize    int    `yaml:"thumbnail_size"`
	ThumbnailQuality int    `yaml:"thumbnail_quality"`
	WatermarkText    string `yaml:"watermark_text"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ClassifyConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxImageBytes int64         `yaml:"max_image_bytes"`
}

// DefaultConfig returns the settings used when a key is absent from the file.
func DefaultConfig() Config {
	return Config{
		ServerAddr: ":8080",
		Log:        LogConfig{Level: "info", Format: "text"},
		Storage:    StorageConfig{Driver: "memory", Region: "us-east-1"},
		Tracker:    TrackerConfig{Driver: "memory", TTL: time.Hour, Capacity: 100_000},
		Pipeline: PipelineConfig{
			Workers:          4,
			QueueSize:        64,
			MaxUploadBytes:   50 << 20,
			ThumbnailSize:    960,
			ThumbnailQuality: 82,
		},
		Kafka:      KafkaConfig{Topic: "media.processed"},
		Classifier: ClassifyConfig{Timeout: 30 * time.Second, MaxImageBytes: 10 << 20},
	}
}

func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults plus environment
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.DatabaseURL, "DATABASE_URL")
	setFromEnv(&c.Storage.AccessKey, "S3_ACCESS_KEY")
	setFromEnv(&c.Storage.SecretKey, "S3_SECRET_KEY")
	setFromEnv(&c.Tracker.RedisURL, "REDIS_URL")
	setFromEnv(&c.Classifier.APIKey, "CLASSIFIER_API_KEY")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" || c.Storage.Endpoint == "" {
			return errors.New("storage.bucket and storage.endpoint are required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Tracker.Driver {
	case "memory":
	case "redis":
		if c.Tracker.RedisURL == "" {
			return errors.New("tracker.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown tracker driver %q", c.Tracker.Driver)
	}

	if c.Pipeline.Workers < 1 {
		return errors.New("pipeline.workers must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return errors.New("pipeline.queue_size must be at least 1")
	}
	if c.Pipeline.ThumbnailQuality < 1 || c.Pipeline.ThumbnailQuality > 100 {
		return errors.New("pipeline.thumbnail_quality must be within 1..100")
	}
	if c.Pipeline.ThumbnailSize < 1 {
		return errors.New("pipeline.thumbnail_size must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	return nil
}
