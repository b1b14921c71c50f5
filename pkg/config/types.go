package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration as read from YAML and env.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Batch    BatchConfig    `yaml:"batch"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
	Sink     SinkConfig     `yaml:"sink"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Address      string          `yaml:"address"`
	Port         int             `yaml:"port" validate:"gte=0,lte=65535"`
	Engine       string          `yaml:"engine" validate:"oneof=nethttp fasthttp"`
	ReadTimeout  Duration        `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout Duration        `yaml:"write_timeout" validate:"gt=0"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a per-client token bucket on the ingest route.
// RPS == 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// IngestConfig holds the accept path and queue tunables.
type IngestConfig struct {
	QueueCapacity   int       `yaml:"queue_capacity" validate:"gt=0"`
	MaxPayloadBytes SizeBytes `yaml:"max_payload_bytes" validate:"gt=0"`
}

// BatchConfig is the batch assembly policy.
type BatchConfig struct {
	MaxSize      int      `yaml:"max_size" validate:"gt=0"`
	MaxWait      Duration `yaml:"max_wait" validate:"gt=0"`
	WindowAnchor string   `yaml:"window_anchor" validate:"oneof=open first_item"`
}

// ShutdownConfig bounds the drain protocol.
type ShutdownConfig struct {
	DrainTimeout Duration `yaml:"drain_timeout" validate:"gt=0"`
}

// SinkConfig selects and configures the downstream durable log.
type SinkConfig struct {
	Type            string       `yaml:"type" validate:"oneof=kafka pebble memory"`
	Topic           string       `yaml:"topic" validate:"required"`
	WriteTimeout    Duration     `yaml:"write_timeout" validate:"gt=0"`
	MaxMessageBytes SizeBytes    `yaml:"max_message_bytes" validate:"gt=0"`
	Kafka           KafkaConfig  `yaml:"kafka"`
	Pebble          PebbleConfig `yaml:"pebble"`
}

// KafkaConfig configures the sarama producer.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	ClientID     string   `yaml:"client_id"`
	RequiredAcks string   `yaml:"required_acks" validate:"oneof=all local none"`
	Compression  string   `yaml:"compression" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxRetries   int      `yaml:"max_retries" validate:"gte=0"`
	RetryBackoff Duration `yaml:"retry_backoff" validate:"gte=0"`
	Version      string   `yaml:"version"`
}

// PebbleConfig configures the local durable log.
type PebbleConfig struct {
	Path      string          `yaml:"path"`
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig schedules pruning of old records from the local log.
type RetentionConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	Period  Duration `yaml:"period"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string            `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string            `yaml:"format" validate:"omitempty,oneof=console json"`
	File   LoggingFileConfig `yaml:"file"`
}

// LoggingFileConfig enables a rotating log file.
type LoggingFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig configures the prometheus collectors.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "1MiB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSize parses "64KB", "1MiB" or a plain byte count.
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) Int() int { return int(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDuration parses "500ms"-style strings or numeric seconds.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
