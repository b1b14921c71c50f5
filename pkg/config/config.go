package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddress         = "0.0.0.0"
	defaultPort            = 8000
	defaultQueueCapacity   = 10000
	defaultMaxPayloadBytes = 1 << 20
	defaultBatchMaxSize    = 500
	defaultBatchMaxWait    = 500 * time.Millisecond
	defaultDrainTimeout    = 10 * time.Second
	defaultTopic           = "ads-metrics"
	defaultBroker          = "localhost:9092"
	defaultPebblePath      = "./.ingestlog"
	defaultRetentionCron   = "0 2 * * *"
	defaultRetentionPeriod = 7 * 24 * time.Hour
)

// EffectiveConfigResult is the merged configuration plus where it came from.
type EffectiveConfigResult struct {
	Config *Config
	Path   string
	// Sources lists the layers that contributed: "config", "env", "flags".
	Sources []string
}

// Default returns a config populated with every default value.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with their defaults. Explicit values are
// left untouched so validation can still reject nonsense like negatives.
func ApplyDefaults(c *Config) {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.Engine == "" {
		c.Server.Engine = "nethttp"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(5 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(10 * time.Second)
	}

	if c.Ingest.QueueCapacity == 0 {
		c.Ingest.QueueCapacity = defaultQueueCapacity
	}
	if c.Ingest.MaxPayloadBytes == 0 {
		c.Ingest.MaxPayloadBytes = defaultMaxPayloadBytes
	}

	if c.Batch.MaxSize == 0 {
		c.Batch.MaxSize = defaultBatchMaxSize
	}
	if c.Batch.MaxWait == 0 {
		c.Batch.MaxWait = Duration(defaultBatchMaxWait)
	}
	if c.Batch.WindowAnchor == "" {
		c.Batch.WindowAnchor = "open"
	}

	if c.Shutdown.DrainTimeout == 0 {
		c.Shutdown.DrainTimeout = Duration(defaultDrainTimeout)
	}

	if c.Sink.Type == "" {
		c.Sink.Type = "kafka"
	}
	if c.Sink.Topic == "" {
		c.Sink.Topic = defaultTopic
	}
	if c.Sink.WriteTimeout == 0 {
		c.Sink.WriteTimeout = Duration(5 * time.Second)
	}
	if c.Sink.MaxMessageBytes == 0 {
		c.Sink.MaxMessageBytes = defaultMaxPayloadBytes
	}
	if len(c.Sink.Kafka.Brokers) == 0 {
		c.Sink.Kafka.Brokers = []string{defaultBroker}
	}
	if c.Sink.Kafka.ClientID == "" {
		c.Sink.Kafka.ClientID = "adsingest"
	}
	if c.Sink.Kafka.RequiredAcks == "" {
		c.Sink.Kafka.RequiredAcks = "all"
	}
	if c.Sink.Kafka.Compression == "" {
		c.Sink.Kafka.Compression = "none"
	}
	if c.Sink.Kafka.MaxRetries == 0 {
		c.Sink.Kafka.MaxRetries = 3
	}
	if c.Sink.Kafka.RetryBackoff == 0 {
		c.Sink.Kafka.RetryBackoff = Duration(100 * time.Millisecond)
	}
	if c.Sink.Pebble.Path == "" {
		c.Sink.Pebble.Path = defaultPebblePath
	}
	if c.Sink.Pebble.Retention.Cron == "" {
		c.Sink.Pebble.Retention.Cron = defaultRetentionCron
	}
	if c.Sink.Pebble.Retention.Period == 0 {
		c.Sink.Pebble.Retention.Period = Duration(defaultRetentionPeriod)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.File.Path != "" && c.Logging.File.MaxSizeMB == 0 {
		c.Logging.File.MaxSizeMB = 100
	}
}

var validate = validator.New()

// Validate checks that every size and duration is positive and every enum
// holds a known value. Call it after ApplyDefaults.
func Validate(c *Config) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.Errorf("invalid config: %s", strings.Join(parts, "; "))
		}
		return errors.Wrap(err, "invalid config")
	}
	if c.Sink.Type == "kafka" {
		for _, b := range c.Sink.Kafka.Brokers {
			if strings.TrimSpace(b) == "" {
				return errors.New("invalid config: sink.kafka.brokers contains an empty entry")
			}
		}
	}
	if c.Sink.Type == "pebble" && strings.TrimSpace(c.Sink.Pebble.Path) == "" {
		return errors.New("invalid config: sink.pebble.path is empty")
	}
	if c.Sink.Pebble.Retention.Enabled && c.Sink.Pebble.Retention.Period <= 0 {
		return errors.New("invalid config: sink.pebble.retention.period must be positive")
	}
	return nil
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = defaultAddress
	}
	p := c.Server.Port
	if p == 0 {
		p = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads a YAML config file. The returned error satisfies
// os.IsNotExist when the file is missing.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `ADSINGEST_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("ADSINGEST_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEffective layers file, env and flags (in that order, later wins),
// applies defaults and validates. A missing file is only an error when the
// path was given explicitly with --config.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	res.Path = ResolveConfigPath(flags.Config, flags.Set["config"])

	cfg, err := Load(res.Path)
	switch {
	case err == nil:
		res.Sources = append(res.Sources, "config")
	case os.IsNotExist(err) && !flags.Set["config"]:
		cfg = &Config{}
		res.Path = ""
	case os.IsNotExist(err):
		return res, errors.Errorf("config file %s not found", res.Path)
	default:
		return res, err
	}

	envUsed, err := LoadEnvOverrides(cfg)
	if err != nil {
		return res, err
	}
	if envUsed {
		res.Sources = append(res.Sources, "env")
	}
	if flags.apply(cfg) {
		res.Sources = append(res.Sources, "flags")
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return res, err
	}
	res.Config = cfg
	return res, nil
}
