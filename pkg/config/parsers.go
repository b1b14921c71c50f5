package config

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Config string
	Engine string
	Sink   string
	Set    map[string]bool
}

// RegisterFlags binds the serve flags onto fs and returns the holder that
// Resolve fills once fs has been parsed.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Addr, "addr", "", "HTTP listen address (host:port)")
	fs.StringVar(&f.Config, "config", "./config.yaml", "Path to config file")
	fs.StringVar(&f.Engine, "engine", "", "HTTP engine: nethttp or fasthttp")
	fs.StringVar(&f.Sink, "sink", "", "Sink type: kafka, pebble or memory")
	return f
}

// Resolve records which flags were explicitly set on fs.
func (f *Flags) Resolve(fs *pflag.FlagSet) {
	f.Set = make(map[string]bool)
	fs.Visit(func(fl *pflag.Flag) { f.Set[fl.Name] = true })
}

func (f Flags) apply(c *Config) bool {
	used := false
	if f.Set["addr"] && f.Addr != "" {
		used = true
		setAddr(c, f.Addr)
	}
	if f.Set["engine"] && f.Engine != "" {
		used = true
		c.Server.Engine = f.Engine
	}
	if f.Set["sink"] && f.Sink != "" {
		used = true
		c.Sink.Type = f.Sink
	}
	return used
}

func setAddr(c *Config, v string) {
	if h, p, err := net.SplitHostPort(v); err == nil {
		c.Server.Address = h
		if pi, err := strconv.Atoi(p); err == nil {
			c.Server.Port = pi
		}
		return
	}
	c.Server.Address = v
}

// LoadDotEnv loads a .env file from the working directory when present.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// LoadEnvOverrides applies ADSINGEST_* environment variables on top of cfg
// and reports whether any were present. Malformed numeric or duration
// values are an error rather than silently ignored.
func LoadEnvOverrides(c *Config) (bool, error) {
	used := false
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			used = true
			*dst = v
		}
	}
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = errors.Wrapf(err, "env %s", key)
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			used = true
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			used = true
			d, err := ParseDuration(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = d
		}
	}
	size := func(key string, dst *SizeBytes) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			used = true
			s, err := ParseSize(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = s
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			used = true
			b, err := strconv.ParseBool(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = b
		}
	}

	if v := strings.TrimSpace(os.Getenv("ADSINGEST_ADDR")); v != "" {
		used = true
		setAddr(c, v)
	} else {
		str("ADSINGEST_SERVER_ADDRESS", &c.Server.Address)
		integer("ADSINGEST_SERVER_PORT", &c.Server.Port)
	}
	str("ADSINGEST_SERVER_ENGINE", &c.Server.Engine)
	dur("ADSINGEST_SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	dur("ADSINGEST_SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	if v := strings.TrimSpace(os.Getenv("ADSINGEST_RATE_RPS")); v != "" {
		used = true
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fail("ADSINGEST_RATE_RPS", err)
		} else {
			c.Server.RateLimit.RPS = f
		}
	}
	integer("ADSINGEST_RATE_BURST", &c.Server.RateLimit.Burst)

	integer("ADSINGEST_QUEUE_CAPACITY", &c.Ingest.QueueCapacity)
	size("ADSINGEST_MAX_PAYLOAD_BYTES", &c.Ingest.MaxPayloadBytes)

	integer("ADSINGEST_BATCH_MAX_SIZE", &c.Batch.MaxSize)
	dur("ADSINGEST_BATCH_MAX_WAIT", &c.Batch.MaxWait)
	str("ADSINGEST_BATCH_WINDOW_ANCHOR", &c.Batch.WindowAnchor)

	dur("ADSINGEST_DRAIN_TIMEOUT", &c.Shutdown.DrainTimeout)

	str("ADSINGEST_SINK_TYPE", &c.Sink.Type)
	str("ADSINGEST_SINK_TOPIC", &c.Sink.Topic)
	dur("ADSINGEST_SINK_WRITE_TIMEOUT", &c.Sink.WriteTimeout)
	size("ADSINGEST_SINK_MAX_MESSAGE_BYTES", &c.Sink.MaxMessageBytes)
	if v := os.Getenv("ADSINGEST_KAFKA_BROKERS"); v != "" {
		used = true
		c.Sink.Kafka.Brokers = parseList(v)
	}
	str("ADSINGEST_KAFKA_CLIENT_ID", &c.Sink.Kafka.ClientID)
	str("ADSINGEST_KAFKA_REQUIRED_ACKS", &c.Sink.Kafka.RequiredAcks)
	str("ADSINGEST_KAFKA_COMPRESSION", &c.Sink.Kafka.Compression)
	integer("ADSINGEST_KAFKA_MAX_RETRIES", &c.Sink.Kafka.MaxRetries)
	dur("ADSINGEST_KAFKA_RETRY_BACKOFF", &c.Sink.Kafka.RetryBackoff)
	str("ADSINGEST_KAFKA_VERSION", &c.Sink.Kafka.Version)
	str("ADSINGEST_PEBBLE_PATH", &c.Sink.Pebble.Path)
	boolean("ADSINGEST_RETENTION_ENABLED", &c.Sink.Pebble.Retention.Enabled)
	str("ADSINGEST_RETENTION_CRON", &c.Sink.Pebble.Retention.Cron)
	dur("ADSINGEST_RETENTION_PERIOD", &c.Sink.Pebble.Retention.Period)

	str("ADSINGEST_LOG_LEVEL", &c.Logging.Level)
	str("ADSINGEST_LOG_FORMAT", &c.Logging.Format)
	str("ADSINGEST_LOG_FILE", &c.Logging.File.Path)

	str("ADSINGEST_METRICS_NAMESPACE", &c.Metrics.Namespace)

	return used, firstErr
}
