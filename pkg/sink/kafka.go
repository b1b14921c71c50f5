package sink

import (
	"context"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"adsingest/pkg/config"
	"adsingest/pkg/logger"
)

// HeaderCorrelationID is the record header carrying the request id.
const HeaderCorrelationID = "correlation_id"

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sink closed")

// Kafka writes each batch with one SendMessages call on a sarama
// SyncProducer. Records carry no key; partition choice is left to the
// producer's partitioner.
type Kafka struct {
	producer sarama.SyncProducer
	brokers  []string
}

// SaramaConfig translates the sink settings into a producer config.
func SaramaConfig(cfg config.SinkConfig) (*sarama.Config, error) {
	kc := cfg.Kafka
	sc := sarama.NewConfig()
	if kc.ClientID != "" {
		sc.ClientID = kc.ClientID
	}
	if kc.Version != "" {
		v, err := sarama.ParseKafkaVersion(kc.Version)
		if err != nil {
			return nil, errors.Wrap(err, "kafka version")
		}
		sc.Version = v
	}

	// SyncProducer requires both.
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	switch strings.ToLower(kc.RequiredAcks) {
	case "", "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "local":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, errors.Errorf("unknown required_acks %q", kc.RequiredAcks)
	}

	switch strings.ToLower(kc.Compression) {
	case "", "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, errors.Errorf("unknown compression %q", kc.Compression)
	}

	sc.Producer.Retry.Max = kc.MaxRetries
	if kc.RetryBackoff > 0 {
		sc.Producer.Retry.Backoff = kc.RetryBackoff.Duration()
	}
	if cfg.MaxMessageBytes > 0 {
		sc.Producer.MaxMessageBytes = cfg.MaxMessageBytes.Int()
	}
	if cfg.WriteTimeout > 0 {
		sc.Producer.Timeout = cfg.WriteTimeout.Duration()
	}

	if err := sc.Validate(); err != nil {
		return nil, errors.Wrap(err, "kafka producer config")
	}
	return sc, nil
}

// NewKafka connects a SyncProducer to the configured brokers.
func NewKafka(cfg config.SinkConfig) (*Kafka, error) {
	sc, err := SaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("kafka_producer_connecting", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Topic))
	p, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, sc)
	if err != nil {
		logger.Log.Error("kafka_producer_failed", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		return nil, errors.Wrap(err, "kafka producer")
	}
	logger.Log.Info("kafka_producer_ready", zap.Strings("brokers", cfg.Kafka.Brokers))
	return &Kafka{producer: p, brokers: cfg.Kafka.Brokers}, nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(p sarama.SyncProducer) *Kafka {
	return &Kafka{producer: p}
}

// Write sends msgs as one request. Values are copied so the producer never
// reads a buffer the caller has already reused. If ctx ends first Write
// returns its error; the in-flight request is still bounded by the
// producer timeout.
func (k *Kafka) Write(ctx context.Context, topic string, msgs []Message) error {
	if k.producer == nil {
		return ErrClosed
	}
	if len(msgs) == 0 {
		return nil
	}
	pms := make([]*sarama.ProducerMessage, len(msgs))
	now := time.Now()
	for i, m := range msgs {
		pms[i] = &sarama.ProducerMessage{
			Topic: topic,
			Value: sarama.ByteEncoder(append([]byte(nil), m.Value...)),
			Headers: []sarama.RecordHeader{
				{Key: []byte(HeaderCorrelationID), Value: []byte(m.CorrelationID)},
			},
			Timestamp: now,
		}
	}

	done := make(chan error, 1)
	go func() { done <- k.producer.SendMessages(pms) }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			return errors.Wrapf(perrs[0].Err, "kafka: %d of %d messages failed", len(perrs), len(pms))
		}
		return errors.Wrap(err, "kafka send")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	if k.producer == nil {
		return nil
	}
	err := k.producer.Close()
	k.producer = nil
	logger.Log.Info("kafka_producer_closed", zap.Strings("brokers", k.brokers))
	return err
}
