// Package sink holds the downstream durable-log clients the flush pipeline
// writes batches to.
package sink

import (
	"context"

	"github.com/pkg/errors"

	"adsingest/pkg/config"
)

// Message is one serialized item bound for the log.
type Message struct {
	CorrelationID string
	Value         []byte
}

// Sink writes a batch of messages to a topic. Write is called with one
// batch at a time and must not keep references to a Message's Value after
// it returns; the caller reuses those buffers.
type Sink interface {
	Write(ctx context.Context, topic string, msgs []Message) error
	Close() error
}

// New builds the sink selected by cfg.Type.
func New(cfg config.SinkConfig) (Sink, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafka(cfg)
	case "pebble":
		return OpenPebble(cfg.Pebble.Path, false)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.Errorf("unknown sink type %q", cfg.Type)
	}
}
