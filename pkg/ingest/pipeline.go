package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"adsingest/pkg/ingest/queue"
	"adsingest/pkg/logger"
	"adsingest/pkg/sink"
)

const defaultWriteTimeout = 5 * time.Second

// Serializer appends the sink representation of it to dst.
type Serializer func(dst []byte, it *queue.Item) ([]byte, error)

// CompactJSON is the default Serializer: the payload re-encoded without
// insignificant whitespace, bounded by maxBytes when maxBytes > 0.
func CompactJSON(maxBytes int) Serializer {
	return func(dst []byte, it *queue.Item) ([]byte, error) {
		start := len(dst)
		buf := bytes.NewBuffer(dst)
		if err := json.Compact(buf, it.Payload); err != nil {
			return dst, errors.Wrap(ErrSerialization, err.Error())
		}
		if n := buf.Len() - start; maxBytes > 0 && n > maxBytes {
			return dst, errors.Wrapf(ErrSerialization, "message is %d bytes, limit %d", n, maxBytes)
		}
		return buf.Bytes(), nil
	}
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Topic        string
	WriteTimeout time.Duration
	Serializer   Serializer
}

// Pipeline turns a batch into sink messages and writes them in one call.
type Pipeline struct {
	sink      sink.Sink
	topic     string
	timeout   time.Duration
	serialize Serializer
	rec       Recorder
	clock     clock.PassiveClock
}

// NewPipeline builds a Pipeline.
func NewPipeline(s sink.Sink, cfg PipelineConfig, rec Recorder, c clock.PassiveClock) *Pipeline {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Serializer == nil {
		cfg.Serializer = CompactJSON(0)
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &Pipeline{
		sink:      s,
		topic:     cfg.Topic,
		timeout:   cfg.WriteTimeout,
		serialize: cfg.Serializer,
		rec:       rec,
		clock:     c,
	}
}

// Flush serializes every item, drops the ones that fail, and writes the
// rest to the sink. It returns how many messages were handed to the sink.
// The batch's items are always released before it returns.
func (p *Pipeline) Flush(ctx context.Context, b *Batch) (int, error) {
	start := p.clock.Now()
	size := b.Len()

	msgs := make([]sink.Message, 0, size)
	bufs := make([]*bytebufferpool.ByteBuffer, 0, size)
	defer func() {
		for _, bb := range bufs {
			bytebufferpool.Put(bb)
		}
		b.release()
	}()

	for _, it := range b.Items {
		bb := bytebufferpool.Get()
		out, err := p.serialize(bb.B[:0], it)
		if err != nil {
			bytebufferpool.Put(bb)
			p.rec.SerializationFailed()
			logger.Log.Warn("item_serialization_failed",
				zap.String("request_id", it.CorrelationID),
				zap.Int("payload_bytes", len(it.Payload)),
				zap.Error(err))
			continue
		}
		bb.B = out
		bufs = append(bufs, bb)
		msgs = append(msgs, sink.Message{CorrelationID: it.CorrelationID, Value: bb.B})
	}

	if len(msgs) == 0 {
		p.rec.BatchFailed(size, p.clock.Since(start))
		logger.Log.Warn("batch_failed", zap.Int("size", size), zap.String("reason", "no serializable items"))
		return 0, errors.Wrapf(ErrSerialization, "all %d items in batch failed", size)
	}

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.sink.Write(wctx, p.topic, msgs)
	cancel()
	took := p.clock.Since(start)

	if err != nil {
		p.rec.BatchFailed(len(msgs), took)
		logger.Log.Warn("batch_failed",
			zap.String("topic", p.topic),
			zap.Int("size", len(msgs)),
			zap.Duration("took", took),
			zap.Error(err))
		return len(msgs), errors.WithStack(&SinkError{Err: err})
	}

	p.rec.BatchFlushed(len(msgs), took)
	logger.Log.Debug("batch_flushed",
		zap.String("topic", p.topic),
		zap.Int("size", len(msgs)),
		zap.Int("dropped", size-len(msgs)),
		zap.Duration("took", took))
	return len(msgs), nil
}
