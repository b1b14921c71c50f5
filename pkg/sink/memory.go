package sink

import (
	"context"
	"sync"
)

// Memory is an in-process sink. It keeps every acknowledged batch and can
// be told to fail, which makes it the sink of choice for tests and local
// runs without a broker.
type Memory struct {
	mu      sync.Mutex
	batches map[string][][]Message
	failErr error
	closed  bool
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{batches: make(map[string][][]Message)}
}

// Write stores a copy of msgs, or returns the configured failure.
func (m *Memory) Write(ctx context.Context, topic string, msgs []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.failErr != nil {
		return m.failErr
	}
	cp := make([]Message, len(msgs))
	for i, msg := range msgs {
		cp[i] = Message{CorrelationID: msg.CorrelationID, Value: append([]byte(nil), msg.Value...)}
	}
	m.batches[topic] = append(m.batches[topic], cp)
	return nil
}

// FailWith makes every later Write return err. nil restores success.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Batches returns the acknowledged batches for topic in write order.
func (m *Memory) Batches(topic string) [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.batches[topic]))
	copy(out, m.batches[topic])
	return out
}

// Messages returns every acknowledged message for topic, flattened.
func (m *Memory) Messages(topic string) []Message {
	var out []Message
	for _, b := range m.Batches(topic) {
		out = append(out, b...)
	}
	return out
}

// Close marks the sink closed; later writes fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
