package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"adsingest/pkg/ingest/queue"
	"adsingest/pkg/sink"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu            sync.Mutex
	requests      int
	failed        map[string]int
	batches       int
	batchesFailed int
	sizes         []int
	serialization int
	discarded     int
	depth         func() int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{failed: map[string]int{}}
}

func (r *fakeRecorder) RequestReceived() { r.mu.Lock(); r.requests++; r.mu.Unlock() }
func (r *fakeRecorder) RequestFailed(reason string) {
	r.mu.Lock()
	r.failed[reason]++
	r.mu.Unlock()
}
func (r *fakeRecorder) BatchFlushed(size int, _ time.Duration) {
	r.mu.Lock()
	r.batches++
	r.sizes = append(r.sizes, size)
	r.mu.Unlock()
}
func (r *fakeRecorder) BatchFailed(int, time.Duration) { r.mu.Lock(); r.batchesFailed++; r.mu.Unlock() }
func (r *fakeRecorder) SerializationFailed()           { r.mu.Lock(); r.serialization++; r.mu.Unlock() }
func (r *fakeRecorder) DrainDiscarded(n int)           { r.mu.Lock(); r.discarded += n; r.mu.Unlock() }
func (r *fakeRecorder) ObserveQueue(depth func() int)  { r.mu.Lock(); r.depth = depth; r.mu.Unlock() }

// queueDepth reads the gauge the way a scrape would, -1 if never wired.
func (r *fakeRecorder) queueDepth() int {
	r.mu.Lock()
	depth := r.depth
	r.mu.Unlock()
	if depth == nil {
		return -1
	}
	return depth()
}

func (r *fakeRecorder) snapshot() fakeRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r
	cp.failed = map[string]int{}
	for k, v := range r.failed {
		cp.failed[k] = v
	}
	cp.sizes = append([]int(nil), r.sizes...)
	return cp
}

// gateSink blocks every Write until release is closed or ctx ends.
type gateSink struct {
	*sink.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateSink() *gateSink {
	return &gateSink{Memory: sink.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateSink) Write(ctx context.Context, topic string, msgs []sink.Message) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return g.Memory.Write(ctx, topic, msgs)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scriptedSource replays one step per Dequeue call and records the
// timeouts it was asked to wait. When the script runs out it cancels the
// run and reports the cancellation.
type scriptedSource struct {
	steps    []func(timeout time.Duration) (*queue.Item, error)
	timeouts []time.Duration
	cancel   context.CancelFunc
}

func (s *scriptedSource) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Item, error) {
	s.timeouts = append(s.timeouts, timeout)
	if len(s.steps) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step(timeout)
}

func testItem(i int) *queue.Item {
	return queue.NewItem(fmt.Sprintf("id-%03d", i), []byte(fmt.Sprintf(`{"n": %d}`, i)), t0)
}

func waitForTimer(t *testing.T, fc *clocktesting.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !fc.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatalf("no timer was armed")
		}
		time.Sleep(time.Millisecond)
	}
}
