package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"adsingest/pkg/ingest/queue"
)

type flushed struct {
	ids []string
	at  time.Time
}

func recordingFlush(fc *clocktesting.FakeClock, out chan<- flushed) FlushFunc {
	return func(_ context.Context, b *Batch) (int, error) {
		ids := make([]string, b.Len())
		for i, it := range b.Items {
			ids[i] = it.CorrelationID
		}
		n := b.Len()
		b.release()
		out <- flushed{ids: ids, at: fc.Now()}
		return n, nil
	}
}

func expectNoFlush(t *testing.T, out <-chan flushed) {
	t.Helper()
	select {
	case f := <-out:
		t.Fatalf("unexpected flush of %d items", len(f.ids))
	case <-time.After(20 * time.Millisecond):
	}
}

func expectFlush(t *testing.T, out <-chan flushed) flushed {
	t.Helper()
	select {
	case f := <-out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("expected a flush")
		return flushed{}
	}
}

func TestAssemblerFlushesAtMaxSizeBeforeTimer(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	q := queue.New(1000, queue.WithClock(fc))
	for i := 0; i < 500; i++ {
		require.NoError(t, q.TryEnqueue(testItem(i)))
	}

	out := make(chan flushed, 4)
	a := NewAssembler(q, BatchPolicy{MaxSize: 500, MaxWait: 500 * time.Millisecond}, recordingFlush(fc, out), fc)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int)
	go func() { done <- a.Run(ctx, nil) }()

	f := expectFlush(t, out)
	assert.Len(t, f.ids, 500)
	assert.Equal(t, t0, f.at, "size-triggered flush must not wait for the timer")
	assert.Equal(t, "id-000", f.ids[0])
	assert.Equal(t, "id-499", f.ids[499])

	cancel()
	assert.Equal(t, 0, <-done)
}

func TestAssemblerFlushesAtMaxWait(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	q := queue.New(10, queue.WithClock(fc))
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryEnqueue(testItem(i)))
	}

	out := make(chan flushed, 4)
	a := NewAssembler(q, BatchPolicy{MaxSize: 500, MaxWait: 500 * time.Millisecond}, recordingFlush(fc, out), fc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, nil)

	waitForTimer(t, fc)
	fc.Step(499 * time.Millisecond)
	expectNoFlush(t, out)

	fc.Step(time.Millisecond)
	f := expectFlush(t, out)
	assert.Equal(t, []string{"id-000", "id-001", "id-002"}, f.ids)
	assert.Equal(t, t0.Add(500*time.Millisecond), f.at)
}

func TestAssemblerRecomputesRemainingWait(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{cancel: cancel}
	src.steps = append(src.steps,
		// first item trickles in 400ms into the window
		func(time.Duration) (*queue.Item, error) {
			fc.Step(400 * time.Millisecond)
			return testItem(1), nil
		},
		// nothing else arrives
		func(timeout time.Duration) (*queue.Item, error) {
			fc.Step(timeout)
			return nil, queue.ErrTimeout
		},
	)

	out := make(chan flushed, 4)
	a := NewAssembler(src, BatchPolicy{MaxSize: 10, MaxWait: 500 * time.Millisecond}, recordingFlush(fc, out), fc)
	a.Run(ctx, nil)

	require.GreaterOrEqual(t, len(src.timeouts), 2)
	assert.Equal(t, 500*time.Millisecond, src.timeouts[0])
	assert.Equal(t, 100*time.Millisecond, src.timeouts[1], "second wait must be the window remainder, not the full max wait")

	f := expectFlush(t, out)
	assert.Equal(t, []string{"id-001"}, f.ids)
	assert.Equal(t, t0.Add(500*time.Millisecond), f.at, "window expires at +500ms, not +900ms")
}

func TestAssemblerFirstItemAnchor(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{cancel: cancel}
	src.steps = append(src.steps,
		func(time.Duration) (*queue.Item, error) {
			fc.Step(300 * time.Millisecond)
			return testItem(1), nil
		},
		func(timeout time.Duration) (*queue.Item, error) {
			fc.Step(timeout)
			return nil, queue.ErrTimeout
		},
	)

	out := make(chan flushed, 4)
	policy := BatchPolicy{MaxSize: 10, MaxWait: 500 * time.Millisecond, Anchor: AnchorFirstItem}
	a := NewAssembler(src, policy, recordingFlush(fc, out), fc)
	a.Run(ctx, nil)

	assert.Equal(t, 500*time.Millisecond, src.timeouts[1])
	f := expectFlush(t, out)
	assert.Equal(t, t0.Add(800*time.Millisecond), f.at)
}

func TestAssemblerEmptyWindowsProduceNothing(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{cancel: cancel}
	for i := 0; i < 5; i++ {
		src.steps = append(src.steps, func(timeout time.Duration) (*queue.Item, error) {
			fc.Step(timeout)
			return nil, queue.ErrTimeout
		})
	}

	out := make(chan flushed, 4)
	a := NewAssembler(src, BatchPolicy{MaxSize: 10, MaxWait: 500 * time.Millisecond}, recordingFlush(fc, out), fc)
	abandoned := a.Run(ctx, nil)

	assert.Zero(t, abandoned)
	assert.Empty(t, out)
	// every fresh window waits the full max wait
	for _, d := range src.timeouts[:5] {
		assert.Equal(t, 500*time.Millisecond, d)
	}
}

func TestAssemblerDrainFlushesPartialBatchImmediately(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	q := queue.New(10, queue.WithClock(fc))
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryEnqueue(testItem(i)))
	}

	out := make(chan flushed, 4)
	a := NewAssembler(q, BatchPolicy{MaxSize: 10, MaxWait: time.Hour}, recordingFlush(fc, out), fc)
	drain := make(chan struct{})
	done := make(chan int)
	go func() { done <- a.Run(context.Background(), drain) }()

	waitForTimer(t, fc)
	close(drain)

	f := expectFlush(t, out)
	assert.Len(t, f.ids, 3)
	assert.Equal(t, t0, f.at, "drain must not wait out the window")
	select {
	case n := <-done:
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("assembler did not exit after draining an empty queue")
	}
}

func TestAssemblerDrainKeepsOrderAcrossBatches(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	q := queue.New(100, queue.WithClock(fc))
	for i := 0; i < 25; i++ {
		require.NoError(t, q.TryEnqueue(testItem(i)))
	}

	out := make(chan flushed, 10)
	a := NewAssembler(q, BatchPolicy{MaxSize: 10, MaxWait: time.Hour}, recordingFlush(fc, out), fc)
	drain := make(chan struct{})
	close(drain)
	assert.Zero(t, a.Run(context.Background(), drain))

	close(out)
	var sizes []int
	var all []string
	for f := range out {
		sizes = append(sizes, len(f.ids))
		all = append(all, f.ids...)
	}
	assert.Equal(t, []int{10, 10, 5}, sizes)
	for i, id := range all {
		assert.Equal(t, testItem(i).CorrelationID, id)
	}
}

func TestAssemblerForcedStopAbandonsInProgressBatch(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	q := queue.New(10, queue.WithClock(fc))
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryEnqueue(testItem(i)))
	}

	out := make(chan flushed, 4)
	a := NewAssembler(q, BatchPolicy{MaxSize: 10, MaxWait: time.Hour}, recordingFlush(fc, out), fc)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int)
	go func() { done <- a.Run(ctx, nil) }()

	waitForTimer(t, fc)
	cancel()

	select {
	case n := <-done:
		assert.Equal(t, 3, n)
	case <-time.After(2 * time.Second):
		t.Fatal("forced stop did not interrupt the window")
	}
	assert.Empty(t, out)
}
