package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsingest/pkg/sink"
)

func newTestController(s sink.Sink, rec Recorder, mutate func(*Options)) *Controller {
	o := Options{
		QueueCapacity:   1000,
		MaxPayloadBytes: 1024,
		Policy:          BatchPolicy{MaxSize: 7, MaxWait: 20 * time.Millisecond},
		Topic:           "clicks",
		WriteTimeout:    time.Second,
		Recorder:        rec,
	}
	if mutate != nil {
		mutate(&o)
	}
	return NewController(s, o)
}

func TestAcceptBeforeStartIsRejected(t *testing.T) {
	c := newTestController(sink.NewMemory(), nil, nil)
	_, err := c.Gateway().Accept(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrServiceDraining)
	assert.True(t, IsRetriable(err))
}

func TestAcceptRejectsMalformedPayloads(t *testing.T) {
	rec := newFakeRecorder()
	c := newTestController(sink.NewMemory(), rec, func(o *Options) { o.MaxPayloadBytes = 32 })
	require.True(t, c.life.Advance(StateRunning))

	for name, body := range map[string]string{
		"empty":     "",
		"truncated": `{"campaign":`,
		"not json":  `campaign=1`,
		"too large": `{"campaign":"` + strings.Repeat("x", 64) + `"}`,
	} {
		_, err := c.Gateway().Accept(context.Background(), []byte(body))
		assert.ErrorIs(t, err, ErrPayloadInvalid, name)
		assert.False(t, IsRetriable(err), name)
	}
	snap := rec.snapshot()
	assert.Equal(t, 4, snap.requests)
	assert.Equal(t, 4, snap.failed[ReasonInvalid])
	assert.Zero(t, c.QueueLen())
}

func TestAcceptQueueFullAndRecovery(t *testing.T) {
	rec := newFakeRecorder()
	c := newTestController(sink.NewMemory(), rec, func(o *Options) { o.QueueCapacity = 2 })
	// running without the assembler so nothing drains the queue
	require.True(t, c.life.Advance(StateRunning))
	gw := c.Gateway()
	ctx := context.Background()

	id1, err := gw.Accept(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	_, err = gw.Accept(ctx, []byte(`{"a":2}`))
	require.NoError(t, err)

	_, err = gw.Accept(ctx, []byte(`{"a":3}`))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.True(t, IsRetriable(err))
	assert.Equal(t, 2, c.QueueLen())
	assert.Equal(t, 1, rec.snapshot().failed[ReasonQueueFull])

	it, err := c.q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, id1, it.CorrelationID)
	it.Done()

	_, err = gw.Accept(ctx, []byte(`{"a":4}`))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.queueDepth())
}

func TestEveryAcceptedItemDeliveredOnceInOrder(t *testing.T) {
	mem := sink.NewMemory()
	rec := newFakeRecorder()
	c := newTestController(mem, rec, nil)
	require.NoError(t, c.Start(context.Background()))

	var ids []string
	for i := 0; i < 100; i++ {
		id, err := c.Gateway().Accept(context.Background(), []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	report, err := c.Shutdown(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Zero(t, report.Discarded)
	assert.Equal(t, StateStopped, c.State())

	var got []string
	for _, m := range mem.Messages("clicks") {
		got = append(got, m.CorrelationID)
	}
	assert.Equal(t, ids, got)

	snap := rec.snapshot()
	total := 0
	for _, s := range snap.sizes {
		assert.LessOrEqual(t, s, 7)
		total += s
	}
	assert.Equal(t, 100, total)
	assert.Zero(t, snap.batchesFailed)
}

func TestConcurrentAcceptsDeliveredExactlyOnce(t *testing.T) {
	const producers, per = 8, 50
	mem := sink.NewMemory()
	c := newTestController(mem, nil, nil)
	require.NoError(t, c.Start(context.Background()))

	var mu sync.Mutex
	order := make(map[string][2]int)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id, err := c.Gateway().Accept(context.Background(), []byte(`{}`))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				order[id] = [2]int{p, i}
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	_, err := c.Shutdown(context.Background(), 5*time.Second)
	require.NoError(t, err)

	msgs := mem.Messages("clicks")
	require.Len(t, msgs, producers*per)
	seen := make(map[string]bool)
	last := make(map[int]int)
	for _, m := range msgs {
		require.False(t, seen[m.CorrelationID], "duplicate %s", m.CorrelationID)
		seen[m.CorrelationID] = true
		pi, ok := order[m.CorrelationID]
		require.True(t, ok)
		if prev, ok := last[pi[0]]; ok {
			assert.Greater(t, pi[1], prev, "producer %d reordered", pi[0])
		}
		last[pi[0]] = pi[1]
	}
}

func TestAcceptDuringDrainIsRejected(t *testing.T) {
	gs := newGateSink()
	c := newTestController(gs, nil, nil)
	require.NoError(t, c.Start(context.Background()))

	_, err := c.Gateway().Accept(context.Background(), []byte(`{"first":true}`))
	require.NoError(t, err)
	<-gs.entered

	type result struct {
		report DrainReport
		err    error
	}
	res := make(chan result, 1)
	go func() {
		r, err := c.Shutdown(context.Background(), 5*time.Second)
		res <- result{r, err}
	}()

	require.Eventually(t, func() bool { return c.State() == StateDraining }, 2*time.Second, time.Millisecond)
	_, err = c.Gateway().Accept(context.Background(), []byte(`{"late":true}`))
	assert.ErrorIs(t, err, ErrServiceDraining)

	close(gs.release)
	r := <-res
	require.NoError(t, r.err)
	assert.Zero(t, r.report.Discarded)
	assert.Len(t, gs.Messages("clicks"), 1)

	// idempotent
	again, err := c.Shutdown(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.Equal(t, r.report, again)
}

func TestShutdownTimeoutReportsDiscarded(t *testing.T) {
	gs := newGateSink()
	rec := newFakeRecorder()
	c := newTestController(gs, rec, func(o *Options) {
		o.Policy = BatchPolicy{MaxSize: 2, MaxWait: time.Hour}
		o.WriteTimeout = time.Minute
	})
	require.NoError(t, c.Start(context.Background()))

	for i := 0; i < 5; i++ {
		_, err := c.Gateway().Accept(context.Background(), []byte(`{}`))
		require.NoError(t, err)
	}
	<-gs.entered

	report, err := c.Shutdown(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrDrainIncomplete)
	assert.True(t, report.TimedOut)
	assert.Equal(t, 5, report.Discarded)
	assert.Equal(t, 5, rec.snapshot().discarded)
	assert.Empty(t, gs.Messages("clicks"))
	assert.Equal(t, StateStopped, c.State())
}

func TestShutdownWithoutStart(t *testing.T) {
	c := newTestController(sink.NewMemory(), nil, nil)
	report, err := c.Shutdown(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Zero(t, report.Discarded)
	assert.Equal(t, StateStopped, c.State())
	assert.Error(t, c.Start(context.Background()))
}

func TestStartTwiceFails(t *testing.T) {
	c := newTestController(sink.NewMemory(), nil, nil)
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))
	_, err := c.Shutdown(context.Background(), time.Second)
	require.NoError(t, err)
}

func TestQueueDepthMatchesOccupancyWhileAcceptsRaceFlushes(t *testing.T) {
	rec := newFakeRecorder()
	mem := sink.NewMemory()
	c := newTestController(mem, rec, func(o *Options) {
		o.Policy = BatchPolicy{MaxSize: 3, MaxWait: time.Millisecond}
	})
	require.NoError(t, c.Start(context.Background()))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := c.Gateway().Accept(context.Background(), []byte(`{}`))
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, rec.queueDepth(), 0)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(mem.Messages("clicks")) == 100
	}, 2*time.Second, time.Millisecond)
	// no accept or flush follows, so a stale pushed value would stick here
	assert.Equal(t, 0, c.QueueLen())
	assert.Equal(t, 0, rec.queueDepth())

	_, err := c.Shutdown(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.queueDepth())
}
