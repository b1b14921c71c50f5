package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"adsingest/pkg/ingest/queue"
	"adsingest/pkg/sink"
)

func batchOf(items ...*queue.Item) *Batch {
	return &Batch{Items: items, AssembledAt: t0}
}

func TestFlushSkipsPoisonItem(t *testing.T) {
	mem := sink.NewMemory()
	rec := newFakeRecorder()
	p := NewPipeline(mem, PipelineConfig{Topic: "clicks"}, rec, clocktesting.NewFakeClock(t0))

	items := []*queue.Item{testItem(0), testItem(1), queue.NewItem("bad", []byte(`{"broken"`), t0), testItem(3), testItem(4)}
	sent, err := p.Flush(context.Background(), batchOf(items...))
	require.NoError(t, err)
	assert.Equal(t, 4, sent)

	got := mem.Messages("clicks")
	require.Len(t, got, 4)
	assert.Equal(t, "id-000", got[0].CorrelationID)
	assert.Equal(t, "id-004", got[3].CorrelationID)
	// payloads are compacted
	assert.Equal(t, `{"n":0}`, string(got[0].Value))

	snap := rec.snapshot()
	assert.Equal(t, 1, snap.serialization)
	assert.Equal(t, 1, snap.batches)
	assert.Equal(t, []int{4}, snap.sizes)
	assert.Zero(t, snap.batchesFailed)
}

func TestFlushSinkFailure(t *testing.T) {
	mem := sink.NewMemory()
	boom := errors.New("broker unreachable")
	mem.FailWith(boom)
	rec := newFakeRecorder()
	p := NewPipeline(mem, PipelineConfig{Topic: "clicks"}, rec, nil)

	_, err := p.Flush(context.Background(), batchOf(testItem(0), testItem(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.ErrorIs(t, err, boom)

	snap := rec.snapshot()
	assert.Equal(t, 1, snap.batchesFailed)
	assert.Zero(t, snap.batches)
}

func TestFlushAllItemsFailSerialization(t *testing.T) {
	mem := sink.NewMemory()
	rec := newFakeRecorder()
	p := NewPipeline(mem, PipelineConfig{Topic: "clicks"}, rec, nil)

	b := batchOf(queue.NewItem("a", []byte("nope"), t0), queue.NewItem("b", []byte("{"), t0))
	sent, err := p.Flush(context.Background(), b)
	assert.Zero(t, sent)
	assert.ErrorIs(t, err, ErrSerialization)
	assert.Empty(t, mem.Batches("clicks"))

	snap := rec.snapshot()
	assert.Equal(t, 2, snap.serialization)
	assert.Equal(t, 1, snap.batchesFailed)
	assert.Nil(t, b.Items, "items are released after flush")
}

func TestFlushMaxMessageBytes(t *testing.T) {
	mem := sink.NewMemory()
	rec := newFakeRecorder()
	p := NewPipeline(mem, PipelineConfig{Topic: "clicks", Serializer: CompactJSON(10)}, rec, nil)

	big := queue.NewItem("big", []byte(`{"payload":"far more than ten bytes"}`), t0)
	_, err := p.Flush(context.Background(), batchOf(testItem(0), big))
	require.NoError(t, err)
	assert.Len(t, mem.Messages("clicks"), 1)
	assert.Equal(t, 1, rec.snapshot().serialization)
}

func TestFlushWriteTimeout(t *testing.T) {
	gs := newGateSink()
	rec := newFakeRecorder()
	p := NewPipeline(gs, PipelineConfig{Topic: "clicks", WriteTimeout: 10 * time.Millisecond}, rec, nil)

	_, err := p.Flush(context.Background(), batchOf(testItem(0)))
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
