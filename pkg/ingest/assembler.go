package ingest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"adsingest/pkg/ingest/queue"
	"adsingest/pkg/logger"
)

// Source is the consuming side of the queue.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Item, error)
}

// FlushFunc hands a batch downstream and reports how many messages it sent.
// It owns the batch once called.
type FlushFunc func(ctx context.Context, b *Batch) (int, error)

// Assembler forms batches under the dual stopping rule and flushes them one
// at a time.
//
// A window's wait is always the time left until its deadline, recomputed
// before every dequeue, so a steady trickle of items can never stretch a
// window past MaxWait.
type Assembler struct {
	src    Source
	policy BatchPolicy
	flush  FlushFunc
	clock  clock.Clock
}

// NewAssembler builds an Assembler.
func NewAssembler(src Source, policy BatchPolicy, flush FlushFunc, c clock.Clock) *Assembler {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Assembler{src: src, policy: policy.withDefaults(), flush: flush, clock: c}
}

// Run assembles and flushes until the source is closed, ctx ends, or drain
// is closed and the source is empty.
//
// Once drain is closed the assembler stops waiting out windows: it polls
// the source, flushes whatever it has immediately and returns when nothing
// is left. Cancelling ctx is a forced stop; the batch being built is
// released and its size is returned as abandoned, along with any flushed
// batch whose write the cancellation cut short.
func (a *Assembler) Run(ctx context.Context, drain <-chan struct{}) (abandoned int) {
	// waitCtx interrupts a pending dequeue as soon as draining starts
	waitCtx, stopWait := context.WithCancel(ctx)
	defer stopWait()
	go func() {
		select {
		case <-drain:
			stopWait()
		case <-waitCtx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return abandoned
		}
		draining := isClosed(drain)

		var (
			b   *Batch
			err error
		)
		if draining {
			b, err = a.poll(ctx)
		} else {
			b, err = a.window(ctx, waitCtx)
		}

		if b != nil {
			sent, ferr := a.flush(ctx, b)
			if ferr != nil && ctx.Err() != nil {
				abandoned += sent
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, queue.ErrQueueClosed):
			return abandoned
		case ctx.Err() != nil:
			if n, ok := err.(abandonedErr); ok {
				abandoned += int(n)
			}
			return abandoned
		}

		if draining && b == nil {
			return abandoned
		}
	}
}

type abandonedErr int

func (e abandonedErr) Error() string { return "batch abandoned" }

// window runs one WindowOpen period and returns the batch it collected,
// nil for an empty window.
func (a *Assembler) window(ctx, waitCtx context.Context) (*Batch, error) {
	opened := a.clock.Now()
	deadline := opened.Add(a.policy.MaxWait)
	items := make([]*queue.Item, 0, min(a.policy.MaxSize, 64))

	for len(items) < a.policy.MaxSize {
		remaining := deadline.Sub(a.clock.Now())
		if remaining <= 0 {
			break
		}
		it, err := a.src.Dequeue(waitCtx, remaining)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				break
			}
			if ctx.Err() != nil {
				// forced stop: the in-progress batch goes nowhere
				release(items)
				return nil, abandonedErr(len(items))
			}
			if waitCtx.Err() != nil {
				// drain started; flush what we have and switch modes
				break
			}
			// closed: flush what we have, then stop
			return a.batch(items), err
		}
		if len(items) == 0 && a.policy.Anchor == AnchorFirstItem {
			deadline = a.clock.Now().Add(a.policy.MaxWait)
		}
		items = append(items, it)
	}

	if len(items) == 0 {
		logger.Log.Debug("batch_window_empty", zap.Duration("max_wait", a.policy.MaxWait))
	}
	return a.batch(items), nil
}

// poll drains up to MaxSize items without waiting.
func (a *Assembler) poll(ctx context.Context) (*Batch, error) {
	items := make([]*queue.Item, 0, min(a.policy.MaxSize, 64))
	for len(items) < a.policy.MaxSize {
		it, err := a.src.Dequeue(ctx, 0)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				break
			}
			if ctx.Err() != nil {
				release(items)
				return nil, abandonedErr(len(items))
			}
			return a.batch(items), err
		}
		items = append(items, it)
	}
	return a.batch(items), nil
}

func (a *Assembler) batch(items []*queue.Item) *Batch {
	if len(items) == 0 {
		return nil
	}
	return &Batch{Items: items, AssembledAt: a.clock.Now()}
}

func release(items []*queue.Item) {
	for _, it := range items {
		it.Done()
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
