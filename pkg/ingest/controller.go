// Package ingest is the buffering and batch-flush core: the accept path,
// the batch assembler, the flush pipeline and the lifecycle that ties them
// together and drains on shutdown.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"adsingest/pkg/ingest/queue"
	"adsingest/pkg/logger"
	"adsingest/pkg/sink"
)

// DefaultQueueCapacity is the queue bound used when Options leaves it unset.
const DefaultQueueCapacity = 10000

// Options configures a Controller.
type Options struct {
	QueueCapacity   int
	MaxPayloadBytes int
	Policy          BatchPolicy

	Topic           string
	WriteTimeout    time.Duration
	MaxMessageBytes int
	// Serializer overrides CompactJSON(MaxMessageBytes).
	Serializer Serializer

	Recorder Recorder
	Clock    clock.Clock
}

// DrainReport summarizes a shutdown.
type DrainReport struct {
	// Discarded counts accepted items that were never delivered.
	Discarded int
	TimedOut  bool
	Took      time.Duration
}

// Controller owns the queue, the lifecycle state and the assembler
// goroutine. Gateway and assembler receive what they need from it; there
// is no package-level state.
type Controller struct {
	q         *queue.Queue
	life      *Lifecycle
	gateway   *Gateway
	assembler *Assembler
	pipeline  *Pipeline
	rec       Recorder
	clock     clock.Clock

	drainCh chan struct{}
	cancel  context.CancelFunc
	done    chan int

	shutdownOnce sync.Once
	report       DrainReport
	shutdownErr  error
}

// NewController wires the core around s. Nothing runs until Start.
func NewController(s sink.Sink, o Options) *Controller {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.Recorder == nil {
		o.Recorder = NopRecorder{}
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Serializer == nil {
		o.Serializer = CompactJSON(o.MaxMessageBytes)
	}

	c := &Controller{
		q:       queue.New(o.QueueCapacity, queue.WithClock(o.Clock)),
		life:    &Lifecycle{},
		rec:     o.Recorder,
		clock:   o.Clock,
		drainCh: make(chan struct{}),
		done:    make(chan int, 1),
	}
	c.gateway = newGateway(c.q, c.life, c.rec, c.clock, o.MaxPayloadBytes)
	c.pipeline = NewPipeline(s, PipelineConfig{
		Topic:        o.Topic,
		WriteTimeout: o.WriteTimeout,
		Serializer:   o.Serializer,
	}, c.rec, c.clock)
	c.assembler = NewAssembler(c.q, o.Policy, c.pipeline.Flush, c.clock)
	c.rec.ObserveQueue(c.q.Len)
	return c
}

// Gateway returns the accept path.
func (c *Controller) Gateway() *Gateway { return c.gateway }

// Accept validates raw and enqueues it, returning its correlation id.
func (c *Controller) Accept(ctx context.Context, raw []byte) (string, error) {
	return c.gateway.Accept(ctx, raw)
}

// State returns the lifecycle state.
func (c *Controller) State() State { return c.life.State() }

// QueueLen returns the current queue occupancy.
func (c *Controller) QueueLen() int { return c.q.Len() }

// Start begins accepting and launches the assembler. The assembler is
// detached from ctx's cancellation; only Shutdown stops it.
func (c *Controller) Start(ctx context.Context) error {
	if !c.life.Advance(StateRunning) {
		return errors.Errorf("ingest core cannot start from state %s", c.life.State())
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go func() {
		c.done <- c.assembler.Run(runCtx, c.drainCh)
	}()
	logger.Log.Info("ingest_started",
		zap.Int("queue_capacity", c.q.Cap()),
		zap.Int("batch_max_size", c.assembler.policy.MaxSize),
		zap.Duration("batch_max_wait", c.assembler.policy.MaxWait),
		zap.String("window_anchor", string(c.assembler.policy.Anchor)))
	return nil
}

// Shutdown stops accepting, lets the assembler empty the queue and waits up
// to drainTimeout (or until ctx ends) for it. Items still undelivered after
// that are discarded, counted in the report, and ErrDrainIncomplete is
// returned. Calling Shutdown again returns the first result.
func (c *Controller) Shutdown(ctx context.Context, drainTimeout time.Duration) (DrainReport, error) {
	c.shutdownOnce.Do(func() {
		c.report, c.shutdownErr = c.shutdown(ctx, drainTimeout)
	})
	return c.report, c.shutdownErr
}

func (c *Controller) shutdown(ctx context.Context, drainTimeout time.Duration) (DrainReport, error) {
	start := c.clock.Now()

	if !c.life.Advance(StateDraining) || c.cancel == nil {
		// never started
		c.life.Advance(StateStopped)
		n := c.q.DrainRemaining()
		return DrainReport{Discarded: n}, nil
	}
	// every accept that got past the state check has now enqueued
	logger.Log.Info("ingest_draining", zap.Int("queued", c.q.Len()), zap.Duration("drain_timeout", drainTimeout))
	close(c.drainCh)

	var (
		abandoned int
		timedOut  bool
	)
	timer := c.clock.NewTimer(drainTimeout)
	select {
	case abandoned = <-c.done:
	case <-timer.C():
		timedOut = true
	case <-ctx.Done():
		timedOut = true
	}
	timer.Stop()

	if timedOut {
		c.cancel()
		abandoned = <-c.done
	}
	c.cancel()

	discarded := abandoned + c.q.DrainRemaining()
	c.life.Advance(StateStopped)

	report := DrainReport{Discarded: discarded, TimedOut: timedOut, Took: c.clock.Since(start)}
	if discarded > 0 {
		c.rec.DrainDiscarded(discarded)
		logger.Log.Warn("drain_incomplete",
			zap.Int("discarded", discarded),
			zap.Bool("timed_out", timedOut),
			zap.Duration("took", report.Took))
		return report, errors.Wrapf(ErrDrainIncomplete, "%d accepted items discarded", discarded)
	}
	logger.Log.Info("ingest_stopped", zap.Duration("took", report.Took))
	return report, nil
}
