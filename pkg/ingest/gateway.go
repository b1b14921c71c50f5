package ingest

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"adsingest/pkg/ingest/queue"
	"adsingest/pkg/logger"
)

// Gateway is the accept path. It never waits on the assembler or the sink:
// the only thing it checks before enqueueing is that the core is running
// and the body decodes as JSON.
type Gateway struct {
	q          *queue.Queue
	life       *Lifecycle
	rec        Recorder
	clock      clock.PassiveClock
	maxPayload int
	newID      func() string
}

func newGateway(q *queue.Queue, life *Lifecycle, rec Recorder, c clock.PassiveClock, maxPayload int) *Gateway {
	return &Gateway{q: q, life: life, rec: rec, clock: c, maxPayload: maxPayload, newID: uuid.NewString}
}

// Accept enqueues raw and returns its correlation id. Errors are
// ErrServiceDraining, ErrPayloadInvalid or ErrQueueFull.
func (g *Gateway) Accept(ctx context.Context, raw []byte) (string, error) {
	g.rec.RequestReceived()
	id, err := g.accept(ctx, raw)
	if err != nil {
		reason := RejectReason(err)
		g.rec.RequestFailed(reason)
		logger.Log.Debug("ingest_rejected", zap.String("reason", reason), zap.Int("bytes", len(raw)), zap.Error(err))
		return "", err
	}
	logger.Log.Debug("ingest_accepted", zap.String("request_id", id), zap.Int("bytes", len(raw)))
	return id, nil
}

func (g *Gateway) accept(ctx context.Context, raw []byte) (string, error) {
	// cheap early exit; the authoritative check is under the lock below
	if g.life.State() != StateRunning {
		return "", ErrServiceDraining
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := g.validate(raw); err != nil {
		return "", err
	}

	id := g.newID()
	err := g.life.WhileRunning(func() error {
		return g.q.TryEnqueue(queue.NewItem(id, raw, g.clock.Now()))
	})
	if errors.Is(err, queue.ErrQueueClosed) {
		err = ErrServiceDraining
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (g *Gateway) validate(raw []byte) error {
	if len(raw) == 0 {
		return errors.Wrap(ErrPayloadInvalid, "empty body")
	}
	if g.maxPayload > 0 && len(raw) > g.maxPayload {
		return errors.Wrapf(ErrPayloadInvalid, "body is %d bytes, limit %d", len(raw), g.maxPayload)
	}
	if !json.Valid(raw) {
		return errors.Wrap(ErrPayloadInvalid, "body is not valid JSON")
	}
	return nil
}
