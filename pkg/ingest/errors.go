package ingest

import (
	"github.com/pkg/errors"

	"adsingest/pkg/ingest/queue"
)

var (
	// ErrPayloadInvalid means the body failed structural decoding. Not
	// retriable as-is.
	ErrPayloadInvalid = errors.New("payload invalid")
	// ErrQueueFull is the backpressure signal. Retry after a delay.
	ErrQueueFull = queue.ErrQueueFull
	// ErrServiceDraining means the core is not accepting work. Retry
	// against another instance.
	ErrServiceDraining = errors.New("service draining")
	// ErrSinkUnavailable marks a batch the sink did not acknowledge.
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrSerialization marks an item that could not be turned into a
	// sink message.
	ErrSerialization = errors.New("serialization failure")
	// ErrDrainIncomplete is returned by Shutdown when accepted items had
	// to be discarded.
	ErrDrainIncomplete = errors.New("drain incomplete")
)

// SinkError carries the sink's own failure. It matches both
// ErrSinkUnavailable and the underlying error.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return ErrSinkUnavailable.Error() + ": " + e.Err.Error() }

func (e *SinkError) Unwrap() []error { return []error{ErrSinkUnavailable, e.Err} }

// IsRetriable reports whether a caller may retry the same payload later.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrServiceDraining)
}

// Reason labels for rejected requests.
const (
	ReasonInvalid   = "invalid_payload"
	ReasonQueueFull = "queue_full"
	ReasonDraining  = "draining"
	ReasonOther     = "other"
)

// RejectReason maps an accept error to its metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrPayloadInvalid):
		return ReasonInvalid
	case errors.Is(err, ErrQueueFull):
		return ReasonQueueFull
	case errors.Is(err, ErrServiceDraining), errors.Is(err, queue.ErrQueueClosed):
		return ReasonDraining
	default:
		return ReasonOther
	}
}
