package ingest

import (
	"time"

	"adsingest/pkg/ingest/queue"
)

// WindowAnchor selects where a batch window's deadline is measured from.
type WindowAnchor string

const (
	// AnchorOpen measures MaxWait from the moment the window opens.
	AnchorOpen WindowAnchor = "open"
	// AnchorFirstItem measures MaxWait from the first item dequeued into
	// the window. An idle wait of MaxWait with no item is still an empty
	// window.
	AnchorFirstItem WindowAnchor = "first_item"
)

// Defaults for zero BatchPolicy fields.
const (
	// DefaultMaxSize is the item count that flushes a window.
	DefaultMaxSize = 500
	// DefaultMaxWait is how long a window stays open.
	DefaultMaxWait = 500 * time.Millisecond
)

// BatchPolicy is the dual stopping rule: flush at MaxSize items or when the
// window deadline passes, whichever comes first.
type BatchPolicy struct {
	MaxSize int
	MaxWait time.Duration
	Anchor  WindowAnchor
}

func (p BatchPolicy) withDefaults() BatchPolicy {
	if p.MaxSize <= 0 {
		p.MaxSize = DefaultMaxSize
	}
	if p.MaxWait <= 0 {
		p.MaxWait = DefaultMaxWait
	}
	if p.Anchor != AnchorFirstItem {
		p.Anchor = AnchorOpen
	}
	return p
}

// Batch is an ordered, non-empty run of items flushed together.
type Batch struct {
	Items       []*queue.Item
	AssembledAt time.Time
}

// Len returns the number of items in the batch.
func (b *Batch) Len() int { return len(b.Items) }

// release returns every item's pooled buffer.
func (b *Batch) release() {
	for _, it := range b.Items {
		it.Done()
	}
	b.Items = nil
}
