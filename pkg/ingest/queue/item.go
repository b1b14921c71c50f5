package queue

import (
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

// maxPooledBuffer controls the largest buffer size that will be returned
// to the pool. Larger buffers are dropped so one big payload does not pin
// memory for the life of the process.
var maxPooledBuffer = 256 * 1024

// Item is one accepted payload waiting to be flushed. Payload is backed by
// a pooled buffer; whoever holds the item last MUST call Done() exactly
// once to return it.
type Item struct {
	CorrelationID string
	Payload       []byte
	AcceptedAt    time.Time

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// NewItem copies payload into a pooled buffer so the caller may reuse its
// own slice (fasthttp request bodies, for one) as soon as this returns.
func NewItem(correlationID string, payload []byte, acceptedAt time.Time) *Item {
	it := &Item{CorrelationID: correlationID, AcceptedAt: acceptedAt}
	if len(payload) > 0 {
		bb := bytebufferpool.Get()
		bb.B = append(bb.B[:0], payload...)
		it.buf = bb
		it.Payload = bb.B[:len(payload)]
	}
	return it
}

// Done releases the pooled payload buffer. Payload must not be read after.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) <= maxPooledBuffer {
				bytebufferpool.Put(it.buf)
			}
			it.buf = nil
		}
		it.Payload = nil
	})
}
