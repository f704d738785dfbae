package ingest

import (
	"sync"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// ReadingBuffer accumulates readings per destination and hands whole
// buffers to the delivery queue. Safe for concurrent use.
type ReadingBuffer struct {
	mu    sync.Mutex
	bufs  map[domain.DestinationID][]domain.Reading
	order []domain.DestinationID
	out   ports.DeliveryQueue
}

func NewReadingBuffer(out ports.DeliveryQueue) *ReadingBuffer {
	return &ReadingBuffer{
		bufs: make(map[domain.DestinationID][]domain.Reading),
		out:  out,
	}
}

func (b *ReadingBuffer) Append(dest domain.DestinationID, r domain.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.bufs[dest]; !ok {
		b.order = append(b.order, dest)
	}
	b.bufs[dest] = append(b.bufs[dest], r)
}

// MaybeFlush delivers every buffer holding at least threshold readings and
// returns how many batches were handed off.
func (b *ReadingBuffer) MaybeFlush(threshold int) int {
	if threshold < 1 {
		threshold = 1
	}
	return b.flush(threshold)
}

// FlushAll delivers every non-empty buffer.
func (b *ReadingBuffer) FlushAll() int {
	return b.flush(1)
}

// Len reports the readings waiting for dest.
func (b *ReadingBuffer) Len(dest domain.DestinationID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bufs[dest])
}

func (b *ReadingBuffer) flush(min int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, dest := range b.order {
		buf := b.bufs[dest]
		if len(buf) < min {
			continue
		}
		// the slice is handed over as is; a fresh one starts the next batch
		b.bufs[dest] = nil
		b.out.AddReadings(dest, buf)
		n++
	}
	return n
}
