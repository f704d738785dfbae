package queue

import (
	"sync"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
// The head stays in place until Pop so a failed delivery can be retried.
type MemQueue struct {
	mu   sync.Mutex
	data []ports.QueuedBatch
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		data: make([]ports.QueuedBatch, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(id ports.WALEntryID, b *domain.Batch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, ports.QueuedBatch{ID: id, Batch: b})
	return true
}

func (q *MemQueue) Peek() (ports.QueuedBatch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return ports.QueuedBatch{}, false
	}
	return q.data[0], true
}

func (q *MemQueue) Pop() (ports.QueuedBatch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return ports.QueuedBatch{}, false
	}
	head := q.data[0]
	q.data[0] = ports.QueuedBatch{}
	q.data = q.data[1:]
	return head, true
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.BatchQueue = (*MemQueue)(nil)
