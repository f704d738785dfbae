package ports

import "github.com/alanmitchell/file-to-bmon/internal/domain"

type QueuedBatch struct {
	ID    WALEntryID
	Batch *domain.Batch
}

type BatchQueue interface {
	Enqueue(id WALEntryID, b *domain.Batch) bool
	Peek() (QueuedBatch, bool)
	Pop() (QueuedBatch, bool)
	Len() int
}
