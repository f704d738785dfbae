package ports

import (
	"context"
	"errors"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
)

// ErrRejected marks a batch the destination refused outright; resending
// the same batch cannot succeed.
var ErrRejected = errors.New("batch rejected by destination")

// Sink transmits one batch to a remote destination.
type Sink interface {
	WriteBatch(ctx context.Context, readings []domain.Reading) error
	Name() string
}
