package ports

import (
	"context"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
)

// DeliveryQueue accepts flushed batches. AddReadings must return without
// waiting on the network; Drain blocks until outstanding batches are
// delivered or have stopped making progress.
type DeliveryQueue interface {
	AddReadings(dest domain.DestinationID, batch []domain.Reading)
	Drain(ctx context.Context) error
}

// RoutingSource loads the sensor to destination table once per run.
type RoutingSource interface {
	Load(ctx context.Context) (domain.RoutingTable, error)
}

// Archiver copies a finalized archive file somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, localPath string) error
}
