package filetobmon

import (
	"github.com/alanmitchell/file-to-bmon/internal/adapters/delivery"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/parsers"
	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// Reading is the normalized (timestamp, sensor, value) triple.
type Reading = domain.Reading

// DestinationID names a configured delivery target.
type DestinationID = domain.DestinationID

// ProcessingOutcome reports how one source file was classified.
type ProcessingOutcome = domain.ProcessingOutcome

// RoutingTable maps sensor ids to destinations.
type RoutingTable = domain.RoutingTable

// LineParser reads one file format.
type LineParser = ports.LineParser

// FormatOptions is handed to a format constructor.
type FormatOptions = parsers.Options

// FormatConstructor builds a LineParser for one source.
type FormatConstructor = parsers.Constructor

// Sink transmits a batch of readings to one destination.
type Sink = ports.Sink

// RoutingSource loads the routing table once per run.
type RoutingSource = ports.RoutingSource

// Archiver copies finalized archive files somewhere durable.
type Archiver = ports.Archiver

// Observability emits logs and metrics.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// DeliveryStats reports the backlog of one destination.
type DeliveryStats = delivery.PosterStats

// ErrRejected marks a batch a sink refused permanently.
var ErrRejected = ports.ErrRejected

// RegisterFormat makes a custom format available to file_sources.
func RegisterFormat(name string, c FormatConstructor) {
	parsers.Register(name, c)
}

// Formats lists the registered format names.
func Formats() []string {
	return parsers.Names()
}
