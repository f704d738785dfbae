package filetobmon

import (
	"context"
	"time"

	base "github.com/alanmitchell/file-to-bmon/pkg/filetobmon"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-exported errors for convenience.
var (
	ErrRejected          = base.ErrRejected
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/alanmitchell/file-to-bmon directly.
type (
	Config            = base.Config
	Destination       = base.Destination
	RoutingConfig     = base.RoutingConfig
	DeliveryConfig    = base.DeliveryConfig
	MetricsConfig     = base.MetricsConfig
	SourceSpec        = base.SourceSpec
	Policy            = base.Policy
	Retry             = base.Retry
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Report            = base.Report
	SourceReport      = base.SourceReport
	Reading           = base.Reading
	DestinationID     = base.DestinationID
	ProcessingOutcome = base.ProcessingOutcome
	RoutingTable      = base.RoutingTable
	LineParser        = base.LineParser
	FormatOptions     = base.FormatOptions
	FormatConstructor = base.FormatConstructor
	ReadingBatchSink  = base.ReadingBatchSink
	Sink              = base.Sink
	RoutingSource     = base.RoutingSource
	Archiver          = base.Archiver
	Observability     = base.Observability
	Field             = base.Field
	DeliveryStats     = base.DeliveryStats
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInRouting(src RoutingSource) StreamInOption {
	return base.StreamInRouting(src)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(dest DestinationID, s Sink) StreamOutOption {
	return base.StreamOutSink(dest, s)
}

func StreamOutCallback(dest DestinationID, fn ReadingBatchSink) StreamOutOption {
	return base.StreamOutCallback(dest, fn)
}

func StreamOutArchiver(a Archiver) StreamOutOption {
	return base.StreamOutArchiver(a)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSink(dest DestinationID, s Sink) RuntimeOption {
	return base.WithSink(dest, s)
}

func WithRoutingSource(src RoutingSource) RuntimeOption {
	return base.WithRoutingSource(src)
}

func WithArchiver(a Archiver) RuntimeOption {
	return base.WithArchiver(a)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return base.WithRegistry(reg)
}

// RunOnce loads the config at path and processes every source a single time.
func RunOnce(ctx context.Context, path string, opts ...StreamOutOption) error {
	flow, err := base.Conf(path)
	if err != nil {
		return err
	}
	return flow.Run(ctx, 0, opts...)
}

// Watch loads the config at path and rescans every interval until ctx is done.
func Watch(ctx context.Context, path string, every time.Duration, opts ...StreamOutOption) error {
	flow, err := base.Conf(path)
	if err != nil {
		return err
	}
	return flow.Run(ctx, every, opts...)
}

func DeliveryBacklog(cfg *Config) ([]DeliveryStats, error) {
	return base.DeliveryBacklog(cfg)
}

// Sink adapters.
func NewCallbackSink(name string, fn ReadingBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []Reading, func()) {
	return base.NewChannelSink(name, buffer)
}

// Custom formats.
func RegisterFormat(name string, c FormatConstructor) {
	base.RegisterFormat(name, c)
}

func Formats() []string {
	return base.Formats()
}
