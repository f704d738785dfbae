package filetobmon

import (
	"context"
	"fmt"
	"time"
)

// Flow is a convenience builder that lets callers say Conf → StreamIN → StreamOUT
// without touching the per-destination delivery wiring.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the routing and telemetry side of a run.
type StreamInOption func(*Flow)

// StreamOutOption configures sinks and archiving.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before building a runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// StreamIN records routing and observability overrides.
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT records sink-side overrides and builds a Runtime.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run builds the runtime and processes every source once. With every > 0 it
// keeps rescanning until ctx is cancelled.
func (f *Flow) Run(ctx context.Context, every time.Duration, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(sctx)
	}()
	if every > 0 {
		return rt.Watch(ctx, every)
	}
	_, err = rt.RunOnce(ctx)
	return err
}

// WithFlowOptions appends RuntimeOption values during Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// StreamInRouting replaces the routing file or database named in the config.
func StreamInRouting(src RoutingSource) StreamInOption {
	return func(f *Flow) {
		if f != nil && src != nil {
			f.appendOptions(WithRoutingSource(src))
		}
	}
}

// StreamInObservability overrides the default Prometheus-based observability stack.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutSink delivers one destination through a custom Sink.
func StreamOutSink(dest DestinationID, s Sink) StreamOutOption {
	return func(f *Flow) {
		if f != nil && s != nil {
			f.appendOptions(WithSink(dest, s))
		}
	}
}

// StreamOutCallback delivers one destination through a callback function.
func StreamOutCallback(dest DestinationID, fn ReadingBatchSink) StreamOutOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(WithSink(dest, NewCallbackSink(string(dest), fn)))
		}
	}
}

// StreamOutArchiver mirrors finalized archives through a custom Archiver.
func StreamOutArchiver(a Archiver) StreamOutOption {
	return func(f *Flow) {
		if f != nil && a != nil {
			f.appendOptions(WithArchiver(a))
		}
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
