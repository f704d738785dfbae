package filetobmon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("filetobmon: channel sink closed")

// ReadingBatchSink receives one delivered batch. Returning an error makes the
// poster retry the batch; wrap ErrRejected to drop it permanently.
type ReadingBatchSink func(ctx context.Context, readings []Reading) error

// NewCallbackSink adapts a function into a Sink so callers can deliver
// readings anywhere without defining a type.
func NewCallbackSink(name string, fn ReadingBatchSink) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel; it returns the sink, the read-only channel,
// and a close function that the caller should invoke during shutdown.
func NewChannelSink(name string, buffer int) (Sink, <-chan []Reading, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []Reading, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   ReadingBatchSink
}

func (s *callbackSink) WriteBatch(ctx context.Context, readings []domain.Reading) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(readings) == 0 {
		return nil
	}
	return s.fn(ctx, append([]Reading(nil), readings...))
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []Reading
	closed chan struct{}
	once   sync.Once
}

func (s *channelSink) WriteBatch(ctx context.Context, readings []domain.Reading) error {
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	if len(readings) == 0 {
		return nil
	}

	batch := append([]Reading(nil), readings...)

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- batch:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}
