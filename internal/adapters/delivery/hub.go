package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

var (
	ErrStalled    = errors.New("delivery stalled")
	ErrNotStarted = errors.New("delivery hub not started")
)

// Hub fans flushed batches out to the poster of each destination.
type Hub struct {
	posters map[domain.DestinationID]*Poster
	obs     ports.Observability
	poll    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(obs ports.Observability, posters ...*Poster) *Hub {
	h := &Hub{
		posters: make(map[domain.DestinationID]*Poster, len(posters)),
		obs:     obs,
		poll:    50 * time.Millisecond,
	}
	for _, p := range posters {
		h.posters[p.dest] = p
	}
	return h
}

// Start launches one sender goroutine per destination. Backlog left in the
// WAL by a previous run is replayed first.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	for _, p := range h.posters {
		h.wg.Add(1)
		go func(p *Poster) {
			defer h.wg.Done()
			p.Run(ctx)
		}(p)
	}
}

func (h *Hub) AddReadings(dest domain.DestinationID, batch []domain.Reading) {
	p, ok := h.posters[dest]
	if !ok {
		h.obs.LogCritical("unknown_destination", fmt.Errorf("destination %q has no poster", dest), ports.F("readings", len(batch)))
		return
	}
	p.Submit(batch)
}

// Drain waits until every poster is idle or stalled. Stalled destinations
// keep their batches in the WAL for the next run and are reported as errors.
func (h *Hub) Drain(ctx context.Context) error {
	h.mu.Lock()
	started := h.cancel != nil
	h.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	t := time.NewTicker(h.poll)
	defer t.Stop()
	for {
		done := true
		var errs []error
		for _, dest := range h.Destinations() {
			p := h.posters[dest]
			switch {
			case p.Idle():
			case p.Stalled():
				errs = append(errs, fmt.Errorf("%s: %d batches pending: %w", dest, p.Stats().Pending, ErrStalled))
			default:
				done = false
			}
		}
		if done {
			return errors.Join(errs...)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Destinations lists the configured destinations in sorted order.
func (h *Hub) Destinations() []domain.DestinationID {
	out := make([]domain.DestinationID, 0, len(h.posters))
	for d := range h.posters {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (h *Hub) Stats() []PosterStats {
	out := make([]PosterStats, 0, len(h.posters))
	for _, d := range h.Destinations() {
		out = append(out, h.posters[d].Stats())
	}
	return out
}

// Close stops the senders and closes every WAL.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()

	var errs []error
	for _, d := range h.Destinations() {
		if err := h.posters[d].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

var _ ports.DeliveryQueue = (*Hub)(nil)
