// Package delivery implements the delivery queue: one poster per
// destination, each backed by a write-ahead log and a background sender.
package delivery

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

var errQueueFull = errors.New("queue full")

type PosterConfig struct {
	Destination domain.DestinationID
	Sink        ports.Sink
	WAL         ports.WAL
	Queue       ports.BatchQueue
	Policy      ports.Policy
	Retry       ports.Retry
	// StateDir holds the last post time and rejected batch files.
	StateDir string
}

// Poster sends the batches of one destination in WAL order. A batch is
// committed only after the sink accepted or permanently rejected it.
type Poster struct {
	dest     domain.DestinationID
	sink     ports.Sink
	wal      ports.WAL
	q        ports.BatchQueue
	pol      ports.Policy
	retry    ports.Retry
	stateDir string
	obs      ports.Observability

	newID func() string
	now   func() time.Time
	wake  chan struct{}

	mu       sync.Mutex
	tail     ports.WALEntryID // highest WAL id handed to q
	attempts int
	stalled  bool
	lastPost time.Time
}

func NewPoster(cfg PosterConfig, obs ports.Observability) (*Poster, error) {
	if cfg.Policy.IdleSleep <= 0 {
		cfg.Policy.IdleSleep = 200 * time.Millisecond
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = time.Minute
	}
	if cfg.Retry.Multiplier < 1 {
		cfg.Retry.Multiplier = 2
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, err
	}
	last, err := ReadLastPost(cfg.StateDir, cfg.Destination)
	if err != nil {
		obs.LogError("last_post_time_unreadable", err, ports.F("destination", cfg.Destination))
	}

	return &Poster{
		dest:     cfg.Destination,
		sink:     cfg.Sink,
		wal:      cfg.WAL,
		q:        cfg.Queue,
		pol:      cfg.Policy,
		retry:    cfg.Retry,
		stateDir: cfg.StateDir,
		obs:      obs,
		newID:    uuid.NewString,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		tail:     cfg.WAL.Stats().OldestUncommitted - 1,
		lastPost: last,
	}, nil
}

// Submit persists readings as one batch and returns without waiting on the sink.
func (p *Poster) Submit(readings []domain.Reading) {
	if len(readings) == 0 {
		return
	}
	b := &domain.Batch{ID: p.newID(), Destination: p.dest, Readings: readings}

	if !waitForWALCapacity(p.wal, p.pol, p.obs) {
		p.obs.IncCounter("filetobmon_batches_dropped_total", 1)
		return
	}

	p.mu.Lock()
	id, err := p.wal.Append(b)
	if err != nil {
		p.mu.Unlock()
		p.obs.LogCritical("wal_append_failed", err, ports.F("destination", p.dest), ports.F("readings", len(readings)))
		p.obs.IncCounter("filetobmon_batches_dropped_total", 1)
		return
	}
	// Entries behind an older backlog are picked up by refill in WAL order.
	if id == p.tail+1 && p.q.Enqueue(id, b) {
		p.tail = id
	}
	p.mu.Unlock()

	p.signal()
}

func (p *Poster) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run sends batches until ctx is cancelled.
func (p *Poster) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.refill(); err != nil {
			p.obs.LogCritical("wal_replay_failed", err, ports.F("destination", p.dest))
			p.pause(ctx, p.pol.IdleSleep)
			continue
		}

		item, ok := p.q.Peek()
		if !ok {
			p.compact()
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			case <-time.After(p.pol.IdleSleep):
			}
			continue
		}
		p.deliver(ctx, item)
	}
}

// refill loads WAL entries the queue has not seen yet: the backlog of a
// previous run and batches that did not fit in memory.
func (p *Poster) refill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.q.Len() > 0 || p.wal.Stats().LatestAppended <= p.tail {
		return nil
	}
	err := p.wal.Iterate(p.tail+1, func(id ports.WALEntryID, b *domain.Batch) error {
		if !p.q.Enqueue(id, b) {
			return errQueueFull
		}
		p.tail = id
		return nil
	})
	if errors.Is(err, errQueueFull) {
		return nil
	}
	return err
}

func (p *Poster) deliver(ctx context.Context, item ports.QueuedBatch) {
	start := p.now()
	err := p.sink.WriteBatch(ctx, item.Batch.Readings)

	switch {
	case err == nil:
		p.obs.ObserveLatency("filetobmon_delivery_latency_seconds", p.now().Sub(start).Seconds())
		p.obs.IncCounter("filetobmon_readings_delivered_total", float64(len(item.Batch.Readings)))
		p.markPosted()
		p.complete(item)

	case errors.Is(err, ports.ErrRejected):
		p.obs.RecordDLQ(item.ID, item.Batch, err)
		if werr := appendRejected(p.stateDir, item.Batch, err); werr != nil {
			p.obs.LogCritical("rejected_write_failed", werr, ports.F("destination", p.dest), ports.F("batch", item.Batch.ID))
		}
		p.complete(item)

	default:
		if ctx.Err() != nil {
			return
		}
		p.obs.IncCounter("filetobmon_delivery_failures_total", 1)

		p.mu.Lock()
		p.attempts++
		attempt := p.attempts
		delay := backoff(p.retry, attempt)
		if attempt >= p.retry.MaxAttempts {
			p.stalled = true
			p.attempts = 0
			delay = p.retry.MaxDelay
		}
		stalled := p.stalled
		p.mu.Unlock()

		p.obs.LogError("delivery_failed", err,
			ports.F("destination", p.dest),
			ports.F("sink", p.sink.Name()),
			ports.F("batch", item.Batch.ID),
			ports.F("attempt", attempt),
			ports.F("stalled", stalled),
		)
		p.pause(ctx, delay)
	}
}

func (p *Poster) complete(item ports.QueuedBatch) {
	p.q.Pop()
	if err := p.wal.Commit(item.ID); err != nil {
		p.obs.LogError("wal_commit_failed", err, ports.F("destination", p.dest))
	}
	p.mu.Lock()
	p.attempts = 0
	p.stalled = false
	p.mu.Unlock()
}

func (p *Poster) markPosted() {
	at := p.now()
	p.mu.Lock()
	p.lastPost = at
	p.mu.Unlock()
	if err := writeLastPost(p.stateDir, p.dest, at); err != nil {
		p.obs.LogError("last_post_time_write_failed", err, ports.F("destination", p.dest))
	}
}

// compact drops the log once every entry is committed.
func (p *Poster) compact() {
	stats := p.wal.Stats()
	p.obs.SetGauge("filetobmon_queue_length", float64(p.q.Len()))
	p.obs.SetGauge("filetobmon_wal_size_bytes", float64(stats.SizeBytes))
	if stats.SizeBytes == 0 || stats.OldestUncommitted <= stats.LatestAppended {
		return
	}
	if err := p.wal.TruncateCommitted(); err != nil {
		p.obs.LogError("wal_truncate_failed", err, ports.F("destination", p.dest))
	}
}

func (p *Poster) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Idle reports whether every submitted batch has been committed.
func (p *Poster) Idle() bool {
	stats := p.wal.Stats()
	return stats.OldestUncommitted > stats.LatestAppended
}

// Stalled reports whether the poster exhausted its retries on the head batch
// and has not delivered anything since.
func (p *Poster) Stalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stalled
}

type PosterStats struct {
	Destination domain.DestinationID
	Sink        string
	Pending     uint64
	WALBytes    int64
	LastPost    time.Time
	Stalled     bool
}

func pending(ws ports.WALStats) uint64 {
	if ws.LatestAppended < ws.OldestUncommitted {
		return 0
	}
	return uint64(ws.LatestAppended - ws.OldestUncommitted + 1)
}

// Inspect reports the backlog of a destination without starting a poster.
func Inspect(dest domain.DestinationID, w ports.WAL, stateDir string) (PosterStats, error) {
	ws := w.Stats()
	last, err := ReadLastPost(stateDir, dest)
	return PosterStats{
		Destination: dest,
		Pending:     pending(ws),
		WALBytes:    ws.SizeBytes,
		LastPost:    last,
	}, err
}

func (p *Poster) Stats() PosterStats {
	ws := p.wal.Stats()
	p.mu.Lock()
	defer p.mu.Unlock()
	return PosterStats{
		Destination: p.dest,
		Sink:        p.sink.Name(),
		Pending:     pending(ws),
		WALBytes:    ws.SizeBytes,
		LastPost:    p.lastPost,
		Stalled:     p.stalled,
	}
}

func (p *Poster) Close() error { return p.wal.Close() }
