package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanmitchell/file-to-bmon/internal/adapters/queue"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/wal"
	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]domain.Reading
	err     error
	calls   int
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) WriteBatch(_ context.Context, readings []domain.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, readings)
	return nil
}

func (f *fakeSink) received() [][]domain.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]domain.Reading(nil), f.batches...)
}

type mockObs struct {
	mu       sync.Mutex
	counters map[string]float64
	errors   map[string]int
	dlq      int
}

func newMockObs() *mockObs {
	return &mockObs{counters: map[string]float64{}, errors: map[string]int{}}
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[msg]++
}
func (m *mockObs) LogCritical(msg string, err error, f ...ports.Field) { m.LogError(msg, err, f...) }
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += v
}
func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(string, float64)       {}
func (m *mockObs) RecordDLQ(ports.WALEntryID, *domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq++
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *mockObs) dlqCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dlq
}

func (m *mockObs) errorCount(msg string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[msg]
}

var fastRetry = ports.Retry{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

func newTestPoster(t *testing.T, dir string, dest domain.DestinationID, sink ports.Sink, queueLen int, obs ports.Observability) *Poster {
	t.Helper()
	w, err := wal.NewFileWAL(dir + "/" + string(dest))
	require.NoError(t, err)
	p, err := NewPoster(PosterConfig{
		Destination: dest,
		Sink:        sink,
		WAL:         w,
		Queue:       queue.NewMemQueue(queueLen),
		Policy:      ports.Policy{IdleSleep: time.Millisecond},
		Retry:       fastRetry,
		StateDir:    dir,
	}, obs)
	require.NoError(t, err)
	return p
}

func drainCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

var errUnavailable = errors.New("service unavailable")

func readings(ids ...string) []domain.Reading {
	out := make([]domain.Reading, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.Reading{Timestamp: int64(100 + i), SensorID: id, Value: float64(i)})
	}
	return out
}
