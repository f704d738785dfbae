package ingest

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// kvParser reads lines like "s1=1.5;s2=2" into one reading per pair, all at
// timestamp 100. A line reading "boom" panics.
type kvParser struct {
	headerLines int
}

func (p kvParser) ReadHeader(r *bufio.Reader) ([]string, error) {
	var out []string
	for i := 0; i < p.headerLines; i++ {
		line, err := r.ReadString('\n')
		if line != "" {
			out = append(out, line)
		}
		if err != nil {
			break
		}
	}
	return out, nil
}

func (kvParser) ParseLine(line string) ([]domain.Reading, error) {
	if line == "boom" {
		panic("boom")
	}
	if line == "#" {
		return nil, nil
	}
	var out []domain.Reading
	for _, pair := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("missing value")
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Reading{Timestamp: 100, SensorID: k, Value: f})
	}
	return out, nil
}

type failingHeaderParser struct{ kvParser }

func (failingHeaderParser) ReadHeader(*bufio.Reader) ([]string, error) {
	return nil, errors.New("disk on fire")
}

type deliveredBatch struct {
	dest     domain.DestinationID
	readings []domain.Reading
}

type recordingQueue struct {
	mu      sync.Mutex
	batches []deliveredBatch
}

func (q *recordingQueue) AddReadings(dest domain.DestinationID, batch []domain.Reading) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = append(q.batches, deliveredBatch{dest: dest, readings: batch})
}

func (q *recordingQueue) Drain(context.Context) error { return nil }

func (q *recordingQueue) readings(dest domain.DestinationID) []domain.Reading {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Reading
	for _, b := range q.batches {
		if b.dest == dest {
			out = append(out, b.readings...)
		}
	}
	return out
}

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
}
func (m *mockObs) ObserveLatency(string, float64)                   {}
func (m *mockObs) SetGauge(string, float64)                         {}
func (m *mockObs) RecordDLQ(ports.WALEntryID, *domain.Batch, error) {}
