package ingest

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// DebugQueue stands in for the delivery subsystem during a dry run. Each
// batch is appended to <dir>/<destination>.txt, one reading per line.
type DebugQueue struct {
	mu  sync.Mutex
	dir string
	obs ports.Observability
}

func NewDebugQueue(dir string, obs ports.Observability) *DebugQueue {
	return &DebugQueue{dir: dir, obs: obs}
}

func (d *DebugQueue) Path(dest domain.DestinationID) string {
	return filepath.Join(d.dir, string(dest)+".txt")
}

func (d *DebugQueue) AddReadings(dest domain.DestinationID, batch []domain.Reading) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.appendBatch(dest, batch); err != nil {
		d.obs.LogError("debug_write_failed", err, ports.F("destination", dest), ports.F("readings", len(batch)))
	}
}

func (d *DebugQueue) appendBatch(dest domain.DestinationID, batch []domain.Reading) error {
	f, err := os.OpenFile(d.Path(dest), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range batch {
		if _, err := w.WriteString(r.String() + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *DebugQueue) Drain(context.Context) error { return nil }

// Clear removes files left by an earlier dry run.
func (d *DebugQueue) Clear() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ ports.DeliveryQueue = (*DebugQueue)(nil)
