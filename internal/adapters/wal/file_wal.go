// Package wal persists delivery batches so a batch handed to the delivery
// subsystem survives a crash or an exhausted retry until it is committed.
package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

const recordHeaderLen = 12

type FileWAL struct {
	mu        sync.Mutex
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &FileWAL{
		path:     path,
		metaPath: filepath.Join(dir, "wal.meta"),
		file:     f,
		writer:   bufio.NewWriterSize(f, 1<<16),
	}
	if err := w.bootstrap(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) bootstrap() error {
	if err := w.scanExisting(); err != nil {
		return err
	}
	if err := w.loadCommitted(); err != nil {
		return err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// scanExisting finds the last complete record and cuts off a torn tail.
func (w *FileWAL) scanExisting() error {
	stat, err := w.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() == 0 {
		return nil
	}

	rf, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var (
		offset int64
		lastID ports.WALEntryID
	)

	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("wal scan header: %w", err)
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		length := binary.BigEndian.Uint32(hdr[8:12])

		if _, err := io.CopyN(io.Discard, reader, int64(length)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("wal scan body: %w", err)
		}
		offset += recordHeaderLen + int64(length)
		lastID = id
	}

	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	w.sizeBytes = offset
	w.nextID = lastID
	return nil
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("wal meta parse: %w", err)
	}
	w.committed = ports.WALEntryID(u)
	return nil
}

func (w *FileWAL) Append(b *domain.Batch) (ports.WALEntryID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID + 1

	body, err := json.Marshal(b)
	if err != nil {
		return 0, err
	}

	// entry format: [8 bytes id][4 bytes len][len bytes json]
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.writer.Write(body); err != nil {
		return 0, err
	}
	// a batch is only acknowledged once it reached the file
	if err := w.writer.Flush(); err != nil {
		return 0, err
	}

	w.nextID = id
	w.sizeBytes += int64(len(body) + len(hdr))
	return id, nil
}

func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, b *domain.Batch) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.iterateLocked(from, fn)
}

func (w *FileWAL) iterateLocked(from ports.WALEntryID, fn func(id ports.WALEntryID, b *domain.Batch) error) error {
	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("wal iterate header: %w", err)
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		l := binary.BigEndian.Uint32(hdr[8:12])

		body := make([]byte, l)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("corrupt WAL: %w", err)
		}
		if id < from {
			continue
		}

		var b domain.Batch
		if err := json.Unmarshal(body, &b); err != nil {
			return fmt.Errorf("corrupt WAL entry %d: %w", id, err)
		}
		if err := fn(id, &b); err != nil {
			return err
		}
	}
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto > w.committed {
		w.committed = upto
	}
	return w.persistMetaLocked()
}

// TruncateCommitted rewrites the log keeping only uncommitted entries.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}

	tmpPath := w.path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	tw := bufio.NewWriter(tmp)
	var size int64
	err = w.iterateLocked(w.committed+1, func(id ports.WALEntryID, b *domain.Batch) error {
		body, err := json.Marshal(b)
		if err != nil {
			return err
		}
		var hdr [recordHeaderLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
		if _, err := tw.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := tw.Write(body); err != nil {
			return err
		}
		size += int64(len(hdr) + len(body))
		return nil
	})
	if err == nil {
		err = tw.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wal truncate: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer.Reset(f)
	w.sizeBytes = size
	return nil
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.writer.Flush(), w.file.Close())
}

func (w *FileWAL) persistMetaLocked() error {
	data := []byte(fmt.Sprintf("%d\n", w.committed))
	return os.WriteFile(w.metaPath, data, 0o644)
}

var _ ports.WAL = (*FileWAL)(nil)
