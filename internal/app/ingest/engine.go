// Package ingest is the file ingestion engine: it drives a LineParser over
// every file of a source, routes the readings into per-destination buffers
// and records the disposition of each line in completed and error archives.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// Engine processes the files of one source. Construction has no side
// effects; call Prepare once before Run.
type Engine struct {
	spec     domain.SourceSpec
	parser   ports.LineParser
	router   *Router
	buffer   *ReadingBuffer
	debug    *DebugQueue
	obs      ports.Observability
	archiver ports.Archiver
	now      func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithArchiver mirrors every kept completed/error archive after finalization.
func WithArchiver(a ports.Archiver) EngineOption {
	return func(e *Engine) {
		e.archiver = a
	}
}

// WithClock overrides the time source used by retention cleanup.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithBuffer shares a buffer between engines, e.g. to test flush behavior
// across sources. It is ignored in dry run, where the engine always buffers
// into its own DebugQueue.
func WithBuffer(b *ReadingBuffer) EngineOption {
	return func(e *Engine) {
		e.buffer = b
	}
}

// NewEngine wires a source to its parser, router and delivery queue. In dry
// run the delivery queue is replaced by a DebugQueue writing under the
// source's debug directory.
func NewEngine(spec domain.SourceSpec, parser ports.LineParser, router *Router, delivery ports.DeliveryQueue, obs ports.Observability, opts ...EngineOption) *Engine {
	e := &Engine{
		spec:   spec,
		parser: parser,
		router: router,
		obs:    obs,
		now:    time.Now,
	}
	if spec.DryRun {
		e.debug = NewDebugQueue(spec.DebugDir(), obs)
		delivery = e.debug
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.buffer == nil || spec.DryRun {
		e.buffer = NewReadingBuffer(delivery)
	}
	return e
}

// Buffer exposes the engine's reading buffer.
func (e *Engine) Buffer() *ReadingBuffer { return e.buffer }

// Prepare creates the archive directories, clears debug output of a previous
// dry run, and otherwise applies retention to old completed archives. Only directory
// creation failures are returned.
func (e *Engine) Prepare() error {
	for _, dir := range []string{e.spec.CompletedDir(), e.spec.ErrorsDir(), e.spec.DebugDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("prepare %s: %w", dir, err)
		}
	}

	if e.spec.DryRun {
		if err := e.debug.Clear(); err != nil {
			e.obs.LogError("debug_clear_failed", err, ports.F("dir", e.spec.DebugDir()))
		}
		return nil
	}

	// Error archives are kept until someone deals with them.
	dir := e.spec.CompletedDir()
	removed, err := CleanupRetention(dir, e.spec.Retention(), e.now())
	if err != nil {
		e.obs.LogError("retention_cleanup_failed", err, ports.F("dir", dir))
	}
	if len(removed) > 0 {
		e.obs.IncCounter("filetobmon_retention_deleted_total", float64(len(removed)))
		e.obs.LogInfo("retention_cleanup", ports.F("dir", dir), ports.F("deleted", len(removed)))
	}
	return nil
}

// Run processes every file matching the source pattern in lexical order and
// then flushes all buffers. The returned error covers only an invalid
// pattern; per-file failures are reported in the outcomes.
func (e *Engine) Run(ctx context.Context) ([]domain.ProcessingOutcome, error) {
	paths, err := filepath.Glob(e.spec.Pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", e.spec.Pattern, err)
	}

	outcomes := make([]domain.ProcessingOutcome, 0, len(paths))
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		outcomes = append(outcomes, e.ProcessFile(ctx, path))
	}

	if n := e.buffer.FlushAll(); n > 0 {
		e.obs.IncCounter("filetobmon_batches_flushed_total", float64(n))
	}
	return outcomes, ctx.Err()
}

// ProcessFile runs one file through the state machine. It never panics on
// bad input and never deletes a file it could not fully classify.
func (e *Engine) ProcessFile(ctx context.Context, path string) domain.ProcessingOutcome {
	out := domain.ProcessingOutcome{File: path, State: domain.FileDiscovered}

	if err := e.processFile(ctx, path, &out); err != nil {
		out.Err = err
		out.State = domain.FileRetained
		out.CompletedPath, out.ErrorPath = "", ""
		e.obs.IncCounter("filetobmon_files_failed_total", 1)
		e.obs.LogError("file_failed", err, ports.F("file", path))
		return out
	}
	out.State = domain.FileFinalized

	e.obs.IncCounter("filetobmon_files_processed_total", 1)
	e.obs.LogInfo("file_processed",
		ports.F("file", path),
		ports.F("success_lines", out.SuccessLines),
		ports.F("error_lines", out.ErrorLines))

	if e.spec.DryRun {
		out.State = domain.FileRetained
		return out
	}
	if err := os.Remove(path); err != nil {
		e.obs.LogError("file_delete_failed", err, ports.F("file", path))
		out.State = domain.FileRetained
		return out
	}
	out.State = domain.FileDeleted
	return out
}

func (e *Engine) processFile(ctx context.Context, path string, out *domain.ProcessingOutcome) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := e.parser.ReadHeader(r)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	out.State = domain.FileHeaderRead
	headerText := strings.Join(header, "")

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	okArchive, err := openArchive(filepath.Join(e.spec.CompletedDir(), stem+"_ok"+ext), headerText)
	if err != nil {
		return fmt.Errorf("open completed archive: %w", err)
	}
	errArchive, err := openArchive(filepath.Join(e.spec.ErrorsDir(), stem+"_err"+ext), headerText)
	if err != nil {
		okArchive.discard()
		return fmt.Errorf("open error archive: %w", err)
	}

	out.State = domain.FileStreaming
	if err := e.stream(ctx, path, r, okArchive, errArchive, out); err != nil {
		okArchive.discard()
		errArchive.discard()
		return err
	}

	keptOK, okErr := okArchive.finish()
	keptErr, errErr := errArchive.finish()
	if err := errors.Join(okErr, errErr); err != nil {
		return fmt.Errorf("finalize archives: %w", err)
	}
	if keptOK {
		out.CompletedPath = okArchive.path
		e.mirror(ctx, okArchive.path)
	}
	if keptErr {
		out.ErrorPath = errArchive.path
		e.mirror(ctx, errArchive.path)
	}
	return nil
}

func (e *Engine) stream(ctx context.Context, path string, r *bufio.Reader, okArchive, errArchive *archiveFile, out *domain.ProcessingOutcome) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, readErr := r.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read: %w", readErr)
		}

		if line := strings.TrimSpace(raw); line != "" {
			target := okArchive
			if err := e.handleLine(line); err != nil {
				target = errArchive
				out.ErrorLines++
				e.obs.IncCounter("filetobmon_lines_error_total", 1)
				e.obs.LogError("line_failed", err, ports.F("file", path), ports.F("line", line))
			} else {
				out.SuccessLines++
				e.obs.IncCounter("filetobmon_lines_completed_total", 1)
			}
			if err := target.writeLine(line); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			if n := e.buffer.MaybeFlush(e.spec.ChunkSize); n > 0 {
				e.obs.IncCounter("filetobmon_batches_flushed_total", float64(n))
			}
		}

		if readErr != nil {
			return nil
		}
	}
}

// handleLine parses and routes one line. Readings that route are buffered
// even when a sibling reading on the same line does not.
func (e *Engine) handleLine(line string) error {
	readings, err := e.parse(line)
	if err != nil {
		return err
	}

	var unroutable []string
	for _, rd := range readings {
		dest, ok := e.router.Route(rd.SensorID)
		if !ok {
			unroutable = append(unroutable, rd.SensorID)
			continue
		}
		e.buffer.Append(dest, rd)
		e.obs.IncCounter("filetobmon_readings_routed_total", 1)
	}
	if len(unroutable) > 0 {
		return fmt.Errorf("%w: %s", ErrUnroutable, strings.Join(unroutable, ", "))
	}
	return nil
}

// parse shields the engine from a parser that panics on odd input; the line
// is then treated like any other parse failure.
func (e *Engine) parse(line string) (readings []domain.Reading, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			readings, err = nil, fmt.Errorf("parser panic: %v", rec)
		}
	}()
	return e.parser.ParseLine(line)
}

func (e *Engine) mirror(ctx context.Context, path string) {
	if e.archiver == nil {
		return
	}
	if err := e.archiver.Archive(ctx, path); err != nil {
		e.obs.LogError("archive_mirror_failed", err, ports.F("file", path))
	}
}
