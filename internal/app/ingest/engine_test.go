package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmitchell/file-to-bmon/internal/adapters/parsers"
	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

func newTestEngine(t *testing.T, dir string, spec domain.SourceSpec, parser ports.LineParser) (*Engine, *recordingQueue, *mockObs) {
	t.Helper()
	if spec.Pattern == "" {
		spec.Pattern = filepath.Join(dir, "*.csv")
	}
	if spec.ChunkSize == 0 {
		spec.ChunkSize = 300
	}
	if spec.FileRetention == 0 {
		spec.FileRetention = 3
	}
	router, err := NewRouter(domain.RoutingTable{
		Targets: map[string]domain.DestinationID{"a": "bmon1", "b": "bmon2"},
	}, []domain.DestinationID{"bmon1", "bmon2"})
	require.NoError(t, err)

	q := &recordingQueue{}
	obs := &mockObs{}
	e := NewEngine(spec, parser, router, q, obs)
	require.NoError(t, e.Prepare())
	return e, q, obs
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestEngineClassifiesEveryLine(t *testing.T) {
	dir := t.TempDir()
	e, q, _ := newTestEngine(t, dir, domain.SourceSpec{}, kvParser{headerLines: 1})

	src := filepath.Join(dir, "meters.csv")
	writeFile(t, src, "sensor,value\n"+
		"a=1\n"+
		"\n"+
		"  b=2  \n"+
		"a=oops\n"+
		"a=3;zzz=4\n"+
		"missing\n"+
		"boom\n"+
		"#\n"+
		"b=5")

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	out := outcomes[0]
	assert.NoError(t, out.Err)
	assert.Equal(t, domain.FileDeleted, out.State)
	assert.Equal(t, 4, out.SuccessLines)
	assert.Equal(t, 4, out.ErrorLines)
	assert.NoFileExists(t, src)

	assert.Equal(t, filepath.Join(dir, "completed", "meters_ok.csv"), out.CompletedPath)
	assert.Equal(t, filepath.Join(dir, "errors", "meters_err.csv"), out.ErrorPath)
	assert.Equal(t, "sensor,value\na=1\nb=2\n#\nb=5\n", readFile(t, out.CompletedPath))
	assert.Equal(t, "sensor,value\na=oops\na=3;zzz=4\nmissing\nboom\n", readFile(t, out.ErrorPath))

	// a=3 sits on an error line but still routes.
	assert.Equal(t, []domain.Reading{
		{Timestamp: 100, SensorID: "a", Value: 1},
		{Timestamp: 100, SensorID: "a", Value: 3},
	}, q.readings("bmon1"))
	assert.Equal(t, []domain.Reading{
		{Timestamp: 100, SensorID: "b", Value: 2},
		{Timestamp: 100, SensorID: "b", Value: 5},
	}, q.readings("bmon2"))
}

func TestEngineHeaderOnlyFile(t *testing.T) {
	dir := t.TempDir()
	e, q, _ := newTestEngine(t, dir, domain.SourceSpec{}, kvParser{headerLines: 1})

	src := filepath.Join(dir, "empty.csv")
	writeFile(t, src, "sensor,value\n\n")

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, domain.FileDeleted, outcomes[0].State)
	assert.Empty(t, outcomes[0].CompletedPath)
	assert.Empty(t, outcomes[0].ErrorPath)
	assert.NoFileExists(t, filepath.Join(dir, "completed", "empty_ok.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "errors", "empty_err.csv"))
	assert.NoFileExists(t, src)
	assert.Empty(t, q.batches)
}

func TestEngineHeaderOnlyFileDryRun(t *testing.T) {
	dir := t.TempDir()
	e, _, _ := newTestEngine(t, dir, domain.SourceSpec{DryRun: true}, kvParser{headerLines: 1})

	src := filepath.Join(dir, "empty.csv")
	writeFile(t, src, "sensor,value\n")

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.FileRetained, outcomes[0].State)
	assert.FileExists(t, src)
}

func TestEngineFileLevelErrorKeepsFileAndContinues(t *testing.T) {
	dir := t.TempDir()
	e, _, obs := newTestEngine(t, dir, domain.SourceSpec{}, failingHeaderParser{})

	bad := filepath.Join(dir, "a.csv")
	writeFile(t, bad, "a=1\n")
	other := filepath.Join(dir, "b.csv")
	writeFile(t, other, "a=1\n")

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, out := range outcomes {
		assert.Error(t, out.Err)
		assert.Equal(t, domain.FileRetained, out.State)
		assert.FileExists(t, out.File)
	}
	assert.Equal(t, 2.0, obs.counters["filetobmon_files_failed_total"])
}

func TestEngineFlushesAcrossSmallFiles(t *testing.T) {
	dir := t.TempDir()
	e, q, _ := newTestEngine(t, dir, domain.SourceSpec{ChunkSize: 3}, kvParser{})

	writeFile(t, filepath.Join(dir, "1.csv"), "a=1\na=2\n")
	writeFile(t, filepath.Join(dir, "2.csv"), "a=3\na=4\n")

	ctx := context.Background()
	e.ProcessFile(ctx, filepath.Join(dir, "1.csv"))
	assert.Empty(t, q.batches)
	e.ProcessFile(ctx, filepath.Join(dir, "2.csv"))
	require.Len(t, q.batches, 1)
	assert.Len(t, q.batches[0].readings, 3)
	assert.Equal(t, 1, e.Buffer().Len("bmon1"))

	_, err := e.Run(ctx)
	require.NoError(t, err)
	require.Len(t, q.batches, 2)
	assert.Len(t, q.batches[1].readings, 1)
}

func TestEngineDryRunIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	spec := domain.SourceSpec{DryRun: true, Pattern: filepath.Join(dir, "*.csv")}
	src := filepath.Join(dir, "meters.csv")
	writeFile(t, src, "h\na=1\nb=2\n")

	var first string
	for i := 0; i < 2; i++ {
		e, q, _ := newTestEngine(t, dir, spec, kvParser{headerLines: 1})
		outcomes, err := e.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, domain.FileRetained, outcomes[0].State)
		assert.Empty(t, q.batches, "dry run never reaches the delivery queue")
		assert.FileExists(t, src)

		got := readFile(t, filepath.Join(dir, "debug", "bmon1.txt"))
		if i == 0 {
			first = got
			continue
		}
		assert.Equal(t, first, got)
	}
	assert.Equal(t, "(100, \"a\", 1)\n", first)
	assert.FileExists(t, filepath.Join(dir, "completed", "meters_ok.csv"))
}

func TestEnginePrepareAppliesRetention(t *testing.T) {
	dir := t.TempDir()
	completed := filepath.Join(dir, "completed")
	require.NoError(t, os.MkdirAll(completed, 0o755))
	stale := filepath.Join(completed, "stale_ok.csv")
	writeFile(t, stale, "x\n")
	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	_, _, obs := newTestEngine(t, dir, domain.SourceSpec{}, kvParser{})
	assert.NoFileExists(t, stale)
	assert.Equal(t, 1.0, obs.counters["filetobmon_retention_deleted_total"])
	assert.DirExists(t, filepath.Join(dir, "errors"))
	assert.DirExists(t, filepath.Join(dir, "debug"))
}

func TestEnginePrepareKeepsErrorArchives(t *testing.T) {
	dir := t.TempDir()
	errorsDir := filepath.Join(dir, "errors")
	require.NoError(t, os.MkdirAll(errorsDir, 0o755))
	failed := filepath.Join(errorsDir, "old_err.csv")
	writeFile(t, failed, "bad line\n")
	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(failed, old, old))

	_, _, obs := newTestEngine(t, dir, domain.SourceSpec{FileRetention: 3}, kvParser{})
	assert.FileExists(t, failed)
	assert.Zero(t, obs.counters["filetobmon_retention_deleted_total"])
}

func TestEnginePrepareFractionalRetention(t *testing.T) {
	dir := t.TempDir()
	completed := filepath.Join(dir, "completed")
	require.NoError(t, os.MkdirAll(completed, 0o755))
	stale := filepath.Join(completed, "stale_ok.csv")
	fresh := filepath.Join(completed, "fresh_ok.csv")
	writeFile(t, stale, "x\n")
	writeFile(t, fresh, "x\n")
	now := time.Now()
	require.NoError(t, os.Chtimes(stale, now.Add(-13*time.Hour), now.Add(-13*time.Hour)))
	require.NoError(t, os.Chtimes(fresh, now.Add(-6*time.Hour), now.Add(-6*time.Hour)))

	newTestEngine(t, dir, domain.SourceSpec{FileRetention: 0.5}, kvParser{})
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestEngineDryRunIgnoresSharedBuffer(t *testing.T) {
	dir := t.TempDir()
	spec := domain.SourceSpec{DryRun: true, Pattern: filepath.Join(dir, "*.csv"), ChunkSize: 1}
	writeFile(t, filepath.Join(dir, "meters.csv"), "a=1\nb=2\n")
	router, err := NewRouter(domain.RoutingTable{
		Targets: map[string]domain.DestinationID{"a": "bmon1", "b": "bmon2"},
	}, []domain.DestinationID{"bmon1", "bmon2"})
	require.NoError(t, err)

	live := &recordingQueue{}
	shared := NewReadingBuffer(live)
	e := NewEngine(spec, kvParser{}, router, live, &mockObs{}, WithBuffer(shared))
	require.NoError(t, e.Prepare())

	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live.batches, "dry run never reaches the delivery queue")
	assert.NotSame(t, shared, e.Buffer())
	assert.Equal(t, "(100, \"a\", 1)\n", readFile(t, filepath.Join(dir, "debug", "bmon1.txt")))
	assert.Equal(t, "(100, \"b\", 2)\n", readFile(t, filepath.Join(dir, "debug", "bmon2.txt")))
}

func TestEngineDryRunSkipsRetention(t *testing.T) {
	dir := t.TempDir()
	completed := filepath.Join(dir, "completed")
	require.NoError(t, os.MkdirAll(completed, 0o755))
	stale := filepath.Join(completed, "stale_ok.csv")
	writeFile(t, stale, "x\n")
	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	newTestEngine(t, dir, domain.SourceSpec{DryRun: true}, kvParser{})
	assert.FileExists(t, stale)
}

func TestNewEngineHasNoSideEffects(t *testing.T) {
	dir := t.TempDir()
	spec := domain.SourceSpec{Pattern: filepath.Join(dir, "*.csv"), DryRun: true}
	router, err := NewRouter(domain.RoutingTable{}, nil)
	require.NoError(t, err)

	NewEngine(spec, kvParser{}, router, &recordingQueue{}, &mockObs{})
	assert.NoDirExists(t, filepath.Join(dir, "completed"))
	assert.NoDirExists(t, filepath.Join(dir, "debug"))
}

func TestEngineCEAScenario(t *testing.T) {
	dir := t.TempDir()
	parser, err := parsers.New("cea", parsers.Options{Location: time.UTC})
	require.NoError(t, err)
	router, err := NewRouter(domain.RoutingTable{Default: "bmon1"}, []domain.DestinationID{"bmon1"})
	require.NoError(t, err)

	q := &recordingQueue{}
	spec := domain.SourceSpec{Pattern: filepath.Join(dir, "*.csv"), ChunkSize: 300, FileRetention: 3}
	e := NewEngine(spec, parser, router, q, &mockObs{})
	require.NoError(t, e.Prepare())

	writeFile(t, filepath.Join(dir, "cea.csv"), "MTR01,2020-01-01 00:00:00,4.0\nMTR01,2020-01-01 00:15:00\n")

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcomes[0].SuccessLines)
	assert.Equal(t, 1, outcomes[0].ErrorLines)
	assert.Equal(t, "MTR01,2020-01-01 00:15:00\n", readFile(t, outcomes[0].ErrorPath))

	ts := time.Date(2020, 1, 1, 0, 7, 30, 0, time.UTC).Unix()
	assert.Equal(t, []domain.Reading{{Timestamp: ts, SensorID: "MTR01", Value: 16}}, q.readings("bmon1"))
}

func TestEngineStopsOnCancelledContext(t *testing.T) {
	dir := t.TempDir()
	e, _, _ := newTestEngine(t, dir, domain.SourceSpec{}, kvParser{})
	src := filepath.Join(dir, "x.csv")
	writeFile(t, src, "a=1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := e.ProcessFile(ctx, src)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, domain.FileRetained, out.State)
	assert.FileExists(t, src)
	assert.NoFileExists(t, filepath.Join(dir, "completed", "x_ok.csv"))
}
