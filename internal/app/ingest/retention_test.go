package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupRetentionIdempotent(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	old := filepath.Join(dir, "old_ok.csv")
	young := filepath.Join(dir, "young_ok.csv")
	require.NoError(t, os.WriteFile(old, []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(young, []byte("x\n"), 0o644))
	require.NoError(t, os.Chtimes(old, now.Add(-96*time.Hour), now.Add(-96*time.Hour)))
	require.NoError(t, os.Chtimes(young, now.Add(-47*time.Hour), now.Add(-47*time.Hour)))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	removed, err := CleanupRetention(dir, 72*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, removed)
	assert.FileExists(t, young)

	removed, err = CleanupRetention(dir, 72*time.Hour, now)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.FileExists(t, young)
	assert.DirExists(t, filepath.Join(dir, "nested"))
}

func TestCleanupRetentionMissingDir(t *testing.T) {
	removed, err := CleanupRetention(filepath.Join(t.TempDir(), "absent"), time.Hour, time.Now())
	assert.NoError(t, err)
	assert.Empty(t, removed)
}
