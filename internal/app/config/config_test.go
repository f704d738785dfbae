package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
)

func writeConfig(t *testing.T, dir, data string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
routing:
  file: sensor_to_bmon.csv
destinations:
  bmon1:
    url: https://bmon.example.com/readingdb/reading/store/
    store_key: abc
file_sources:
  - pattern: cea/*.csv
    format: cea
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	src := cfg.FileSources[0]
	if src.ChunkSize != 300 || src.TimeZone != "US/Alaska" || src.FileRetention != 3 {
		t.Fatalf("unexpected source defaults: %+v", src)
	}
	if src.Pattern != filepath.Join(cfg.BaseDir, "cea", "*.csv") {
		t.Fatalf("expected pattern resolved against config dir, got %s", src.Pattern)
	}
	if cfg.Routing.File != filepath.Join(cfg.BaseDir, "sensor_to_bmon.csv") {
		t.Fatalf("unexpected routing file %s", cfg.Routing.File)
	}
	if cfg.Destinations["bmon1"].Kind != KindBMON {
		t.Fatalf("expected kind default bmon, got %q", cfg.Destinations["bmon1"].Kind)
	}
	if cfg.Delivery.Dir != filepath.Join(cfg.BaseDir, "posters") {
		t.Fatalf("unexpected delivery dir %s", cfg.Delivery.Dir)
	}
	if cfg.Delivery.Policy.IdleSleep != 200*time.Millisecond {
		t.Fatalf("expected IdleSleep default 200ms, got %s", cfg.Delivery.Policy.IdleSleep)
	}
	if cfg.Delivery.Retry.MaxAttempts != 5 || cfg.Delivery.Retry.Multiplier != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Delivery.Retry)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.Logging.File != filepath.Join(cfg.BaseDir, "log", "file_to_bmon.log") {
		t.Fatalf("unexpected log file %s", cfg.Logging.File)
	}
}

func TestLoadLegacyKeysAndEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FTB_TEST_STORE_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("FTB_TEST_STORE_KEY") })

	path := writeConfig(t, dir, `
logging_level: DEBUG
sensor_to_bmon_file: /etc/bmon/routing.sqlite
bmon_servers:
  ahfc:
    url: https://ahfc.bmon.org/readingdb/reading/store/
    store_key: ${FTB_TEST_STORE_KEY}
file_sources:
  - pattern: /data/gvea/*.csv
    format: gvea
    time_zone: America/Anchorage
    dry_run: true
    options:
      interval_minutes: 15
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("expected legacy logging level, got %q", cfg.Logging.Level)
	}
	if cfg.Routing.File != "/etc/bmon/routing.sqlite" {
		t.Fatalf("expected legacy routing file, got %q", cfg.Routing.File)
	}
	d, ok := cfg.Destinations["ahfc"]
	if !ok || d.Kind != KindBMON || d.StoreKey != "from-dotenv" {
		t.Fatalf("unexpected legacy destination: %+v", d)
	}
	if !cfg.FileSources[0].DryRun || cfg.FileSources[0].Options.Kind == 0 {
		t.Fatalf("expected dry run and options to be decoded: %+v", cfg.FileSources[0])
	}
}

func TestLoadFractionalRetention(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
default_destination: bmon1
destinations:
  bmon1: {url: "http://x", store_key: k}
file_sources:
  - pattern: cea/*.csv
    format: cea
    file_retention: 0.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.FileSources[0].Retention(); got != 12*time.Hour {
		t.Fatalf("expected 12h retention, got %s", got)
	}
}

func TestLoadValidation(t *testing.T) {
	base := `
routing:
  file: r.csv
destinations:
  bmon1: {url: "http://x", store_key: k}
  cache: {kind: redis, addr: "localhost:6379"}
`
	tests := []struct {
		name string
		data string
		want string
	}{
		{"no sources", base, "file_sources"},
		{"unknown format", base + "file_sources: [{pattern: a/*.csv, format: xlsx}]", "unknown format"},
		{"bad time zone", base + "file_sources: [{pattern: a/*.csv, format: cea, time_zone: Mars/Olympus}]", "time_zone"},
		{"unknown source default", base + "file_sources: [{pattern: a/*.csv, format: cea, default_destination: nope}]", "not a configured destination"},
		{"unknown global default", base + "default_destination: nope\nfile_sources: [{pattern: a/*.csv, format: cea}]", "default_destination"},
		{"bmon without key", "destinations: {b: {url: 'http://x'}}\ndefault_destination: b\nfile_sources: [{pattern: a/*.csv, format: cea}]", "store_key"},
		{"unknown kind", "destinations: {b: {kind: kafka}}\ndefault_destination: b\nfile_sources: [{pattern: a/*.csv, format: cea}]", "unknown kind"},
		{"no routing", "destinations: {b: {url: 'http://x', store_key: k}}\nfile_sources: [{pattern: a/*.csv, format: cea}]", "routing"},
		{"negative retention", base + "file_sources: [{pattern: a/*.csv, format: cea, file_retention: -1}]", "file_retention"},
		{"dsn without driver", "routing: {dsn: x}\ndestinations: {b: {url: 'http://x', store_key: k}}\nfile_sources: [{pattern: a/*.csv, format: cea}]", "routing.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDestinationDefaultsPerKind(t *testing.T) {
	cfg := &Config{
		Destinations: map[domain.DestinationID]Destination{
			"r": {Kind: KindRedis, Addr: "x"},
			"n": {Kind: KindNATS, URL: "nats://x"},
		},
	}
	cfg.applyDefaults()
	if cfg.Destinations["r"].Stream != "readings:r" {
		t.Fatalf("unexpected redis stream %q", cfg.Destinations["r"].Stream)
	}
	if cfg.Destinations["n"].Subject != "bmon.readings.n" {
		t.Fatalf("unexpected nats subject %q", cfg.Destinations["n"].Subject)
	}
	if cfg.Destinations["n"].Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Destinations["n"].Timeout)
	}
}
