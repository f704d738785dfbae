package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alanmitchell/file-to-bmon/internal/adapters/archive"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/parsers"
	"github.com/alanmitchell/file-to-bmon/internal/app/logging"
	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

const (
	KindBMON      = "bmon"
	KindTimescale = "timescale"
	KindRedis     = "redis"
	KindNATS      = "nats"
)

type Config struct {
	Logging            logging.Config                       `yaml:"logging"`
	Metrics            MetricsConfig                        `yaml:"metrics"`
	Routing            RoutingConfig                        `yaml:"routing"`
	DefaultDestination domain.DestinationID                 `yaml:"default_destination"`
	Destinations       map[domain.DestinationID]Destination `yaml:"destinations"`
	Delivery           DeliveryConfig                       `yaml:"delivery"`
	Archive            ArchiveConfig                        `yaml:"archive"`
	ConcurrentSources  bool                                 `yaml:"concurrent_sources"`
	FileSources        []domain.SourceSpec                  `yaml:"file_sources"`

	// Older flat keys, folded into the sections above.
	LoggingLevel     string                               `yaml:"logging_level"`
	SensorToBMONFile string                               `yaml:"sensor_to_bmon_file"`
	BMONServers      map[domain.DestinationID]Destination `yaml:"bmon_servers"`

	// BaseDir is the directory of the config file; relative paths resolve against it.
	BaseDir string `yaml:"-"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// RoutingConfig names either a .csv/.sqlite file or a database.
type RoutingConfig struct {
	File   string `yaml:"file"`
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Query  string `yaml:"query"`
}

type Destination struct {
	Kind    string        `yaml:"kind"`
	Timeout time.Duration `yaml:"timeout"`

	// bmon
	URL      string `yaml:"url"`
	StoreKey string `yaml:"store_key"`
	// timescale
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
	// redis
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
	// nats
	Subject string `yaml:"subject"`
}

type DeliveryConfig struct {
	Dir    string       `yaml:"dir"`
	Policy ports.Policy `yaml:"policy"`
	Retry  ports.Retry  `yaml:"retry"`
}

type ArchiveConfig struct {
	S3 *archive.S3Config `yaml:"s3"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads path after loading an optional .env beside it. ${VAR}
// references anywhere in the document are replaced from the environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(filepath.Join(base, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	expanded := envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(m)[1])))
	})

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, err
	}
	cfg.BaseDir = base

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = c.LoggingLevel
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File == "" {
		c.Logging.File = "log/file_to_bmon.log"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 1
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	c.Logging.File = c.resolve(c.Logging.File)

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	if c.Routing.File == "" {
		c.Routing.File = c.SensorToBMONFile
	}
	c.Routing.File = c.resolve(c.Routing.File)

	if c.Destinations == nil {
		c.Destinations = map[domain.DestinationID]Destination{}
	}
	for id, d := range c.BMONServers {
		if _, ok := c.Destinations[id]; !ok {
			d.Kind = KindBMON
			c.Destinations[id] = d
		}
	}
	for id, d := range c.Destinations {
		if d.Kind == "" {
			d.Kind = KindBMON
		}
		if d.Timeout == 0 {
			d.Timeout = 30 * time.Second
		}
		if d.Kind == KindRedis && d.Stream == "" {
			d.Stream = "readings:" + string(id)
		}
		if d.Kind == KindNATS && d.Subject == "" {
			d.Subject = "bmon.readings." + string(id)
		}
		c.Destinations[id] = d
	}

	if c.Delivery.Dir == "" {
		c.Delivery.Dir = "posters"
	}
	c.Delivery.Dir = c.resolve(c.Delivery.Dir)
	if c.Delivery.Policy.MaxQueueLen == 0 {
		c.Delivery.Policy.MaxQueueLen = 1_000
	}
	if c.Delivery.Policy.IdleSleep == 0 {
		c.Delivery.Policy.IdleSleep = 200 * time.Millisecond
	}
	if c.Delivery.Policy.OnWALFull == "" {
		c.Delivery.Policy.OnWALFull = "block"
	}
	if c.Delivery.Retry.MaxAttempts == 0 {
		c.Delivery.Retry.MaxAttempts = 5
	}
	if c.Delivery.Retry.InitialDelay == 0 {
		c.Delivery.Retry.InitialDelay = time.Second
	}
	if c.Delivery.Retry.MaxDelay == 0 {
		c.Delivery.Retry.MaxDelay = time.Minute
	}
	if c.Delivery.Retry.Multiplier == 0 {
		c.Delivery.Retry.Multiplier = 2
	}

	for i := range c.FileSources {
		s := &c.FileSources[i]
		s.Pattern = c.resolve(s.Pattern)
		if s.ChunkSize == 0 {
			s.ChunkSize = 300
		}
		if s.TimeZone == "" {
			s.TimeZone = "US/Alaska"
		}
		if s.FileRetention == 0 {
			s.FileRetention = 3
		}
	}
}

func (c *Config) validate() error {
	if len(c.Destinations) == 0 {
		return fmt.Errorf("destinations: at least one destination is required")
	}
	for id, d := range c.Destinations {
		if err := d.validate(); err != nil {
			return fmt.Errorf("destinations.%s: %w", id, err)
		}
	}
	if c.DefaultDestination != "" {
		if _, ok := c.Destinations[c.DefaultDestination]; !ok {
			return fmt.Errorf("default_destination %q is not a configured destination", c.DefaultDestination)
		}
	}

	switch {
	case c.Routing.File != "" && c.Routing.DSN != "":
		return fmt.Errorf("routing: set either file or dsn, not both")
	case c.Routing.DSN != "" && c.Routing.Driver == "":
		return fmt.Errorf("routing.driver is required with routing.dsn")
	case c.Routing.File == "" && c.Routing.DSN == "" && c.DefaultDestination == "":
		return fmt.Errorf("routing: a routing file, dsn or default_destination is required")
	}

	switch c.Delivery.Policy.OnWALFull {
	case "block", "drop":
	default:
		return fmt.Errorf("delivery.policy.on_wal_full: unknown policy %q", c.Delivery.Policy.OnWALFull)
	}

	if c.Archive.S3 != nil && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required")
	}

	if len(c.FileSources) == 0 {
		return fmt.Errorf("file_sources: at least one source is required")
	}
	known := make(map[string]bool)
	for _, n := range parsers.Names() {
		known[n] = true
	}
	for i, s := range c.FileSources {
		if s.Pattern == "" {
			return fmt.Errorf("file_sources[%d].pattern is required", i)
		}
		if !known[s.Format] {
			return fmt.Errorf("file_sources[%d]: %w: %q", i, parsers.ErrUnknownFormat, s.Format)
		}
		if _, err := time.LoadLocation(s.TimeZone); err != nil {
			return fmt.Errorf("file_sources[%d].time_zone: %w", i, err)
		}
		if s.FileRetention < 0 {
			return fmt.Errorf("file_sources[%d].file_retention must not be negative", i)
		}
		if s.ChunkSize < 1 {
			return fmt.Errorf("file_sources[%d].chunk_size must be positive", i)
		}
		if s.DefaultDestination != "" {
			if _, ok := c.Destinations[s.DefaultDestination]; !ok {
				return fmt.Errorf("file_sources[%d].default_destination %q is not a configured destination", i, s.DefaultDestination)
			}
		}
	}
	return nil
}

func (d Destination) validate() error {
	switch d.Kind {
	case KindBMON:
		if d.URL == "" {
			return fmt.Errorf("url is required")
		}
		if d.StoreKey == "" {
			return fmt.Errorf("store_key is required")
		}
	case KindTimescale:
		if d.DSN == "" {
			return fmt.Errorf("dsn is required")
		}
	case KindRedis:
		if d.Addr == "" {
			return fmt.Errorf("addr is required")
		}
	case KindNATS:
		if d.URL == "" {
			return fmt.Errorf("url is required")
		}
	default:
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
	return nil
}

// DestinationIDs lists the configured destinations.
func (c *Config) DestinationIDs() []domain.DestinationID {
	out := make([]domain.DestinationID, 0, len(c.Destinations))
	for id := range c.Destinations {
		out = append(out, id)
	}
	return out
}
