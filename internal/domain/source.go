package domain

import (
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceSpec describes one watched directory and how its files are read.
type SourceSpec struct {
	Pattern            string        `yaml:"pattern"`
	Format             string        `yaml:"format"`
	ChunkSize          int           `yaml:"chunk_size"`
	TimeZone           string        `yaml:"time_zone"`
	FileRetention      float64       `yaml:"file_retention"`
	DryRun             bool          `yaml:"dry_run"`
	DefaultDestination DestinationID `yaml:"default_destination"`
	// Options holds the format-specific settings; decoded by the parser registry.
	Options yaml.Node `yaml:"options"`
}

// Dir is the directory holding the source files and its archive subdirectories.
func (s SourceSpec) Dir() string { return filepath.Dir(s.Pattern) }

func (s SourceSpec) CompletedDir() string { return filepath.Join(s.Dir(), "completed") }
func (s SourceSpec) ErrorsDir() string    { return filepath.Join(s.Dir(), "errors") }
func (s SourceSpec) DebugDir() string     { return filepath.Join(s.Dir(), "debug") }

// Retention converts FileRetention days, possibly fractional, into a duration.
func (s SourceSpec) Retention() time.Duration {
	return time.Duration(s.FileRetention * float64(24*time.Hour))
}
