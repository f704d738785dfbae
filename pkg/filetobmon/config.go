package filetobmon

import (
	"github.com/alanmitchell/file-to-bmon/internal/app/config"
	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Destination configures one delivery target.
	Destination = config.Destination
	// RoutingConfig points at the sensor to destination table.
	RoutingConfig = config.RoutingConfig
	// DeliveryConfig sets the WAL directory, queue policy and retry schedule.
	DeliveryConfig = config.DeliveryConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// SourceSpec describes one watched directory.
	SourceSpec = domain.SourceSpec
	// Policy controls WAL/queue thresholds.
	Policy = ports.Policy
	// Retry controls delivery backoff.
	Retry = ports.Retry
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
