package ports

import "time"

type Policy struct {
	MaxWALSizeBytes int64         `yaml:"max_wal_size_bytes"`
	MaxQueueLen     int           `yaml:"max_queue_len"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`

	OnWALFull string `yaml:"on_wal_full"` // "block", "drop"
}

// Retry controls how a poster resubmits a failed batch.
type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}
