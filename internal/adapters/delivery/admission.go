package delivery

import (
	"fmt"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// waitForWALCapacity applies the WAL-full policy before a batch is appended.
func waitForWALCapacity(wal ports.WAL, pol ports.Policy, obs ports.Observability) bool {
	if pol.MaxWALSizeBytes <= 0 {
		return true
	}
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = 5 * time.Millisecond
	}

	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return true
		}

		switch pol.OnWALFull {
		case "block":
			time.Sleep(sleep)
		case "drop":
			obs.LogError("wal_full_drop", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, pol.MaxWALSizeBytes))
			return false
		default:
			obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", pol.OnWALFull))
			return false
		}
	}
}

// backoff returns the pause before retry number attempt (1-based).
func backoff(r ports.Retry, attempt int) time.Duration {
	d := r.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * r.Multiplier)
		if d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}
