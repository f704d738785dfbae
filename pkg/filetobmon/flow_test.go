package filetobmon

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type staticSource map[string]DestinationID

func (s staticSource) Load(context.Context) (RoutingTable, error) {
	return RoutingTable{Targets: map[string]DestinationID(s)}, nil
}

func TestConfFromConfigRequiresConfig(t *testing.T) {
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	var f *Flow
	if f.Config() != nil || f.StreamIN() != nil {
		t.Fatalf("nil flow should stay nil")
	}
	if _, err := f.StreamOUT(); err == nil {
		t.Fatalf("expected error from nil flow")
	}
}

func TestFlowRunUsesStreamOptions(t *testing.T) {
	dir, _ := setup(t, false)

	flow, err := Conf(filepath.Join(dir, "config.yaml"),
		WithFlowOptions(WithRegistry(prometheus.NewRegistry())))
	if err != nil {
		t.Fatalf("Conf returned error: %v", err)
	}

	var (
		mu  sync.Mutex
		got = map[DestinationID][]Reading{}
	)
	collect := func(dest DestinationID) ReadingBatchSink {
		return func(_ context.Context, readings []Reading) error {
			mu.Lock()
			defer mu.Unlock()
			got[dest] = append(got[dest], readings...)
			return nil
		}
	}

	// MTR03 routes here but MTR02 no longer does.
	flow.StreamIN(StreamInRouting(staticSource{"MTR01": "bmon1", "MTR03": "bmon2"}))
	err = flow.Run(runCtx(t), 0,
		StreamOutCallback("bmon1", collect("bmon1")),
		StreamOutCallback("bmon2", collect("bmon2")),
	)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got["bmon1"]) != 1 || got["bmon1"][0].SensorID != "MTR01" {
		t.Fatalf("unexpected bmon1 readings: %v", got["bmon1"])
	}
	if len(got["bmon2"]) != 1 || got["bmon2"][0].SensorID != "MTR03" {
		t.Fatalf("unexpected bmon2 readings: %v", got["bmon2"])
	}
}
