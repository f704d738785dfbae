package ingest

import (
	"errors"
	"fmt"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
)

var (
	// ErrUnroutable marks a reading whose sensor resolves to no destination.
	ErrUnroutable = errors.New("ingest: no destination for sensor")
	// ErrUnknownDestination is returned when the default destination is not configured.
	ErrUnknownDestination = errors.New("ingest: unknown destination")
)

// Router resolves sensor ids against a read-only routing table.
type Router struct {
	targets map[string]domain.DestinationID
	def     domain.DestinationID
	known   map[domain.DestinationID]struct{}
}

// NewRouter builds a Router. When known is non-empty, lookups that resolve to
// a destination outside it are treated as unroutable and a default outside it
// is rejected.
func NewRouter(table domain.RoutingTable, known []domain.DestinationID) (*Router, error) {
	r := &Router{targets: table.Targets, def: table.Default}
	if r.targets == nil {
		r.targets = map[string]domain.DestinationID{}
	}
	if len(known) > 0 {
		r.known = make(map[domain.DestinationID]struct{}, len(known))
		for _, d := range known {
			r.known[d] = struct{}{}
		}
		if r.def != "" && !r.isKnown(r.def) {
			return nil, fmt.Errorf("%w: default %q", ErrUnknownDestination, r.def)
		}
	}
	return r, nil
}

// Route returns the destination for sensorID, or false when it is unroutable.
func (r *Router) Route(sensorID string) (domain.DestinationID, bool) {
	dest, ok := r.targets[sensorID]
	if !ok {
		dest = r.def
	}
	if dest == "" || !r.isKnown(dest) {
		return "", false
	}
	return dest, true
}

func (r *Router) isKnown(d domain.DestinationID) bool {
	if r.known == nil {
		return true
	}
	_, ok := r.known[d]
	return ok
}
