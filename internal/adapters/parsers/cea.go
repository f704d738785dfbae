package parsers

import (
	"strings"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

const intervalLayout = "2006-01-02 15:04:05"

// ceaParser reads Chugach Electric interval exports:
// meter,YYYY-MM-DD HH:MM:SS,kWh with no header. Timestamps mark the start of
// the interval and are moved forward to its midpoint.
type ceaParser struct {
	noHeader
	loc  *time.Location
	opts intervalOptions
}

func newCEA(opts Options) (ports.LineParser, error) {
	p := ceaParser{loc: opts.Location}
	if err := decodeOptions(opts.Raw, &p.opts); err != nil {
		return nil, err
	}
	if err := p.opts.applyDefaults(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p ceaParser) ParseLine(line string) ([]domain.Reading, error) {
	f, err := fields(line, 3)
	if err != nil {
		return nil, err
	}
	kwh, err := parseFloat("kwh", f[2])
	if err != nil {
		return nil, err
	}
	ts, err := localEpoch(f[1], intervalLayout, p.loc)
	if err != nil {
		return nil, err
	}
	ts += p.opts.halfInterval()
	return []domain.Reading{{
		Timestamp: int64(ts),
		SensorID:  strings.TrimSpace(f[0]),
		Value:     kwh * p.opts.kwMultiplier(),
	}}, nil
}
