package parsers

import (
	"strings"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// gveaParser reads Golden Valley Electric interval files (after xlsx to csv
// conversion): meter,account,YYYY-MM-DD HH:MM:SS,kWh with one header line.
type gveaParser struct {
	oneHeader
	loc  *time.Location
	opts intervalOptions
}

func newGVEA(opts Options) (ports.LineParser, error) {
	p := gveaParser{loc: opts.Location}
	if err := decodeOptions(opts.Raw, &p.opts); err != nil {
		return nil, err
	}
	if err := p.opts.applyDefaults(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p gveaParser) ParseLine(line string) ([]domain.Reading, error) {
	f, err := fields(line, 4)
	if err != nil {
		return nil, err
	}
	kwh, err := parseFloat("kwh", f[3])
	if err != nil {
		return nil, err
	}
	ts, err := localEpoch(f[2], intervalLayout, p.loc)
	if err != nil {
		return nil, err
	}
	ts += p.opts.halfInterval()
	return []domain.Reading{{
		Timestamp: int64(ts),
		SensorID:  "gvea_" + strings.TrimSpace(f[0]),
		Value:     kwh * p.opts.kwMultiplier(),
	}}, nil
}
