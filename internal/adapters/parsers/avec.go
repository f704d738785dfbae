package parsers

import (
	"strings"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// avecParser reads CSV files produced by the AVEC XML converter:
// serial,epoch,kW with no header.
type avecParser struct {
	noHeader
}

func newAvec(opts Options) (ports.LineParser, error) {
	if err := decodeOptions(opts.Raw, &struct{}{}); err != nil {
		return nil, err
	}
	return avecParser{}, nil
}

func (avecParser) ParseLine(line string) ([]domain.Reading, error) {
	f := strings.Split(line, ",")
	if len(f) != 3 {
		return nil, malformed("expected 3 fields, got %d", len(f))
	}
	ts, err := parseFloat("timestamp", f[1])
	if err != nil {
		return nil, err
	}
	kw, err := parseFloat("kw", f[2])
	if err != nil {
		return nil, err
	}
	return []domain.Reading{{
		Timestamp: int64(ts),
		SensorID:  "avec_" + strings.TrimSpace(f[0]),
		Value:     kw,
	}}, nil
}
