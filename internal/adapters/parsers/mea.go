package parsers

import (
	"strings"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// meaParser reads Matanuska Electric files written by the BMON export
// script: sensor_id,epoch,value with one header line.
type meaParser struct {
	oneHeader
}

func newMEA(opts Options) (ports.LineParser, error) {
	if err := decodeOptions(opts.Raw, &struct{}{}); err != nil {
		return nil, err
	}
	return meaParser{}, nil
}

func (meaParser) ParseLine(line string) ([]domain.Reading, error) {
	f, err := fields(line, 3)
	if err != nil {
		return nil, err
	}
	ts, err := parseFloat("timestamp", f[1])
	if err != nil {
		return nil, err
	}
	val, err := parseFloat("value", f[2])
	if err != nil {
		return nil, err
	}
	return []domain.Reading{{
		Timestamp: int64(ts),
		SensorID:  strings.TrimSpace(f[0]),
		Value:     val,
	}}, nil
}
