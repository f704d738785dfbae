package parsers

import (
	"strings"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

type csvOptions struct {
	SensorPrefix string `yaml:"sensor_prefix"`
}

// csvParser reads the generic epoch,sensor_id,value layout with a single
// header line.
type csvParser struct {
	oneHeader
	opts csvOptions
}

func newCSV(opts Options) (ports.LineParser, error) {
	var p csvParser
	if err := decodeOptions(opts.Raw, &p.opts); err != nil {
		return nil, err
	}
	return p, nil
}

func (p csvParser) ParseLine(line string) ([]domain.Reading, error) {
	f, err := fields(line, 3)
	if err != nil {
		return nil, err
	}
	ts, err := parseFloat("timestamp", f[0])
	if err != nil {
		return nil, err
	}
	val, err := parseFloat("value", f[2])
	if err != nil {
		return nil, err
	}
	return []domain.Reading{{
		Timestamp: int64(ts),
		SensorID:  p.opts.SensorPrefix + strings.TrimSpace(f[1]),
		Value:     val,
	}}, nil
}
