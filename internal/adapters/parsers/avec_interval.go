package parsers

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// Layouts accepted for avec_interval timestamps, tried in order.
var avecIntervalLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// avecIntervalParser reads AVEC interval data that keeps the delivered and
// received channels side by side:
//
//	serial,multiplier,interval_min,ts,dir,raw[,ts,dir,raw...]
//
// Each raw value is kWh for the interval starting at ts. Delivered (D) counts
// positive and received (R) negative; channels sharing a timestamp are
// summed into one net kW reading placed at the interval midpoint.
type avecIntervalParser struct {
	noHeader
	loc *time.Location
}

func newAvecInterval(opts Options) (ports.LineParser, error) {
	if err := decodeOptions(opts.Raw, &struct{}{}); err != nil {
		return nil, err
	}
	return avecIntervalParser{loc: opts.Location}, nil
}

type meterInstant struct {
	meter string
	ts    int64
}

func (p avecIntervalParser) ParseLine(line string) ([]domain.Reading, error) {
	f, err := fields(line, 3)
	if err != nil {
		return nil, err
	}
	if (len(f)-3)%3 != 0 {
		return nil, malformed("interval groups must be ts,dir,value triples")
	}
	serial := strings.TrimSpace(f[0])
	mult, err := parseFloat("multiplier", f[1])
	if err != nil {
		return nil, err
	}
	interval, err := parseFloat("interval", f[2])
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, malformed("interval %v must be > 0", interval)
	}
	kwMult := 60 / interval

	parts := make(map[meterInstant][]float64)
	for i := 3; i < len(f); i += 3 {
		start, err := p.timestamp(f[i])
		if err != nil {
			return nil, err
		}
		sign, err := direction(f[i+1])
		if err != nil {
			return nil, err
		}
		raw, err := parseFloat("raw", f[i+2])
		if err != nil {
			return nil, err
		}
		key := meterInstant{meter: serial, ts: int64(start + interval*60/2)}
		parts[key] = append(parts[key], sign*raw*mult*kwMult)
	}

	out := make([]domain.Reading, 0, len(parts))
	for key, vals := range parts {
		out = append(out, domain.Reading{
			Timestamp: key.ts,
			SensorID:  "avec_" + key.meter,
			Value:     netSum(vals),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (p avecIntervalParser) timestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range avecIntervalLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return float64(t.Unix()), nil
		}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	return 0, malformed("timestamp %q matches no known layout", s)
}

func direction(s string) (float64, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "D", "DELIVERED", "FORWARD":
		return 1, nil
	case "R", "RECEIVED", "REVERSE":
		return -1, nil
	}
	return 0, malformed("direction %q", s)
}

// netSum adds the channel values in sorted order so the result does not
// depend on the column order in the file.
func netSum(vals []float64) float64 {
	sort.Float64s(vals)
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum
}
