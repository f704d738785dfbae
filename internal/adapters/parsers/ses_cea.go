package parsers

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// sesCEAParser reads Seward Electric data delivered by Chugach:
// meter,MMDDYY,HHMM,_,kW,... with one header line. The date and time columns
// drop leading zeros, hour 24 means midnight of the following day, and the
// timestamp marks the end of the interval so it is moved back to the middle.
// kW may be quoted and carry thousands separators.
type sesCEAParser struct {
	oneHeader
	loc  *time.Location
	opts intervalOptions
}

func newSESCEA(opts Options) (ports.LineParser, error) {
	p := sesCEAParser{loc: opts.Location}
	if err := decodeOptions(opts.Raw, &p.opts); err != nil {
		return nil, err
	}
	if err := p.opts.applyDefaults(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p sesCEAParser) ParseLine(line string) ([]domain.Reading, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	f, err := r.Read()
	if err != nil {
		return nil, malformed("split: %v", err)
	}
	if len(f) < 5 {
		return nil, malformed("expected at least 5 fields, got %d", len(f))
	}

	meter := strings.ToLower(strings.TrimSpace(f[0]))
	dt := strings.TrimSpace(f[1])
	tm := strings.TrimSpace(f[2])

	mo, err := strconv.Atoi(tail(dt, 6, 4))
	if err != nil {
		return nil, malformed("month in %q: %v", dt, err)
	}
	yr := tail(dt, 2, 0)
	da := tail(dt, 4, 2)

	minute, err := strconv.Atoi(tail(tm, 2, 0))
	if err != nil {
		return nil, malformed("minute in %q: %v", tm, err)
	}
	hrStr := tail(tm, 4, 2)
	if hrStr == "" {
		hrStr = "0"
	}
	addDay := false
	if hrStr == "24" {
		addDay = true
		hrStr = "0"
	}
	hr, err := strconv.Atoi(hrStr)
	if err != nil {
		return nil, malformed("hour in %q: %v", tm, err)
	}

	stamp := fmt.Sprintf("20%s-%02d-%s %02d:%02d", yr, mo, da, hr, minute)
	ts, err := localEpoch(stamp, "2006-01-02 15:04", p.loc)
	if err != nil {
		return nil, err
	}
	if addDay {
		ts += 24 * 3600
	}
	ts -= p.opts.halfInterval()

	kwStr := strings.NewReplacer(`"`, "", ",", "").Replace(f[4])
	kw, err := parseFloat("kw", kwStr)
	if err != nil {
		return nil, err
	}
	return []domain.Reading{{
		Timestamp: int64(ts),
		SensorID:  "ses_" + meter,
		Value:     kw,
	}}, nil
}

// tail returns s[len-from : len-to], clipped to the string bounds. It is
// used to pick date and time parts that are right aligned.
func tail(s string, from, to int) string {
	start := len(s) - from
	end := len(s) - to
	if start < 0 {
		start = 0
	}
	if end < start {
		return ""
	}
	return s[start:end]
}
