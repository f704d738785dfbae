// Package avecxml converts AVEC interval XML exports into the three column
// CSV files read by the avec format.
package avecxml

import (
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

const (
	timeLayout   = "2006-01-02 15:04:05"
	CompletedDir = "xml-completed"
)

type document struct {
	Meters []meterReadings `xml:"MeterReadings"`
}

type meterReadings struct {
	Meter struct {
		SerialNumber   string `xml:"SerialNumber,attr"`
		TimeZoneOffset string `xml:"TimeZoneOffset,attr"`
	} `xml:"Meter"`
	Intervals []struct {
		Spec struct {
			Interval  string `xml:"Interval,attr"`
			Direction string `xml:"Direction,attr"`
		} `xml:"IntervalSpec"`
		Readings []struct {
			TimeStamp  string `xml:"TimeStamp,attr"`
			RawReading string `xml:"RawReading,attr"`
		} `xml:"Reading"`
	} `xml:"IntervalData"`
}

// Row is one converted reading: average kW over the interval, stamped at
// the interval midpoint in UTC epoch seconds.
type Row struct {
	Serial    string
	Timestamp float64
	KW        float64
}

type rowKey struct {
	serial string
	ts     float64
}

// Parse decodes one XML export. Bad meters and readings are skipped and
// returned as problems; err is set only when the document is unreadable.
func Parse(path string) (rows []Row, problems []error, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}

	sums := make(map[rowKey]float64)
	var order []rowKey
	for _, m := range doc.Meters {
		serial := strings.TrimSpace(m.Meter.SerialNumber)
		if serial == "" {
			problems = append(problems, errors.New("meter without SerialNumber"))
			continue
		}
		offset, err := strconv.ParseFloat(strings.TrimSpace(m.Meter.TimeZoneOffset), 64)
		if err != nil {
			problems = append(problems, fmt.Errorf("meter %s: TimeZoneOffset: %w", serial, err))
			continue
		}
		for _, iv := range m.Intervals {
			interval, err := strconv.ParseFloat(strings.TrimSpace(iv.Spec.Interval), 64)
			if err != nil || interval <= 0 {
				problems = append(problems, fmt.Errorf("meter %s: bad Interval %q", serial, iv.Spec.Interval))
				continue
			}
			kwMult := 60 / interval
			sign := 1.0
			if strings.EqualFold(strings.TrimSpace(iv.Spec.Direction), "R") {
				sign = -1
			}
			for _, r := range iv.Readings {
				raw, err := strconv.ParseFloat(strings.TrimSpace(r.RawReading), 64)
				if err != nil {
					problems = append(problems, fmt.Errorf("meter %s: RawReading %q: %w", serial, r.RawReading, err))
					continue
				}
				local, err := time.Parse(timeLayout, strings.TrimSpace(r.TimeStamp))
				if err != nil {
					problems = append(problems, fmt.Errorf("meter %s: TimeStamp %q: %w", serial, r.TimeStamp, err))
					continue
				}
				utc := local.Add(time.Duration(offset * float64(time.Minute)))
				ts := float64(utc.Unix()) + interval/2*60
				k := rowKey{serial: serial, ts: ts}
				if _, seen := sums[k]; !seen {
					order = append(order, k)
				}
				sums[k] += sign * kwMult * raw
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].serial != order[j].serial {
			return order[i].serial < order[j].serial
		}
		return order[i].ts < order[j].ts
	})
	rows = make([]Row, 0, len(order))
	for _, k := range order {
		rows = append(rows, Row{Serial: k.serial, Timestamp: k.ts, KW: sums[k]})
	}
	return rows, problems, nil
}

func writeCSV(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	for _, r := range rows {
		rec := []string{
			r.Serial,
			strconv.FormatFloat(r.Timestamp, 'f', -1, 64),
			strconv.FormatFloat(r.KW, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	return errors.Join(w.Error(), f.Close())
}

type Summary struct {
	Files    int
	Readings int
	Failed   int
}

// ConvertDir converts every *.xml file in dir to a sibling .csv and moves
// the XML into dir/xml-completed. A file that fails stays in place.
func ConvertDir(dir string, obs ports.Observability) (Summary, error) {
	var sum Summary
	done := filepath.Join(dir, CompletedDir)
	if err := os.MkdirAll(done, 0o755); err != nil {
		return sum, err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return sum, err
	}
	for _, path := range files {
		n, err := convertFile(path, done, obs)
		if err != nil {
			sum.Failed++
			obs.LogError("xml_convert_failed", err, ports.F("file", path))
			continue
		}
		sum.Files++
		sum.Readings += n
	}
	return sum, nil
}

func convertFile(path, done string, obs ports.Observability) (int, error) {
	rows, problems, err := Parse(path)
	if err != nil {
		return 0, err
	}
	for _, p := range problems {
		obs.LogError("xml_reading_skipped", p, ports.F("file", path))
	}
	if len(rows) > 0 {
		out := strings.TrimSuffix(path, filepath.Ext(path)) + ".csv"
		if err := writeCSV(out, rows); err != nil {
			return 0, fmt.Errorf("write csv: %w", err)
		}
		obs.LogInfo("xml_converted", ports.F("file", path), ports.F("readings", len(rows)))
	} else {
		obs.LogInfo("xml_empty", ports.F("file", path))
	}
	if err := os.Rename(path, filepath.Join(done, filepath.Base(path))); err != nil {
		return len(rows), fmt.Errorf("move to %s: %w", done, err)
	}
	return len(rows), nil
}
