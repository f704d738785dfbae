package parsers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// headerLines reads n lines, keeping their newlines. A short file yields
// fewer lines without error.
func headerLines(r *bufio.Reader, n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		if line != "" {
			out = append(out, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
	}
	return out, nil
}

// noHeader is embedded by formats whose files start directly with data.
type noHeader struct{}

func (noHeader) ReadHeader(*bufio.Reader) ([]string, error) { return nil, nil }

// oneHeader is embedded by formats with a single column-title line.
type oneHeader struct{}

func (oneHeader) ReadHeader(r *bufio.Reader) ([]string, error) { return headerLines(r, 1) }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedLine, fmt.Sprintf(format, args...))
}

func fields(line string, min int) ([]string, error) {
	f := strings.Split(line, ",")
	if len(f) < min {
		return nil, malformed("expected at least %d fields, got %d", min, len(f))
	}
	return f, nil
}

func parseFloat(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, malformed("%s %q: %v", name, s, err)
	}
	return v, nil
}

// localEpoch interprets s as a wall-clock time in loc and returns Unix seconds.
func localEpoch(s, layout string, loc *time.Location) (float64, error) {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(s), loc)
	if err != nil {
		return 0, malformed("timestamp %q: %v", s, err)
	}
	return float64(t.Unix()), nil
}

// intervalOptions is shared by the fixed-interval kWh formats.
type intervalOptions struct {
	IntervalMinutes float64 `yaml:"interval_minutes"`
}

func (o *intervalOptions) applyDefaults() error {
	if o.IntervalMinutes == 0 {
		o.IntervalMinutes = 15
	}
	if o.IntervalMinutes < 0 {
		return fmt.Errorf("interval_minutes must be > 0")
	}
	return nil
}

// kwMultiplier converts kWh in one interval into average kW.
func (o intervalOptions) kwMultiplier() float64 { return 60 / o.IntervalMinutes }

// halfInterval is the midpoint shift in seconds.
func (o intervalOptions) halfInterval() float64 { return o.IntervalMinutes * 60 / 2 }
