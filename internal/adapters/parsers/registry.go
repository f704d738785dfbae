// Package parsers holds the LineParser implementations for every supported
// meter file format and the registry used to select one by name.
package parsers

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

var (
	// ErrUnknownFormat is returned by New for a name nothing registered.
	ErrUnknownFormat = errors.New("parsers: unknown format")
	// ErrMalformedLine marks a data line the format could not interpret.
	ErrMalformedLine = errors.New("parsers: malformed line")
)

// Options carries what every format constructor may need. Raw holds the
// source's `options` mapping; each format decodes it into its own struct.
type Options struct {
	Location *time.Location
	Raw      *yaml.Node
}

// Constructor builds a parser for one source.
type Constructor func(opts Options) (ports.LineParser, error)

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{
		"avec":          newAvec,
		"avec_interval": newAvecInterval,
		"cea":           newCEA,
		"csv":           newCSV,
		"gvea":          newGVEA,
		"mea":           newMEA,
		"ses_cea":       newSESCEA,
	}
)

// Register adds or replaces a format. Embedders use it for private formats.
func Register(name string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = c
}

// New resolves name and constructs the parser.
func New(name string, opts Options) (ports.LineParser, error) {
	mu.RLock()
	c, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	p, err := c(opts)
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", name, err)
	}
	return p, nil
}

// Names lists the registered formats in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// decodeOptions decodes raw into dst rejecting keys dst does not declare.
func decodeOptions(raw *yaml.Node, dst any) error {
	if raw == nil || raw.Kind == 0 {
		return nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("options: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}
