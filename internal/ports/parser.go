package ports

import (
	"bufio"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
)

// LineParser reads one file format. ReadHeader must consume exactly the
// format's fixed header lines and leave r at the first data line.
// ParseLine receives a trimmed, non-blank data line and must return an error
// for malformed content instead of skipping it.
type LineParser interface {
	ReadHeader(r *bufio.Reader) ([]string, error)
	ParseLine(line string) ([]domain.Reading, error)
}
