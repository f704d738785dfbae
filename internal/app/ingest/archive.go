package ingest

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// archiveFile is one completed or error output stream for a source file.
type archiveFile struct {
	path  string
	f     *os.File
	w     *bufio.Writer
	lines int
}

func openArchive(path, header string) (*archiveFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	a := &archiveFile{path: path, f: f, w: bufio.NewWriter(f)}
	if strings.TrimSpace(header) != "" {
		if _, err := a.w.WriteString(header); err != nil {
			a.discard()
			return nil, err
		}
	}
	return a, nil
}

func (a *archiveFile) writeLine(line string) error {
	a.lines++
	_, err := a.w.WriteString(line + "\n")
	return err
}

// finish closes the archive and removes it when no data line was written.
// It reports whether the file was kept.
func (a *archiveFile) finish() (bool, error) {
	err := errors.Join(a.w.Flush(), a.f.Close())
	if err != nil {
		return false, err
	}
	if a.lines == 0 {
		return false, os.Remove(a.path)
	}
	return true, nil
}

func (a *archiveFile) discard() {
	_ = a.f.Close()
	_ = os.Remove(a.path)
}
