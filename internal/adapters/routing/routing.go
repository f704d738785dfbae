// Package routing loads the sensor to destination table from a CSV file
// or a SQL database.
package routing

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

const DefaultQuery = "SELECT sensor_id, bmon_id FROM sensor_target"

var ErrUnsupportedFile = errors.New("routing file must end in .csv or .sqlite")

// CSVSource reads `sensor_id,destination` rows. Fields are trimmed.
type CSVSource struct {
	Path string
}

func (s CSVSource) Load(_ context.Context) (domain.RoutingTable, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return domain.RoutingTable{}, fmt.Errorf("open routing file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	targets := make(map[string]domain.DestinationID)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.RoutingTable{}, fmt.Errorf("read %s: %w", s.Path, err)
		}
		if len(rec) < 2 {
			line, _ := r.FieldPos(0)
			return domain.RoutingTable{}, fmt.Errorf("%s line %d: expected sensor_id,destination", s.Path, line)
		}
		targets[strings.TrimSpace(rec[0])] = domain.DestinationID(strings.TrimSpace(rec[1]))
	}
	return domain.RoutingTable{Targets: targets}, nil
}

// SQLSource runs a two column query against a database handle.
type SQLSource struct {
	DB    *sql.DB
	Query string
}

// OpenSQL opens driver ("sqlite" or "postgres") and wraps it as a source.
func OpenSQL(driver, dsn string) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open routing db: %w", err)
	}
	return &SQLSource{DB: db, Query: DefaultQuery}, nil
}

func (s *SQLSource) Load(ctx context.Context) (domain.RoutingTable, error) {
	q := s.Query
	if q == "" {
		q = DefaultQuery
	}
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return domain.RoutingTable{}, fmt.Errorf("query routing table: %w", err)
	}
	defer rows.Close()

	targets := make(map[string]domain.DestinationID)
	for rows.Next() {
		var sensor, dest string
		if err := rows.Scan(&sensor, &dest); err != nil {
			return domain.RoutingTable{}, fmt.Errorf("scan routing row: %w", err)
		}
		targets[strings.TrimSpace(sensor)] = domain.DestinationID(strings.TrimSpace(dest))
	}
	if err := rows.Err(); err != nil {
		return domain.RoutingTable{}, fmt.Errorf("iterate routing rows: %w", err)
	}
	return domain.RoutingTable{Targets: targets}, nil
}

func (s *SQLSource) Close() error { return s.DB.Close() }

// FromFile picks the source by extension the way routing files are named
// on disk: .csv or .sqlite.
func FromFile(path string) (ports.RoutingSource, io.Closer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return CSVSource{Path: path}, nopCloser{}, nil
	case ".sqlite", ".db":
		if _, err := os.Stat(path); err != nil {
			return nil, nil, fmt.Errorf("routing db: %w", err)
		}
		src, err := OpenSQL("sqlite", path)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

var (
	_ ports.RoutingSource = CSVSource{}
	_ ports.RoutingSource = (*SQLSource)(nil)
)
