package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// TimescaleSink inserts readings into a (ts, sensor_id, value) hypertable.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	if table == "" {
		table = "readings"
	}
	return &TimescaleSink{db: db, tableName: table}
}

// OpenTimescale opens a postgres handle through lib/pq.
func OpenTimescale(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open timescale: %w", err)
	}
	return db, nil
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

func (t *TimescaleSink) WriteBatch(ctx context.Context, readings []domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	// replays of an uncommitted batch are absorbed by the unique key
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (ts, sensor_id, value) VALUES ")

	args := make([]any, 0, len(readings)*3)
	for i, r := range readings {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3))
		args = append(args, time.Unix(r.Timestamp, 0).UTC(), r.SensorID, r.Value)
	}

	b.WriteString(" ON CONFLICT (sensor_id, ts) DO NOTHING")

	if _, err := t.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("timescale insert: %w", err)
	}
	return nil
}

var _ ports.Sink = (*TimescaleSink)(nil)
