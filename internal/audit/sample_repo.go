package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"groundlink/internal/telemetry"
)

// SampleRow is one recorded telemetry reading.
type SampleRow struct {
	ID      int64
	Node    string
	Channel uint8
	Raw     int32
	Value   float64
	Unit    string
	Uptime  time.Duration
	At      time.Time
}

type SampleRepo struct {
	db *sql.DB
}

func NewSampleRepo(db *sql.DB) *SampleRepo {
	return &SampleRepo{db: db}
}

func (r *SampleRepo) Insert(ctx context.Context, reading telemetry.Reading) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO samples(node, channel, raw, value, unit, uptime_ms, at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, reading.Node.String(), uint8(reading.Channel), reading.Raw, reading.Value,
		reading.Unit, reading.Uptime.Milliseconds(), toUnixMillis(reading.ReceivedAt))
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// ListByChannel returns the newest samples for one channel oldest-first.
func (r *SampleRepo) ListByChannel(ctx context.Context, ch telemetry.Channel, limit int) ([]SampleRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node, channel, raw, value, unit, uptime_ms, at
		FROM samples
		WHERE channel = ?
		ORDER BY id DESC
		LIMIT ?
	`, uint8(ch), limit)
	if err != nil {
		return nil, fmt.Errorf("list samples by channel: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []SampleRow
	for rows.Next() {
		var (
			row      SampleRow
			uptimeMs int64
			atMs     int64
		)
		if err := rows.Scan(&row.ID, &row.Node, &row.Channel, &row.Raw, &row.Value, &row.Unit, &uptimeMs, &atMs); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		row.Uptime = time.Duration(uptimeMs) * time.Millisecond
		row.At = fromUnixMillis(atMs)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
