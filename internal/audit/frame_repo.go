package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"groundlink/internal/station"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// FrameRow is one raw sentence as it crossed the wire.
type FrameRow struct {
	ID        int64
	Direction string
	Sentence  string
	At        time.Time
}

type FrameRepo struct {
	db *sql.DB
}

func NewFrameRepo(db *sql.DB) *FrameRepo {
	return &FrameRepo{db: db}
}

func (r *FrameRepo) Insert(ctx context.Context, direction string, f station.RawFrame) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO frames(direction, sentence, at)
		VALUES(?, ?, ?)
	`, direction, f.Sentence, toUnixMillis(f.At))
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

func (r *FrameRepo) ListRecent(ctx context.Context, limit int) ([]FrameRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, direction, sentence, at
		FROM frames
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []FrameRow
	for rows.Next() {
		var (
			row  FrameRow
			atMs int64
		)
		if err := rows.Scan(&row.ID, &row.Direction, &row.Sentence, &atMs); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		row.At = fromUnixMillis(atMs)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PruneBefore drops frame rows older than cutoff and reports how many went.
func (r *FrameRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM frames WHERE at < ?
	`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune frames: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned frames: %w", err)
	}
	return n, nil
}
