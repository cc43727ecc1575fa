package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"groundlink/internal/sequencer"
)

// TransitionRow is one recorded launch-state change.
type TransitionRow struct {
	ID        int64
	From      string
	To        string
	Cause     string
	Remaining int
	At        time.Time
}

type TransitionRepo struct {
	db *sql.DB
}

func NewTransitionRepo(db *sql.DB) *TransitionRepo {
	return &TransitionRepo{db: db}
}

func (r *TransitionRepo) Insert(ctx context.Context, tr sequencer.Transition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transitions(from_state, to_state, cause, remaining, at)
		VALUES(?, ?, ?, ?, ?)
	`, tr.From.String(), tr.To.String(), string(tr.Cause), tr.Remaining, toUnixMillis(tr.At))
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListRecent returns the newest transitions oldest-first.
func (r *TransitionRepo) ListRecent(ctx context.Context, limit int) ([]TransitionRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_state, to_state, cause, remaining, at
		FROM transitions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []TransitionRow
	for rows.Next() {
		var (
			row  TransitionRow
			atMs int64
		)
		if err := rows.Scan(&row.ID, &row.From, &row.To, &row.Cause, &row.Remaining, &atMs); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		row.At = fromUnixMillis(atMs)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
