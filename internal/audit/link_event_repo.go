package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"groundlink/internal/link"
	"groundlink/internal/station"
)

// LinkEventRow is one recorded reliability-layer event.
type LinkEventRow struct {
	ID      int64
	Type    string
	Kind    string
	Outcome string
	Reason  string
	Seq     int
	At      time.Time
}

type LinkEventRepo struct {
	db *sql.DB
}

func NewLinkEventRepo(db *sql.DB) *LinkEventRepo {
	return &LinkEventRepo{db: db}
}

func (r *LinkEventRepo) Insert(ctx context.Context, ev station.LinkEvent) error {
	// Kind, outcome and reason are meaningful only for resolved and remote
	// events; up/lost rows store them blank, and reason only accompanies a
	// refusal.
	var kind, outcome, reason string
	switch ev.Type {
	case station.LinkEventResolved:
		kind = ev.Kind.String()
		outcome = ev.Outcome.String()
		if ev.Outcome == link.OutcomeNacked {
			reason = ev.Reason.String()
		}
	case station.LinkEventRemote:
		kind = ev.Kind.String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO link_events(type, kind, outcome, reason, seq, at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, string(ev.Type), kind, outcome, reason, ev.Seq, toUnixMillis(ev.At))
	if err != nil {
		return fmt.Errorf("insert link event: %w", err)
	}
	return nil
}

func (r *LinkEventRepo) ListRecent(ctx context.Context, limit int) ([]LinkEventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, kind, outcome, reason, seq, at
		FROM link_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list link events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []LinkEventRow
	for rows.Next() {
		var (
			row  LinkEventRow
			atMs int64
		)
		if err := rows.Scan(&row.ID, &row.Type, &row.Kind, &row.Outcome, &row.Reason, &row.Seq, &atMs); err != nil {
			return nil, fmt.Errorf("scan link event: %w", err)
		}
		row.At = fromUnixMillis(atMs)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link events: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
