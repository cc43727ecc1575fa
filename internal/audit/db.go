// Package audit persists the range log: launch transitions, link events,
// raw frames and telemetry samples, kept for post-test analysis.
package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// migrations are applied in order; PRAGMA user_version tracks how far this
// database has come.
var migrations = []string{
	`
	CREATE TABLE transitions(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		cause TEXT NOT NULL,
		remaining INTEGER NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX idx_transitions_at ON transitions(at);

	CREATE TABLE link_events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		kind TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL,
		seq INTEGER NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX idx_link_events_at ON link_events(at);

	CREATE TABLE frames(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		direction TEXT NOT NULL,
		sentence TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX idx_frames_at ON frames(at);

	CREATE TABLE samples(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node TEXT NOT NULL,
		channel INTEGER NOT NULL,
		raw INTEGER NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		uptime_ms INTEGER NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX idx_samples_channel_at ON samples(channel, at);
	`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for ; version < len(migrations); version++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("apply migration %d: %w", version+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, version+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("bump schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version+1, err)
		}
	}

	return nil
}

//goland:noinspection SqlWithoutWhere
var clearStatements = []string{
	`DELETE FROM transitions;`,
	`DELETE FROM link_events;`,
	`DELETE FROM frames;`,
	`DELETE FROM samples;`,
}

// Clear empties the range log without touching the schema.
func Clear(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range clearStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear audit tables: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear tx: %w", err)
	}

	return nil
}
