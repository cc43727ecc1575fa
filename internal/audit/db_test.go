package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"groundlink/internal/sequencer"
	"groundlink/internal/station"
)

func TestOpenMigratesAndReopens(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "range.db")

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	tr := sequencer.Transition{
		From:  sequencer.StateIdle,
		To:    sequencer.StateArmed,
		Cause: sequencer.CauseArm,
		At:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := NewTransitionRepo(db).Insert(ctx, tr); err != nil {
		t.Fatalf("insert transition: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	db, err = Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := NewTransitionRepo(db).ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one transition after reopen, got %d", len(rows))
	}
	if rows[0].From != "idle" || rows[0].To != "armed" || rows[0].Cause != "arm" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if !rows[0].At.Equal(tr.At) {
		t.Fatalf("at = %v, want %v", rows[0].At, tr.At)
	}
}

func TestClearEmptiesAllTables(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, filepath.Join(t.TempDir(), "range.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := NewTransitionRepo(db).Insert(ctx, sequencer.Transition{
		From: sequencer.StateIdle, To: sequencer.StateArmed, Cause: sequencer.CauseArm, At: at,
	}); err != nil {
		t.Fatalf("insert transition: %v", err)
	}
	if err := NewFrameRepo(db).Insert(ctx, DirectionOut, station.RawFrame{Sentence: "$LNCCMD,001,RQA,ARM*0A", At: at}); err != nil {
		t.Fatalf("insert frame: %v", err)
	}

	if err := Clear(ctx, db); err != nil {
		t.Fatalf("clear: %v", err)
	}

	transitions, err := NewTransitionRepo(db).ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	frames, err := NewFrameRepo(db).ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	if len(transitions) != 0 || len(frames) != 0 {
		t.Fatalf("expected empty tables, got %d transitions and %d frames", len(transitions), len(frames))
	}
}
