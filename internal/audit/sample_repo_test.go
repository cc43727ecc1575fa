package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"groundlink/internal/protocol"
	"groundlink/internal/telemetry"
)

func TestSampleRepoListByChannel(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, filepath.Join(t.TempDir(), "range.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewSampleRepo(db)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	battery := telemetry.Reading{
		Node:       protocol.RedQueen('A'),
		Channel:    telemetry.ChannelBattery,
		Raw:        6560,
		Value:      8.2,
		Unit:       "V",
		Uptime:     90 * time.Second,
		ReceivedAt: at,
	}
	thrust := telemetry.Reading{
		Node:       protocol.RedQueen('A'),
		Channel:    telemetry.ChannelThrust,
		Raw:        100000,
		Value:      4.402,
		Unit:       "kN",
		Uptime:     91 * time.Second,
		ReceivedAt: at.Add(time.Second),
	}
	for _, r := range []telemetry.Reading{battery, thrust} {
		if err := repo.Insert(ctx, r); err != nil {
			t.Fatalf("insert %s sample: %v", r.Channel, err)
		}
	}

	rows, err := repo.ListByChannel(ctx, telemetry.ChannelBattery, 10)
	if err != nil {
		t.Fatalf("list battery samples: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one battery sample, got %d", len(rows))
	}

	got := rows[0]
	if got.Node != "RQA" || got.Channel != uint8(telemetry.ChannelBattery) || got.Raw != 6560 {
		t.Fatalf("battery row = %+v", got)
	}
	if got.Value != 8.2 || got.Unit != "V" {
		t.Fatalf("battery calibration fields = %v %q", got.Value, got.Unit)
	}
	if got.Uptime != 90*time.Second {
		t.Fatalf("uptime = %v, want 90s", got.Uptime)
	}
	if !got.At.Equal(at) {
		t.Fatalf("at = %v, want %v", got.At, at)
	}
}
