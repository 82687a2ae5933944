package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simcoreservers/nutetra/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "telemetry")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if s != nil {
			t.Fatalf("Open(%q) returned a store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestFileStoreDoseRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := s.AppendDose(ctx, DoseRow{
			At:       base.Add(time.Duration(i) * time.Minute),
			PumpID:   "pH Down",
			AmountMl: 0.5,
			Reason:   "pH adjustment",
		})
		if err != nil {
			t.Fatalf("AppendDose %d: %v", i, err)
		}
	}

	rows, err := s.RecentDoses(ctx, 3)
	if err != nil {
		t.Fatalf("RecentDoses: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if !rows[0].At.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("rows not newest-first: %v", rows[0].At)
	}
	if rows[0].PumpID != "pH Down" || rows[0].AmountMl != 0.5 {
		t.Fatalf("row did not round-trip: %+v", rows[0])
	}
}

func TestFileStoreRecentDosesEmptyLog(t *testing.T) {
	s, _ := openTestStore(t)
	rows, err := s.RecentDoses(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentDoses: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("empty log returned %d rows", len(rows))
	}
}

func TestFileStoreSkipsTornLine(t *testing.T) {
	s, dir := openTestStore(t)
	ctx := context.Background()
	if err := s.AppendDose(ctx, DoseRow{At: time.Now(), PumpID: "Pump 1", AmountMl: 1}); err != nil {
		t.Fatalf("AppendDose: %v", err)
	}

	// Simulate a crash mid-write.
	f, err := os.OpenFile(filepath.Join(dir, "telemetry.doses.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString(`{"at":"2026-03-01T12:`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	_ = f.Close()

	rows, err := s.RecentDoses(ctx, 0)
	if err != nil {
		t.Fatalf("RecentDoses: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want the 1 intact row", len(rows))
	}
}

func TestFileStoreAppendReading(t *testing.T) {
	s, dir := openTestStore(t)
	err := s.AppendReading(context.Background(), ReadingRow{
		At: time.Now(), PH: 6.1, EC: 1.3, WaterTemp: 21.0, ECSubstituted: true,
	})
	if err != nil {
		t.Fatalf("AppendReading: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "telemetry.readings.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(b) == 0 {
		t.Fatalf("reading log empty")
	}
}
