package gps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMonitor_FileSource(t *testing.T) {
	log := `# recorded 2023-01-01
$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47

$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A
`
	path := filepath.Join(t.TempDir(), "drive.nmea")
	if err := os.WriteFile(path, []byte(log), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	store := NewStore()
	m := NewMonitor(store)
	if err := m.Start(context.Background(), FileSource{Path: path}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Close()

	// EOF ends the loop after both sentences were consumed.
	waitFor(t, "replay to finish", func() bool { return !m.Running() })

	snap := store.Snapshot()
	if !snap.HasFix() {
		t.Fatalf("expected a fix from the replayed log")
	}
	if snap.Source != "Replay" {
		t.Fatalf("source=%q", snap.Source)
	}
	if snap.Speed == nil {
		t.Fatalf("RMC sentence not applied")
	}
	// Comment and blank lines never reach the history.
	for _, raw := range snap.RawHistory {
		if raw == "" || raw[0] == '#' {
			t.Fatalf("raw history contains non-sentence line %q", raw)
		}
	}
	if len(snap.RawHistory) != 2 {
		t.Fatalf("raw history=%d lines, want 2", len(snap.RawHistory))
	}
}

func TestFileSource_OpenMissingFile(t *testing.T) {
	m := NewMonitor(NewStore())
	err := m.Start(context.Background(), FileSource{Path: filepath.Join(t.TempDir(), "nope.nmea")})
	if err == nil {
		m.Close()
		t.Fatalf("expected synchronous open error")
	}
}
