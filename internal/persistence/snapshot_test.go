package persistence_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"OracleMon/internal/errkind"
	"OracleMon/internal/persistence"
	"OracleMon/internal/registry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func sampleSnapshot() *persistence.Snapshot {
	return &persistence.Snapshot{
		SnapshotID:     uuid.New(),
		TakenAt:        time.Date(2026, time.August, 27, 12, 0, 0, 0, time.UTC),
		Mode:           "watch",
		Epoch:          142,
		CurrentTick:    1000,
		FirstTick:      900,
		ScanCheckpoint: 1000,
		TotalQueries:   1,
		Entries: []*registry.QueryEntry{
			{
				QueryID:   55,
				Tick:      950,
				Status:    registry.StatusSuccess,
				FirstSeen: time.Date(2026, time.August, 27, 11, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	w := persistence.NewSnapshotWriter(path, zerolog.Nop(), nil)

	want := sampleSnapshot()
	if err := w.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := persistence.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot")
	}
	if got.SnapshotID != want.SnapshotID {
		t.Errorf("snapshot id: got %v, want %v", got.SnapshotID, want.SnapshotID)
	}
	if got.ScanCheckpoint != 1000 || got.Epoch != 142 {
		t.Errorf("header: got %+v", got)
	}
	if len(got.Entries) != 1 || got.Entries[0].QueryID != 55 {
		t.Fatalf("entries: got %+v", got.Entries)
	}
	if got.Entries[0].Status != registry.StatusSuccess {
		t.Errorf("entry status: got %v, want success", got.Entries[0].Status)
	}
}

func TestWriteCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "snap.json")
	w := persistence.NewSnapshotWriter(path, zerolog.Nop(), nil)

	if err := w.Write(sampleSnapshot()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

func TestWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.json")
	w := persistence.NewSnapshotWriter(path, zerolog.Nop(), nil)

	first := sampleSnapshot()
	second := sampleSnapshot()
	second.CurrentTick = 2000

	if err := w.Write(first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := w.Write(second); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := persistence.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.CurrentTick != 2000 {
		t.Errorf("current tick: got %d, want 2000", got.CurrentTick)
	}

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		for _, e := range entries {
			t.Logf("dir entry: %s", e.Name())
		}
		t.Errorf("dir entries: got %d, want 1", len(entries))
	}
}

func TestLoadMissingFileIsColdStart(t *testing.T) {
	snap, err := persistence.Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap != nil {
		t.Errorf("got %+v, want nil", snap)
	}
}

func TestLoadCorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	_, err := persistence.Load(path)
	if err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
	if !errkind.Is(err, errkind.Persistence) {
		t.Errorf("error kind: got %v, want persistence", errkind.KindOf(err))
	}
}
