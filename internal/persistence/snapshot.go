package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"OracleMon/internal/errkind"
	"OracleMon/internal/observability"
	"OracleMon/internal/registry"
	"OracleMon/internal/wire"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshot is the monitor's full observed state at a point in time. It is
// both the restart-recovery artifact and the dashboard's data source, so it
// carries the summary header alongside the raw entries.
type Snapshot struct {
	SnapshotID    uuid.UUID `json:"snapshotId"`
	TakenAt       time.Time `json:"takenAt"`
	Mode          string    `json:"mode"`
	UptimeSeconds int64     `json:"uptimeSeconds"`

	Epoch          uint16 `json:"epoch"`
	CurrentTick    uint32 `json:"currentTick"`
	FirstTick      uint32 `json:"firstTick"`
	ScanCheckpoint uint32 `json:"scanCheckpoint"`

	Statistics *wire.Statistics `json:"statistics,omitempty"`

	TotalQueries    int            `json:"totalQueries"`
	SealQueries     int            `json:"sealQueries"`
	UniqueSenders   int            `json:"uniqueSenders"`
	SenderBreakdown map[string]int `json:"senderBreakdown,omitempty"`

	Entries []*registry.QueryEntry `json:"entries"`
}

// SnapshotWriter persists snapshots to a single JSON file. Writes go
// through a temp file in the same directory plus a rename, so a crash
// mid-write can never leave a truncated artifact behind.
type SnapshotWriter struct {
	path    string
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewSnapshotWriter(path string, logger zerolog.Logger, metrics *observability.Metrics) *SnapshotWriter {
	return &SnapshotWriter{path: path, logger: logger, metrics: metrics}
}

// Path returns the snapshot file location.
func (w *SnapshotWriter) Path() string {
	return w.path
}

// Write serializes and atomically replaces the snapshot file.
func (w *SnapshotWriter) Write(snap *Snapshot) error {
	start := time.Now()
	if err := w.write(snap); err != nil {
		if w.metrics != nil {
			w.metrics.SnapshotErrors.Inc()
		}
		return errkind.Wrap(errkind.Persistence, err)
	}
	if w.metrics != nil {
		w.metrics.SnapshotWrites.Inc()
		w.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}
	w.logger.Debug().
		Str("snapshot_id", snap.SnapshotID.String()).
		Int("entries", len(snap.Entries)).
		Dur("took", time.Since(start)).
		Msg("snapshot written")
	return nil
}

func (w *SnapshotWriter) write(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot file. A missing file is a cold start and returns
// (nil, nil); a file that exists but does not parse is an error, because
// silently ignoring it would discard observed history.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errkind.Wrap(errkind.Persistence, fmt.Errorf("read snapshot: %w", err))
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errkind.Wrap(errkind.Persistence, fmt.Errorf("parse snapshot %s: %w", path, err))
	}
	return &snap, nil
}
