package reconcile_test

import (
	"encoding/binary"
	"testing"
	"time"

	"OracleMon/internal/reconcile"
	"OracleMon/internal/registry"
	"OracleMon/internal/scanner"
	"OracleMon/internal/wire"

	"github.com/rs/zerolog"
)

type fakeAPI struct {
	idsByTick map[uint32][]int64
	details   map[int64]*wire.QueryRecord
	pending   []int64

	tickCalls    []uint32
	pendingCalls int
}

func (f *fakeAPI) TickInfo() (*wire.TickInfo, error)   { return &wire.TickInfo{}, nil }
func (f *fakeAPI) TickRange() (*wire.TickRange, error) { return &wire.TickRange{}, nil }

func (f *fakeAPI) TickQueryIDs(tick uint32) ([]int64, error) {
	f.tickCalls = append(f.tickCalls, tick)
	return f.idsByTick[tick], nil
}

func (f *fakeAPI) PendingQueryIDs() ([]int64, error) {
	f.pendingCalls++
	return f.pending, nil
}

func (f *fakeAPI) QueryDetail(id int64) (*wire.QueryRecord, error) {
	return f.details[id], nil
}

func (f *fakeAPI) Statistics() (*wire.Statistics, error) { return nil, nil }

func detailRecord(id int64, tick uint32, status byte) *wire.QueryRecord {
	query := make([]byte, 104)
	copy(query[0:32], "ORACLE_A")
	binary.LittleEndian.PutUint64(query[32:40], wire.PackTimestamp(time.Now().UTC().Truncate(time.Second)))
	copy(query[40:72], "ETH")
	copy(query[72:104], "USD")
	return &wire.QueryRecord{
		Metadata:  &wire.QueryMetadata{QueryID: id, Status: status, Tick: tick},
		QueryData: query,
	}
}

func statsExpecting(total uint64) *wire.Statistics {
	return &wire.Statistics{Pending: total}
}

func setup(api *fakeAPI) (*reconcile.Engine, *registry.Registry, *scanner.Scanner) {
	reg := registry.New(zerolog.Nop())
	sc := scanner.New(api, reg, nil, zerolog.Nop(), nil)
	eng := reconcile.New(api, reg, sc, zerolog.Nop(), nil)
	return eng, reg, sc
}

func seed(reg *registry.Registry, ids map[int64]uint32) {
	for id, tick := range ids {
		reg.Upsert(&registry.QueryEntry{QueryID: id, Tick: tick, Status: registry.StatusPending})
	}
}

func TestRunNoDeficitIsNoop(t *testing.T) {
	api := &fakeAPI{}
	eng, reg, _ := setup(api)
	seed(reg, map[int64]uint32{1: 10, 2: 11, 3: 12})

	recovered, residual, err := eng.Run(statsExpecting(3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if recovered != 0 || residual != 0 {
		t.Errorf("got recovered=%d residual=%d, want 0/0", recovered, residual)
	}
	if api.pendingCalls != 0 {
		t.Error("no deficit should not probe pending ids")
	}
}

func TestRunPendingProbeClosesDeficit(t *testing.T) {
	// 3 known, node expects 5, both missing ids surface on the pending list.
	api := &fakeAPI{
		pending: []int64{1, 2, 3, 4, 5},
		details: map[int64]*wire.QueryRecord{
			4: detailRecord(4, 20, 1),
			5: detailRecord(5, 21, 1),
		},
	}
	eng, reg, _ := setup(api)
	seed(reg, map[int64]uint32{1: 10, 2: 11, 3: 12})

	recovered, residual, err := eng.Run(statsExpecting(5))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if recovered != 2 {
		t.Errorf("recovered: got %d, want 2", recovered)
	}
	if residual != 0 {
		t.Errorf("residual: got %d, want 0", residual)
	}
	if reg.Len() != 5 {
		t.Errorf("registry len: got %d, want 5", reg.Len())
	}
	// Deficit closed by the probe, no tick rescans needed.
	if len(api.tickCalls) != 0 {
		t.Errorf("tick rescans: got %v, want none", api.tickCalls)
	}
}

func TestRunClusterRescanRecoversMissedQuery(t *testing.T) {
	// The missed query sits at tick 1005, inside the padded neighborhood of
	// the known entry at tick 1000.
	api := &fakeAPI{
		idsByTick: map[uint32][]int64{
			1000: {1},
			1005: {2},
		},
		details: map[int64]*wire.QueryRecord{
			2: detailRecord(2, 1005, 1),
		},
	}
	eng, reg, _ := setup(api)
	seed(reg, map[int64]uint32{1: 1000})

	recovered, residual, err := eng.Run(statsExpecting(2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered: got %d, want 1", recovered)
	}
	if residual != 0 {
		t.Errorf("residual: got %d, want 0", residual)
	}
	if !reg.Has(2) {
		t.Error("missed query not recovered")
	}
}

func TestRunDoesNotRescanCoveredRanges(t *testing.T) {
	api := &fakeAPI{idsByTick: map[uint32][]int64{1000: {1}}}
	eng, reg, _ := setup(api)
	seed(reg, map[int64]uint32{1: 1000})

	// First pass rescans the cluster around tick 1000 without finding the
	// phantom query.
	if _, _, err := eng.Run(statsExpecting(2)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstScans := len(api.tickCalls)
	if firstScans == 0 {
		t.Fatal("first run should rescan the cluster")
	}

	// Second pass with the same registry must skip the already-covered span.
	if _, _, err := eng.Run(statsExpecting(2)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(api.tickCalls) != firstScans {
		t.Errorf("covered range rescanned: %d scans, then %d", firstScans, len(api.tickCalls))
	}
}

func TestRunResidualDeficitReported(t *testing.T) {
	// Nothing on the pending list and nothing in the clusters: the deficit
	// stays open.
	api := &fakeAPI{idsByTick: map[uint32][]int64{}}
	eng, reg, _ := setup(api)
	seed(reg, map[int64]uint32{1: 100})

	recovered, residual, err := eng.Run(statsExpecting(4))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if recovered != 0 {
		t.Errorf("recovered: got %d, want 0", recovered)
	}
	if residual != 3 {
		t.Errorf("residual: got %d, want 3", residual)
	}
}

func TestRunLeavesCheckpointAlone(t *testing.T) {
	api := &fakeAPI{
		idsByTick: map[uint32][]int64{500: {1}, 505: {2}},
		details:   map[int64]*wire.QueryRecord{2: detailRecord(2, 505, 1)},
	}
	eng, reg, sc := setup(api)
	seed(reg, map[int64]uint32{1: 500})
	sc.SetCheckpoint(400)

	if _, _, err := eng.Run(statsExpecting(2)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sc.Checkpoint() != 400 {
		t.Errorf("checkpoint: got %d, want 400", sc.Checkpoint())
	}
}

func TestClusters(t *testing.T) {
	spans := reconcile.Clusters([]uint32{1000, 1050, 1099, 5000})
	if len(spans) != 2 {
		t.Fatalf("spans: got %v, want 2 clusters", spans)
	}
	if spans[0].Start != 990 || spans[0].End != 1109 {
		t.Errorf("first span: got [%d,%d], want [990,1109]", spans[0].Start, spans[0].End)
	}
	if spans[1].Start != 4990 || spans[1].End != 5010 {
		t.Errorf("second span: got [%d,%d], want [4990,5010]", spans[1].Start, spans[1].End)
	}
}

func TestClustersPadClampsAtGenesis(t *testing.T) {
	spans := reconcile.Clusters([]uint32{5})
	if len(spans) != 1 {
		t.Fatalf("spans: got %v", spans)
	}
	if spans[0].Start != 1 {
		t.Errorf("start: got %d, want 1", spans[0].Start)
	}
	if spans[0].End != 15 {
		t.Errorf("end: got %d, want 15", spans[0].End)
	}
}

func TestClustersEmpty(t *testing.T) {
	if spans := reconcile.Clusters(nil); spans != nil {
		t.Errorf("got %v, want nil", spans)
	}
}
