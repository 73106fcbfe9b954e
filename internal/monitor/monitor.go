package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OracleMon/internal/node"
	"OracleMon/internal/observability"
	"OracleMon/internal/persistence"
	"OracleMon/internal/publish"
	"OracleMon/internal/reconcile"
	"OracleMon/internal/registry"
	"OracleMon/internal/scanner"
	"OracleMon/internal/timeseries"
	"OracleMon/internal/wire"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mode selects the daemon's startup behavior.
type Mode string

const (
	// ModeWatch resumes from the snapshot and stays in the live loop.
	ModeWatch Mode = "watch"
	// ModeCatchup resumes from the snapshot, catches up, writes one
	// snapshot, and exits.
	ModeCatchup Mode = "catchup"
	// ModeReset ignores any existing snapshot and rebuilds from the
	// ledger's first tick.
	ModeReset Mode = "reset"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeWatch, ModeCatchup, ModeReset:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want watch, catchup, or reset)", s)
}

// Config carries the monitor's timer intervals. Zero values take defaults.
type Config struct {
	PollInterval      time.Duration
	StatsInterval     time.Duration
	RecheckInterval   time.Duration
	HeartbeatInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 30 * time.Second
	}
	if c.RecheckInterval <= 0 {
		c.RecheckInterval = 60 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
}

// softTimer is a named interval checked cooperatively from the single loop.
// Firing marks the timer from the check time, so a slow handler delays the
// next firing rather than causing a burst.
type softTimer struct {
	name     string
	interval time.Duration
	last     time.Time
}

func (t *softTimer) due(now time.Time) bool {
	return now.Sub(t.last) >= t.interval
}

func (t *softTimer) mark(now time.Time) {
	t.last = now
}

// Monitor is the daemon context: every long-lived component plus the
// observed ledger position. All state is mutated from the single Run loop.
type Monitor struct {
	mode Mode

	api        node.API
	reg        *registry.Registry
	scanner    *scanner.Scanner
	reconciler *reconcile.Engine
	snapshots  *persistence.SnapshotWriter
	prices     *timeseries.PriceSink  // nil when no price store configured
	events     *publish.Publisher     // nil when no NATS configured
	health     *observability.HealthChecker

	poll      softTimer
	stats     softTimer
	recheck   softTimer
	heartbeat softTimer

	epoch       uint16
	currentTick uint32
	firstTick   uint32
	lastStats   *wire.Statistics

	// dirty marks registry changes not yet captured in a snapshot.
	dirty bool

	startedAt time.Time
	now       func() time.Time

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New wires the monitor and installs the registry change hook. prices and
// events may be nil; the corresponding side effects are skipped.
func New(
	mode Mode,
	cfg Config,
	api node.API,
	reg *registry.Registry,
	sc *scanner.Scanner,
	rec *reconcile.Engine,
	snapshots *persistence.SnapshotWriter,
	prices *timeseries.PriceSink,
	events *publish.Publisher,
	health *observability.HealthChecker,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		mode:       mode,
		api:        api,
		reg:        reg,
		scanner:    sc,
		reconciler: rec,
		snapshots:  snapshots,
		prices:     prices,
		events:     events,
		health:     health,
		poll:       softTimer{name: "poll", interval: cfg.PollInterval},
		stats:      softTimer{name: "stats", interval: cfg.StatsInterval},
		recheck:    softTimer{name: "recheck", interval: cfg.RecheckInterval},
		heartbeat:  softTimer{name: "heartbeat", interval: cfg.HeartbeatInterval},
		startedAt:  time.Now(),
		now:        time.Now,
		logger:     logger,
		metrics:    metrics,
	}
	reg.OnChange(m.onChange)
	return m
}

// onChange reacts to every registry mutation: publish the event, forward a
// resolved price, and mark the snapshot dirty.
func (m *Monitor) onChange(e *registry.QueryEntry, prev registry.QueryStatus, isNew bool) {
	m.dirty = true

	ctx := context.Background()
	if isNew {
		if m.events != nil {
			m.events.QueryDiscovered(ctx, e)
		}
	} else {
		if prev != e.Status && m.metrics != nil {
			m.metrics.StatusTransitions.WithLabelValues(e.Status.String()).Inc()
		}
		if m.events != nil {
			m.events.StatusChanged(ctx, e, prev)
		}
	}
	if m.prices != nil {
		m.prices.Forward(ctx, e, m.epoch)
	}
}

// Bootstrap brings the registry up to the ledger's current position: load
// the snapshot (unless resetting), learn the tick position and statistics,
// run the catch-up scan and one reconciliation pass, then persist. The
// daemon reports ready only after Bootstrap succeeds.
func (m *Monitor) Bootstrap(ctx context.Context) error {
	if m.mode != ModeReset {
		snap, err := persistence.Load(m.snapshots.Path())
		if err != nil {
			// Corrupt prior state means cold start, not a dead daemon.
			m.logger.Warn().Err(err).Msg("prior snapshot unusable, starting cold")
			snap = nil
		}
		if snap != nil {
			m.reg.LoadFromSnapshot(snap.Entries)
			m.scanner.SetCheckpoint(snap.ScanCheckpoint)
			m.firstTick = snap.FirstTick
			m.logger.Info().
				Uint32("checkpoint", snap.ScanCheckpoint).
				Int("entries", len(snap.Entries)).
				Time("taken_at", snap.TakenAt).
				Msg("resumed from snapshot")
		}
	} else {
		m.logger.Info().Msg("reset mode, ignoring any existing snapshot")
	}

	info, err := m.api.TickInfo()
	if err != nil {
		return err
	}
	m.epoch = info.Epoch
	m.currentTick = info.Tick

	stats, err := m.api.Statistics()
	if err != nil {
		return err
	}
	m.observeStats(stats)

	rng, err := m.api.TickRange()
	if err != nil {
		return err
	}
	if m.firstTick == 0 || rng.First > m.firstTick {
		m.firstTick = rng.First
	}
	if rng.Current > m.currentTick {
		m.currentTick = rng.Current
	}

	m.logger.Info().
		Uint16("epoch", m.epoch).
		Uint32("first_tick", rng.First).
		Uint32("current_tick", rng.Current).
		Uint64("expected_total", stats.ExpectedTotal()).
		Msg("bootstrap position established")

	if _, err := m.scanner.CatchUp(rng, stats.ExpectedTotal()); err != nil {
		return err
	}

	if _, _, err := m.reconciler.Run(stats); err != nil {
		if errors.Is(err, node.ErrAllNodesUnreachable) {
			return err
		}
		m.logger.Warn().Err(err).Msg("bootstrap reconciliation incomplete")
	}

	if err := m.writeSnapshot(); err != nil {
		return err
	}
	m.health.SetReady(true)
	return nil
}

// Run drives the live loop until the context is canceled, then writes a
// final snapshot. Only an exhausted node pool is fatal; every other error
// is logged and the loop keeps going.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	m.logger.Info().Msg("live loop started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("shutting down, writing final snapshot")
			m.health.SetReady(false)
			if err := m.writeSnapshot(); err != nil {
				m.logger.Error().Err(err).Msg("final snapshot failed")
				return err
			}
			return nil

		case <-ticker.C:
			if err := m.step(m.now()); err != nil {
				if errors.Is(err, node.ErrAllNodesUnreachable) {
					m.health.SetReady(false)
					m.writeSnapshot()
					return err
				}
				m.logger.Warn().Err(err).Msg("loop step failed")
			}
		}
	}
}

// step fires every due timer, one at a time, in a fixed order.
func (m *Monitor) step(now time.Time) error {
	if m.poll.due(now) {
		m.poll.mark(now)
		if err := m.pollTick(); err != nil {
			return err
		}
	}
	if m.stats.due(now) {
		m.stats.mark(now)
		if err := m.pollStats(); err != nil {
			return err
		}
	}
	if m.recheck.due(now) {
		m.recheck.mark(now)
		if err := m.recheckPending(); err != nil {
			return err
		}
	}
	// Mutations made by this step persist before the loop sleeps; the
	// heartbeat additionally writes on its interval even with no change, so
	// downstream consumers can tell a stalled daemon from an idle one.
	if m.dirty || m.heartbeat.due(now) {
		if m.heartbeat.due(now) {
			m.heartbeat.mark(now)
		}
		if err := m.writeSnapshot(); err != nil {
			m.logger.Error().Err(err).Msg("snapshot write failed")
		}
	}
	return nil
}

// pollTick learns the current ledger position and scans any newly advanced
// ticks.
func (m *Monitor) pollTick() error {
	info, err := m.api.TickInfo()
	if err != nil {
		return err
	}
	if info.Epoch != m.epoch {
		m.logger.Info().Uint16("from", m.epoch).Uint16("to", info.Epoch).Msg("epoch changed")
		m.epoch = info.Epoch
	}
	if info.Tick <= m.currentTick {
		return nil
	}
	m.currentTick = info.Tick

	_, err = m.scanner.ScanForward(info.Tick)
	return err
}

// pollStats refreshes the authoritative totals and reconciles when behind.
func (m *Monitor) pollStats() error {
	stats, err := m.api.Statistics()
	if err != nil {
		return err
	}
	m.observeStats(stats)

	_, _, err = m.reconciler.Run(stats)
	return err
}

// recheckPending re-fetches every entry whose status can still change.
func (m *Monitor) recheckPending() error {
	ids := m.reg.NonTerminal()
	if len(ids) == 0 {
		return nil
	}
	if m.metrics != nil {
		m.metrics.RechecksRun.Inc()
	}
	m.logger.Debug().Int("entries", len(ids)).Msg("rechecking non-terminal entries")

	for _, id := range ids {
		if _, err := m.scanner.FetchAndInsert(id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) observeStats(stats *wire.Statistics) {
	m.lastStats = stats
	if m.metrics != nil {
		m.metrics.ExpectedTotal.Set(float64(stats.ExpectedTotal()))
		m.metrics.RegistrySize.Set(float64(m.reg.Len()))
	}
}

// writeSnapshot captures the full observed state and clears the dirty flag.
func (m *Monitor) writeSnapshot() error {
	senders := m.reg.SenderBreakdown()
	snap := &persistence.Snapshot{
		SnapshotID:      uuid.New(),
		TakenAt:         m.now().UTC(),
		Mode:            string(m.mode),
		UptimeSeconds:   int64(time.Since(m.startedAt).Seconds()),
		Epoch:           m.epoch,
		CurrentTick:     m.currentTick,
		FirstTick:       m.firstTick,
		ScanCheckpoint:  m.scanner.Checkpoint(),
		Statistics:      m.lastStats,
		TotalQueries:    m.reg.Len(),
		SealQueries:     m.reg.SealCount(),
		UniqueSenders:   len(senders),
		SenderBreakdown: senders,
		Entries:         m.reg.Sorted(),
	}
	if err := m.snapshots.Write(snap); err != nil {
		return err
	}
	m.dirty = false
	return nil
}
