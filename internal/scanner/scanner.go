package scanner

import (
	"time"

	"OracleMon/internal/identity"
	"OracleMon/internal/node"
	"OracleMon/internal/observability"
	"OracleMon/internal/registry"
	"OracleMon/internal/wire"

	"github.com/rs/zerolog"
)

// EmptyTickExitRun is the catch-up early-exit threshold: once the registry
// has reached the expected total, this many consecutive empty ticks end the
// scan and the remaining range is treated as implicitly empty. Gap
// reconciliation is the backstop for stragglers.
const EmptyTickExitRun = 200

// Scanner walks the ledger's tick range forward from a checkpoint,
// discovers new query ids per tick, fetches their full records, and inserts
// them into the registry.
type Scanner struct {
	api      node.API
	reg      *registry.Registry
	resolver identity.Resolver

	checkpoint uint32

	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a scanner starting from checkpoint 0 (genesis).
func New(api node.API, reg *registry.Registry, resolver identity.Resolver, logger zerolog.Logger, metrics *observability.Metrics) *Scanner {
	return &Scanner{
		api:      api,
		reg:      reg,
		resolver: resolver,
		now:      time.Now,
		logger:   logger,
		metrics:  metrics,
	}
}

// Checkpoint returns the highest tick fully scanned.
func (s *Scanner) Checkpoint() uint32 {
	return s.checkpoint
}

// SetCheckpoint raises the checkpoint. Lower values are ignored: the
// checkpoint is monotonically non-decreasing for the process lifetime.
func (s *Scanner) SetCheckpoint(tick uint32) {
	if tick <= s.checkpoint {
		return
	}
	s.checkpoint = tick
	if s.metrics != nil {
		s.metrics.ScanCheckpoint.Set(float64(tick))
	}
}

// CatchUp walks ticks from the resume point to the current tick. With a
// prior checkpoint the scan resumes at max(first, checkpoint+1); otherwise
// it starts at the range's first tick. Returns the number of entries added.
func (s *Scanner) CatchUp(rng *wire.TickRange, expectedTotal uint64) (int, error) {
	start := rng.First
	if s.checkpoint != 0 && s.checkpoint+1 > start {
		start = s.checkpoint + 1
	}
	if start > rng.Current {
		s.SetCheckpoint(rng.Current)
		return 0, nil
	}

	s.logger.Info().
		Uint32("from", start).
		Uint32("to", rng.Current).
		Uint64("expected_total", expectedTotal).
		Msg("catch-up scan starting")

	added := 0
	emptyRun := 0
	for tick := start; tick <= rng.Current; tick++ {
		n, err := s.scanTick(tick)
		if err != nil {
			return added, err
		}
		added += n
		if n == 0 {
			emptyRun++
		} else {
			emptyRun = 0
		}
		s.SetCheckpoint(tick)

		if expectedTotal > 0 && uint64(s.reg.Len()) >= expectedTotal && emptyRun >= EmptyTickExitRun {
			s.logger.Info().
				Uint32("tick", tick).
				Uint32("skipped_to", rng.Current).
				Msg("registry complete, ending catch-up early")
			s.SetCheckpoint(rng.Current)
			break
		}
	}

	s.logger.Info().Int("added", added).Uint32("checkpoint", s.checkpoint).Msg("catch-up scan finished")
	return added, nil
}

// ScanForward scans the newly advanced range (checkpoint+1 .. nowTick) in
// the live loop. A nowTick at or below the checkpoint is a no-op.
func (s *Scanner) ScanForward(nowTick uint32) (int, error) {
	if nowTick <= s.checkpoint {
		return 0, nil
	}
	added := 0
	for tick := s.checkpoint + 1; tick <= nowTick; tick++ {
		n, err := s.scanTick(tick)
		if err != nil {
			return added, err
		}
		added += n
		s.SetCheckpoint(tick)
	}
	return added, nil
}

// Rescan re-walks an already-covered range for gap reconciliation. It never
// moves the checkpoint. Scanning stops early once limit entries have been
// added; limit 0 means no limit.
func (s *Scanner) Rescan(start, end uint32, limit int) (int, error) {
	added := 0
	for tick := start; tick <= end; tick++ {
		if tick == 0 {
			continue
		}
		n, err := s.scanTick(tick)
		if err != nil {
			return added, err
		}
		added += n
		if limit > 0 && added >= limit {
			break
		}
	}
	return added, nil
}

// FetchAndInsert fetches full detail for one id and inserts it when it
// decodes. Returns whether an entry was added or replaced. A record the
// node cannot produce is skipped, not an error.
func (s *Scanner) FetchAndInsert(id int64) (bool, error) {
	rec, err := s.api.QueryDetail(id)
	if err != nil {
		return false, err
	}

	entry, lookupErr := registry.BuildEntry(rec, s.resolver, s.now())
	if lookupErr != nil {
		s.logger.Warn().Int64("query_id", id).Err(lookupErr).Msg("identity lookup failed")
		if s.metrics != nil {
			s.metrics.IdentityLookupErrors.Inc()
		}
	}
	if entry == nil {
		s.logger.Debug().Int64("query_id", id).Msg("query record unavailable, skipping")
		return false, nil
	}

	isNew := !s.reg.Has(entry.QueryID)
	s.reg.Upsert(entry)
	if isNew && s.metrics != nil {
		s.metrics.QueriesDiscovered.Inc()
		s.metrics.RegistrySize.Set(float64(s.reg.Len()))
	}
	return isNew, nil
}

// scanTick discovers and fetches the queries issued at one tick, skipping
// ids already tracked. Returns how many new entries were inserted.
func (s *Scanner) scanTick(tick uint32) (int, error) {
	ids, err := s.api.TickQueryIDs(tick)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.TicksScanned.Inc()
	}

	added := 0
	for _, id := range ids {
		if s.reg.Has(id) {
			continue
		}
		inserted, err := s.FetchAndInsert(id)
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
	}
	return added, nil
}
