package reconcile

import (
	"OracleMon/internal/node"
	"OracleMon/internal/observability"
	"OracleMon/internal/registry"
	"OracleMon/internal/scanner"
	"OracleMon/internal/wire"

	"github.com/rs/zerolog"
)

const (
	// clusterRadius groups known entry ticks into one cluster when they lie
	// within this many ticks of each other.
	clusterRadius = 100

	// clusterPad widens each cluster on both sides before re-scanning.
	clusterPad = 10
)

// TickSpan is a closed [Start, End] tick interval.
type TickSpan struct {
	Start uint32
	End   uint32
}

func (s TickSpan) contains(o TickSpan) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// Engine recovers query entries the incremental scan missed. It compares
// the registry against the node's authoritative expected total and, when
// short, probes the pending-id list and re-scans clustered neighborhoods of
// previously-seen ticks. Every re-scanned range is recorded so it is never
// rescanned again within the process lifetime.
type Engine struct {
	api     node.API
	reg     *registry.Registry
	scanner *scanner.Scanner

	scanned []TickSpan

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a reconciliation engine.
func New(api node.API, reg *registry.Registry, sc *scanner.Scanner, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		api:     api,
		reg:     reg,
		scanner: sc,
		logger:  logger,
		metrics: metrics,
	}
}

// Run performs one reconciliation pass against the given statistics.
// Returns the number of entries recovered and the residual deficit. A
// residual deficit is expected when missing queries fall outside every tick
// this process has ever observed.
func (e *Engine) Run(stats *wire.Statistics) (int, int64, error) {
	deficit := e.deficit(stats)
	if deficit <= 0 {
		e.setDeficitGauge(0)
		return 0, 0, nil
	}

	e.logger.Info().
		Int64("deficit", deficit).
		Uint64("expected", stats.ExpectedTotal()).
		Int("known", e.reg.Len()).
		Msg("registry behind authoritative total, reconciling")

	recovered, err := e.probePending()
	if err != nil {
		return recovered, e.deficit(stats), err
	}

	if e.deficit(stats) > 0 {
		n, err := e.rescanClusters(stats)
		recovered += n
		if err != nil {
			return recovered, e.deficit(stats), err
		}
	}

	residual := e.deficit(stats)
	if residual < 0 {
		residual = 0
	}
	e.setDeficitGauge(residual)
	if e.metrics != nil && recovered > 0 {
		e.metrics.GapRecovered.Add(float64(recovered))
	}

	if residual > 0 {
		e.logger.Warn().
			Int64("residual_deficit", residual).
			Int("recovered", recovered).
			Msg("reconciliation could not recover all missing queries")
	} else if recovered > 0 {
		e.logger.Info().Int("recovered", recovered).Msg("reconciliation recovered all missing queries")
	}
	return recovered, residual, nil
}

// probePending fetches the node's pending-id list and inserts any unknown
// ids. Cheap, and catches in-flight queries the tick scan has not reached.
func (e *Engine) probePending() (int, error) {
	ids, err := e.api.PendingQueryIDs()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		if e.reg.Has(id) {
			continue
		}
		inserted, err := e.scanner.FetchAndInsert(id)
		if err != nil {
			return recovered, err
		}
		if inserted {
			recovered++
			if e.metrics != nil {
				e.metrics.PendingProbeHits.Inc()
			}
		}
	}
	return recovered, nil
}

// rescanClusters re-walks padded neighborhoods of every tick carrying known
// entries, skipping spans already covered by an earlier gap fill, and stops
// as soon as the deficit reaches zero.
func (e *Engine) rescanClusters(stats *wire.Statistics) (int, error) {
	recovered := 0
	for _, span := range Clusters(e.reg.Ticks()) {
		if e.covered(span) {
			continue
		}
		remaining := e.deficit(stats)
		if remaining <= 0 {
			break
		}
		e.scanned = append(e.scanned, span)
		e.logger.Debug().
			Uint32("from", span.Start).
			Uint32("to", span.End).
			Int64("remaining", remaining).
			Msg("gap-fill rescan")
		if e.metrics != nil {
			e.metrics.ClusterRescans.Inc()
		}

		n, err := e.scanner.Rescan(span.Start, span.End, int(remaining))
		recovered += n
		if err != nil {
			return recovered, err
		}
	}
	return recovered, nil
}

// Clusters groups ticks lying within clusterRadius of each other and pads
// each group by clusterPad on both sides. Input must be sorted ascending.
func Clusters(ticks []uint32) []TickSpan {
	if len(ticks) == 0 {
		return nil
	}

	var spans []TickSpan
	start, end := ticks[0], ticks[0]
	for _, t := range ticks[1:] {
		if t-end <= clusterRadius {
			end = t
			continue
		}
		spans = append(spans, pad(start, end))
		start, end = t, t
	}
	spans = append(spans, pad(start, end))
	return spans
}

func pad(start, end uint32) TickSpan {
	if start > clusterPad {
		start -= clusterPad
	} else {
		start = 1
	}
	return TickSpan{Start: start, End: end + clusterPad}
}

// covered reports whether span was already fully re-scanned this run.
func (e *Engine) covered(span TickSpan) bool {
	for _, s := range e.scanned {
		if s.contains(span) {
			return true
		}
	}
	return false
}

func (e *Engine) deficit(stats *wire.Statistics) int64 {
	return int64(stats.ExpectedTotal()) - int64(e.reg.Len())
}

func (e *Engine) setDeficitGauge(v int64) {
	if e.metrics != nil {
		e.metrics.GapDeficit.Set(float64(v))
	}
}
