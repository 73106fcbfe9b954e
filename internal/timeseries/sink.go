package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"OracleMon/internal/errkind"
	"OracleMon/internal/observability"
	"OracleMon/internal/registry"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DebounceWindow suppresses repeat writes of an unchanged price for the
// same pair. A changed price always writes immediately.
const DebounceWindow = 30 * time.Second

// Open connects to the price-history Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.External, fmt.Errorf("open price store: %w", err))
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errkind.Wrap(errkind.External, fmt.Errorf("ping price store: %w", err))
	}
	return db, nil
}

type lastWrite struct {
	price float64
	at    time.Time
}

// PriceSink forwards resolved oracle prices into the oracle_prices table.
// Forwarding is best-effort: a failed insert is logged and counted, never
// fatal, and the debounce state still advances so a flapping database does
// not multiply rows once it recovers.
type PriceSink struct {
	db        *sql.DB
	sourceTag string

	last map[string]lastWrite

	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPriceSink(db *sql.DB, sourceTag string, logger zerolog.Logger, metrics *observability.Metrics) *PriceSink {
	return &PriceSink{
		db:        db,
		sourceTag: sourceTag,
		last:      make(map[string]lastWrite),
		now:       time.Now,
		logger:    logger,
		metrics:   metrics,
	}
}

// Forward writes one resolved price row unless the per-pair debounce
// suppresses it. Only successful price-interface entries with a positive
// price qualify; everything else is ignored.
func (s *PriceSink) Forward(ctx context.Context, e *registry.QueryEntry, epoch uint16) {
	if e == nil || e.Price == nil || !e.Price.HasReply {
		return
	}
	if e.Status != registry.StatusSuccess || e.Price.Price <= 0 {
		return
	}
	pair := e.Price.Pair()
	now := s.now()

	if !s.shouldWrite(pair, e.Price.Price, now) {
		if s.metrics != nil {
			s.metrics.ForwardDebounced.Inc()
		}
		return
	}
	s.last[pair] = lastWrite{price: e.Price.Price, at: now}

	if err := s.insert(ctx, e, pair, epoch, now); err != nil {
		s.logger.Warn().
			Str("pair", pair).
			Int64("query_id", e.QueryID).
			Err(err).
			Msg("price forward failed")
		if s.metrics != nil {
			s.metrics.ForwardErrors.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.ForwardWrites.Inc()
	}
}

// shouldWrite applies the debounce: an unseen pair or a changed price
// always writes; an unchanged price writes only after DebounceWindow.
func (s *PriceSink) shouldWrite(pair string, price float64, now time.Time) bool {
	prev, ok := s.last[pair]
	if !ok {
		return true
	}
	if prev.price != price {
		return true
	}
	return now.Sub(prev.at) >= DebounceWindow
}

func (s *PriceSink) insert(ctx context.Context, e *registry.QueryEntry, pair string, epoch uint16, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oracle_prices
			(oracle_name, pair_label, price, numerator, denominator, tick, epoch, source_tag, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.Price.OracleName, pair, e.Price.Price, e.Price.Numerator, e.Price.Denominator,
		e.Tick, int(epoch), s.sourceTag, now)
	if err != nil {
		return errkind.Wrap(errkind.External, err)
	}
	return nil
}
