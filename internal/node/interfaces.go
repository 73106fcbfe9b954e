package node

import "OracleMon/internal/wire"

// API is the set of ledger operations the scanner, the reconciliation
// engine, and the monitor loop consume. *Client implements it against a
// live node; tests substitute in-memory fakes.
type API interface {
	// TickInfo returns the node's current tick and epoch.
	TickInfo() (*wire.TickInfo, error)

	// TickRange returns the ledger's first and current tick.
	TickRange() (*wire.TickRange, error)

	// TickQueryIDs returns the ids of all queries issued at one tick.
	TickQueryIDs(tick uint32) ([]int64, error)

	// PendingQueryIDs returns the node's current list of pending query ids.
	PendingQueryIDs() ([]int64, error)

	// QueryDetail fetches the full record for one query id. A nil record
	// with a nil error means the node has no data for the id.
	QueryDetail(id int64) (*wire.QueryRecord, error)

	// Statistics returns the node's authoritative query counters.
	Statistics() (*wire.Statistics, error)
}
