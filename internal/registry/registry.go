package registry

import (
	"sort"

	"github.com/rs/zerolog"
)

// ChangeFunc observes registry mutations: isNew marks first observation,
// prev is the status before a re-fetch replaced the entry.
type ChangeFunc func(e *QueryEntry, prev QueryStatus, isNew bool)

// Registry is the in-memory map of query id to entry: the single source of
// truth for what the monitor knows. Entries are never deleted, only updated
// in place. All access happens from the single scheduling loop, so no
// locking is required.
type Registry struct {
	entries map[int64]*QueryEntry

	// fetchedThisRun marks ids fetched live in this process lifetime, so a
	// later snapshot load never overwrites a fresher entry.
	fetchedThisRun map[int64]struct{}

	onChange ChangeFunc
	logger   zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		entries:        make(map[int64]*QueryEntry),
		fetchedThisRun: make(map[int64]struct{}),
		logger:         logger,
	}
}

// OnChange installs the mutation observer. Must be set before any Upsert.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.onChange = fn
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Has reports whether an id is tracked.
func (r *Registry) Has(id int64) bool {
	_, ok := r.entries[id]
	return ok
}

// Get returns the entry for an id.
func (r *Registry) Get(id int64) (*QueryEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Upsert records a freshly-fetched entry. A re-fetch replaces the stored
// entry entirely except that the original FirstSeen is preserved. Returns
// whether anything observable changed (new entry, status, reply, commits).
func (r *Registry) Upsert(e *QueryEntry) bool {
	prev, exists := r.entries[e.QueryID]
	r.fetchedThisRun[e.QueryID] = struct{}{}

	if !exists {
		r.entries[e.QueryID] = e
		if r.onChange != nil {
			r.onChange(e, StatusUnknown, true)
		}
		return true
	}

	e.FirstSeen = prev.FirstSeen
	r.entries[e.QueryID] = e

	changed := prev.Status != e.Status ||
		prev.TotalCommits != e.TotalCommits ||
		prev.AgreeingCommits != e.AgreeingCommits ||
		hasReply(e) != hasReply(prev)
	if changed && r.onChange != nil {
		r.onChange(e, prev.Status, false)
	}
	return changed
}

// LoadFromSnapshot merges previously-persisted entries. An id already
// fetched live this run keeps its fresh entry; everything else is taken
// as-is. Returns the number of entries adopted.
func (r *Registry) LoadFromSnapshot(entries []*QueryEntry) int {
	adopted := 0
	for _, e := range entries {
		if e == nil {
			continue
		}
		if _, fresh := r.fetchedThisRun[e.QueryID]; fresh {
			continue
		}
		r.entries[e.QueryID] = e
		adopted++
	}
	r.logger.Info().Int("adopted", adopted).Int("total", len(r.entries)).Msg("registry loaded from snapshot")
	return adopted
}

// Sorted returns all entries ordered by query id.
func (r *Registry) Sorted() []*QueryEntry {
	out := make([]*QueryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })
	return out
}

// NonTerminal returns the ids of entries whose status may still change,
// sorted for deterministic recheck order.
func (r *Registry) NonTerminal() []int64 {
	var ids []int64
	for id, e := range r.entries {
		if !e.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Ticks returns every tick carrying at least one known entry.
func (r *Registry) Ticks() []uint32 {
	seen := make(map[uint32]struct{})
	for _, e := range r.entries {
		seen[e.Tick] = struct{}{}
	}
	ticks := make([]uint32, 0, len(seen))
	for t := range seen {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

// SealCount returns how many entries carry a seal label.
func (r *Registry) SealCount() int {
	n := 0
	for _, e := range r.entries {
		if e.IsSeal {
			n++
		}
	}
	return n
}

// SenderBreakdown returns the per-sender entry counts.
func (r *Registry) SenderBreakdown() map[string]int {
	out := make(map[string]int)
	for _, e := range r.entries {
		out[e.Sender()]++
	}
	return out
}

func hasReply(e *QueryEntry) bool {
	if e.Price != nil {
		return e.Price.HasReply
	}
	return len(e.RawReply) > 0
}
