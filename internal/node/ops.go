package node

import (
	"io"
	"net"

	"OracleMon/internal/errkind"
	"OracleMon/internal/wire"
)

// TickInfo fetches the node's current tick and epoch.
func (c *Client) TickInfo() (*wire.TickInfo, error) {
	var out *wire.TickInfo
	err := c.safeCall("tick_info", func(conn net.Conn, r io.Reader) error {
		if err := c.send(conn, wire.EncodeRequest(wire.TypeRequestTickInfo, nil)); err != nil {
			return err
		}
		frame, err := wire.ReadResponse(r)
		if err != nil {
			return err
		}
		if frame.Type != wire.TypeRespondTickInfo {
			return errkind.Newf(errkind.Protocol, "expected tick info response, got type %d", frame.Type)
		}
		info, ok := wire.DecodeTickInfo(frame.Payload)
		if !ok {
			return errkind.New(errkind.Protocol, "undersized tick info payload")
		}
		out = info
		return nil
	})
	return out, err
}

// TickRange fetches the ledger's first and current tick. This is the
// range/ids sub-request with a zero argument; TickQueryIDs is its sibling
// with a non-zero tick argument.
func (c *Client) TickRange() (*wire.TickRange, error) {
	var out *wire.TickRange
	err := c.safeCall("tick_range", func(conn net.Conn, r io.Reader) error {
		req := wire.EncodeRequest(wire.TypeRequestData, wire.EncodeDataRequest(wire.SubRequestRangeOrIDs, 0))
		if err := c.send(conn, req); err != nil {
			return err
		}
		frame, err := wire.ReadResponse(r)
		if err != nil {
			return err
		}
		if frame.Type != wire.TypeRespondData {
			return errkind.Newf(errkind.Protocol, "expected data response, got type %d", frame.Type)
		}
		rng, ok := wire.DecodeTickRange(frame.Payload)
		if !ok {
			return errkind.New(errkind.Protocol, "undersized tick range payload")
		}
		out = rng
		return nil
	})
	return out, err
}

// TickQueryIDs fetches the ids of all queries issued at the given tick.
// The tick must be non-zero; zero would be interpreted as a range request.
func (c *Client) TickQueryIDs(tick uint32) ([]int64, error) {
	if tick == 0 {
		return nil, errkind.New(errkind.Protocol, "tick 0 is reserved for the range request")
	}
	var out []int64
	err := c.safeCall("tick_query_ids", func(conn net.Conn, r io.Reader) error {
		req := wire.EncodeRequest(wire.TypeRequestData, wire.EncodeDataRequest(wire.SubRequestRangeOrIDs, uint64(tick)))
		if err := c.send(conn, req); err != nil {
			return err
		}
		ids, err := wire.ReadIDList(r)
		if err != nil {
			return err
		}
		out = ids
		return nil
	})
	return out, err
}

// PendingQueryIDs fetches the node's current list of pending query ids.
func (c *Client) PendingQueryIDs() ([]int64, error) {
	var out []int64
	err := c.safeCall("pending_query_ids", func(conn net.Conn, r io.Reader) error {
		req := wire.EncodeRequest(wire.TypeRequestData, wire.EncodeDataRequest(wire.SubRequestPendingIDs, 0))
		if err := c.send(conn, req); err != nil {
			return err
		}
		ids, err := wire.ReadIDList(r)
		if err != nil {
			return err
		}
		out = ids
		return nil
	})
	return out, err
}

// QueryDetail fetches the full multi-record detail for one query id.
// Returns a nil record when the node reports nothing for the id.
func (c *Client) QueryDetail(id int64) (*wire.QueryRecord, error) {
	var out *wire.QueryRecord
	err := c.safeCall("query_detail", func(conn net.Conn, r io.Reader) error {
		req := wire.EncodeRequest(wire.TypeRequestData, wire.EncodeDataRequest(wire.SubRequestQueryDetail, uint64(id)))
		if err := c.send(conn, req); err != nil {
			return err
		}
		rec, err := wire.ReadQueryRecord(r)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// Statistics fetches the node's authoritative query counters.
func (c *Client) Statistics() (*wire.Statistics, error) {
	var out *wire.Statistics
	err := c.safeCall("statistics", func(conn net.Conn, r io.Reader) error {
		req := wire.EncodeRequest(wire.TypeRequestData, wire.EncodeDataRequest(wire.SubRequestStatistics, 0))
		if err := c.send(conn, req); err != nil {
			return err
		}
		frame, err := wire.ReadResponse(r)
		if err != nil {
			return err
		}
		if frame.Type != wire.TypeRespondData {
			return errkind.Newf(errkind.Protocol, "expected data response, got type %d", frame.Type)
		}
		stats, ok := wire.DecodeStatistics(frame.Payload)
		if !ok {
			return errkind.New(errkind.Protocol, "undersized statistics payload")
		}
		out = stats
		return nil
	})
	return out, err
}
