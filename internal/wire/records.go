package wire

import (
	"encoding/binary"
	"time"
)

// TickInfo is the node's current position on the ledger.
type TickInfo struct {
	Epoch uint16 `json:"epoch"`
	Tick  uint32 `json:"tick"`
}

const tickInfoSize = 8

// DecodeTickInfo decodes a current-tick-info payload. Returns false when the
// buffer is below the fixed layout size.
func DecodeTickInfo(b []byte) (*TickInfo, bool) {
	if len(b) < tickInfoSize {
		return nil, false
	}
	return &TickInfo{
		Epoch: binary.LittleEndian.Uint16(b[2:4]),
		Tick:  binary.LittleEndian.Uint32(b[4:8]),
	}, true
}

// Statistics is the node's authoritative query counters: a flat sequence of
// unsigned 64-bit values in fixed order. Used only to compute the expected
// total for gap detection, never merged into individual entries.
type Statistics struct {
	Pending       uint64 `json:"pending"`
	PendingCommit uint64 `json:"pendingCommit"`
	PendingReveal uint64 `json:"pendingReveal"`
	Success       uint64 `json:"success"`
	Timeout       uint64 `json:"timeout"`
	Unresolvable  uint64 `json:"unresolvable"`
	LatencySumMs  uint64 `json:"latencySumMs"`
	LatencyCount  uint64 `json:"latencyCount"`
}

const statisticsSize = 64

// DecodeStatistics decodes a statistics payload.
func DecodeStatistics(b []byte) (*Statistics, bool) {
	if len(b) < statisticsSize {
		return nil, false
	}
	u := func(i int) uint64 { return binary.LittleEndian.Uint64(b[i*8 : i*8+8]) }
	return &Statistics{
		Pending:       u(0),
		PendingCommit: u(1),
		PendingReveal: u(2),
		Success:       u(3),
		Timeout:       u(4),
		Unresolvable:  u(5),
		LatencySumMs:  u(6),
		LatencyCount:  u(7),
	}, true
}

// ExpectedTotal is the authoritative count of queries the ledger has ever
// accepted: terminal states plus currently pending.
func (s *Statistics) ExpectedTotal() uint64 {
	return s.Pending + s.Success + s.Timeout + s.Unresolvable
}

// TickRange is the ledger's first and current tick.
type TickRange struct {
	First   uint32 `json:"first"`
	Current uint32 `json:"current"`
}

const tickRangeSize = 8

// DecodeTickRange decodes a tick-range payload.
func DecodeTickRange(b []byte) (*TickRange, bool) {
	if len(b) < tickRangeSize {
		return nil, false
	}
	return &TickRange{
		First:   binary.LittleEndian.Uint32(b[0:4]),
		Current: binary.LittleEndian.Uint32(b[4:8]),
	}, true
}

// DecodeIDList unpacks a back-to-back sequence of signed 64-bit query ids.
// The count is implied by the payload length; trailing bytes short of a full
// id are ignored.
func DecodeIDList(b []byte) []int64 {
	n := len(b) / 8
	if n == 0 {
		return nil
	}
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(binary.LittleEndian.Uint64(b[i*8 : i*8+8]))
	}
	return ids
}

// QueryMetadata is the fixed-layout core record of one oracle query.
type QueryMetadata struct {
	QueryID         int64
	Type            byte
	Status          byte
	Flags           uint16
	Tick            uint32
	PublicKey       [32]byte
	Timeout         uint64
	InterfaceIndex  uint32
	SubscriptionID  uint32
	RevealTick      uint32
	TotalCommits    uint16
	AgreeingCommits uint16
}

const queryMetadataSize = 72

// DecodeQueryMetadata decodes a query metadata record at its fixed offsets.
func DecodeQueryMetadata(b []byte) (*QueryMetadata, bool) {
	if len(b) < queryMetadataSize {
		return nil, false
	}
	m := &QueryMetadata{
		QueryID:         int64(binary.LittleEndian.Uint64(b[0:8])),
		Type:            b[8],
		Status:          b[9],
		Flags:           binary.LittleEndian.Uint16(b[10:12]),
		Tick:            binary.LittleEndian.Uint32(b[12:16]),
		Timeout:         binary.LittleEndian.Uint64(b[48:56]),
		InterfaceIndex:  binary.LittleEndian.Uint32(b[56:60]),
		SubscriptionID:  binary.LittleEndian.Uint32(b[60:64]),
		RevealTick:      binary.LittleEndian.Uint32(b[64:68]),
		TotalCommits:    binary.LittleEndian.Uint16(b[68:70]),
		AgreeingCommits: binary.LittleEndian.Uint16(b[70:72]),
	}
	copy(m.PublicKey[:], b[16:48])
	return m, true
}

// QueryPayload is the tagged decode result of an interface-specific query
// payload: PriceQuery, MockQuery, or RawQuery for unrecognized interfaces.
type QueryPayload interface {
	payloadKind()
}

// PriceQuery is the interface-0 payload: a request for the price of a
// currency pair at a point in time, answered by a named oracle.
type PriceQuery struct {
	OracleName    string
	RequestedAt   time.Time
	BaseCurrency  string
	QuoteCurrency string
}

// MockQuery is the interface-1 payload: a single opaque test value.
type MockQuery struct {
	Value uint64
}

// RawQuery keeps the payload of an unrecognized interface as-is.
type RawQuery struct {
	Data []byte
}

func (*PriceQuery) payloadKind() {}
func (*MockQuery) payloadKind()  {}
func (*RawQuery) payloadKind()   {}

const priceQuerySize = 32 + 8 + 32 + 32

// DecodePriceQuery decodes the interface-0 query payload: 32-byte oracle
// name, packed date/time bitfield, two 32-byte currency codes. ASCII fields
// are trimmed of trailing zero padding.
func DecodePriceQuery(b []byte) (*PriceQuery, bool) {
	if len(b) < priceQuerySize {
		return nil, false
	}
	return &PriceQuery{
		OracleName:    trimZeroPadded(b[0:32]),
		RequestedAt:   UnpackTimestamp(binary.LittleEndian.Uint64(b[32:40])),
		BaseCurrency:  trimZeroPadded(b[40:72]),
		QuoteCurrency: trimZeroPadded(b[72:104]),
	}, true
}

const mockQuerySize = 8

// DecodeMockQuery decodes the interface-1 query payload.
func DecodeMockQuery(b []byte) (*MockQuery, bool) {
	if len(b) < mockQuerySize {
		return nil, false
	}
	return &MockQuery{Value: binary.LittleEndian.Uint64(b[0:8])}, true
}

// DecodeQueryPayload selects the payload decoder by interface index. A
// payload too short for its recognized interface, or any unrecognized
// interface, falls back to RawQuery.
func DecodeQueryPayload(interfaceIndex uint32, b []byte) QueryPayload {
	switch interfaceIndex {
	case 0:
		if p, ok := DecodePriceQuery(b); ok {
			return p
		}
	case 1:
		if p, ok := DecodeMockQuery(b); ok {
			return p
		}
	}
	return &RawQuery{Data: b}
}

// PriceReply is the interface-0 reply: a rational price.
type PriceReply struct {
	Numerator   int64 `json:"numerator"`
	Denominator int64 `json:"denominator"`
}

const priceReplySize = 16

// DecodePriceReply decodes a numerator/denominator reply.
func DecodePriceReply(b []byte) (*PriceReply, bool) {
	if len(b) < priceReplySize {
		return nil, false
	}
	return &PriceReply{
		Numerator:   int64(binary.LittleEndian.Uint64(b[0:8])),
		Denominator: int64(binary.LittleEndian.Uint64(b[8:16])),
	}, true
}

// Price returns the decoded price, or 0 when the denominator is 0.
func (r *PriceReply) Price() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}

// Packed date/time bitfield, MSB-first: year 17 bits, month 4, day 5,
// hour 5, minute 6, second 6. The low 21 bits are unused.
const (
	tsYearShift   = 47
	tsMonthShift  = 43
	tsDayShift    = 38
	tsHourShift   = 33
	tsMinuteShift = 27
	tsSecondShift = 21
)

// UnpackTimestamp decodes the packed date/time bitfield into a UTC time.
// A zero month marks an unset timestamp and decodes to the zero time.
func UnpackTimestamp(v uint64) time.Time {
	year := int(v >> tsYearShift)
	month := int(v >> tsMonthShift & 0xF)
	day := int(v >> tsDayShift & 0x1F)
	hour := int(v >> tsHourShift & 0x1F)
	minute := int(v >> tsMinuteShift & 0x3F)
	second := int(v >> tsSecondShift & 0x3F)
	if month == 0 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
}

// PackTimestamp is the inverse of UnpackTimestamp.
func PackTimestamp(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	t = t.UTC()
	return uint64(t.Year())<<tsYearShift |
		uint64(t.Month())<<tsMonthShift |
		uint64(t.Day())<<tsDayShift |
		uint64(t.Hour())<<tsHourShift |
		uint64(t.Minute())<<tsMinuteShift |
		uint64(t.Second())<<tsSecondShift
}

func trimZeroPadded(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
