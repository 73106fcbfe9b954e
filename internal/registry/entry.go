package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueryType classifies how a query was issued.
type QueryType uint8

const (
	TypeContract QueryType = iota
	TypeSubscription
	TypeUser
)

// TypeFromByte maps the wire type byte. Unmapped values fall back to
// contract, the wire default.
func TypeFromByte(b byte) QueryType {
	switch b {
	case 1:
		return TypeSubscription
	case 2:
		return TypeUser
	default:
		return TypeContract
	}
}

func (t QueryType) String() string {
	switch t {
	case TypeSubscription:
		return "subscription"
	case TypeUser:
		return "user"
	default:
		return "contract"
	}
}

func (t QueryType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *QueryType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "contract":
		*t = TypeContract
	case "subscription":
		*t = TypeSubscription
	case "user":
		*t = TypeUser
	default:
		return fmt.Errorf("unknown query type %q", s)
	}
	return nil
}

// QueryStatus is the query's lifecycle state as reported by the node.
// Transitions are observed, never inferred locally.
type QueryStatus uint8

const (
	StatusUnknown QueryStatus = iota
	StatusPending
	StatusCommitted
	StatusSuccess
	StatusTimeout
	StatusUnresolvable
)

// StatusFromByte maps the wire status byte. Unmapped values are unknown.
func StatusFromByte(b byte) QueryStatus {
	if b >= 1 && b <= 5 {
		return QueryStatus(b)
	}
	return StatusUnknown
}

// Terminal reports whether the status can never change again.
func (s QueryStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusTimeout, StatusUnresolvable:
		return true
	}
	return false
}

func (s QueryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusUnresolvable:
		return "unresolvable"
	default:
		return "unknown"
	}
}

func (s QueryStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *QueryStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch str {
	case "unknown":
		*s = StatusUnknown
	case "pending":
		*s = StatusPending
	case "committed":
		*s = StatusCommitted
	case "success":
		*s = StatusSuccess
	case "timeout":
		*s = StatusTimeout
	case "unresolvable":
		*s = StatusUnresolvable
	default:
		return fmt.Errorf("unknown query status %q", str)
	}
	return nil
}

// Named condition flags decoded from the wire bitmask. Purely descriptive;
// they never drive transitions.
const (
	flagOracleInvalid   = 1 << 0
	flagReplyReceived   = 1 << 1
	flagCommitsDisagree = 1 << 2
	flagRevealMissed    = 1 << 3
)

// DecodeStatusFlags expands the bitmask into flag names. Unknown bits are
// preserved as hex so nothing the node reports is silently dropped.
func DecodeStatusFlags(mask uint16) []string {
	if mask == 0 {
		return nil
	}
	var flags []string
	if mask&flagOracleInvalid != 0 {
		flags = append(flags, "oracle_invalid")
	}
	if mask&flagReplyReceived != 0 {
		flags = append(flags, "reply_received")
	}
	if mask&flagCommitsDisagree != 0 {
		flags = append(flags, "commits_disagree")
	}
	if mask&flagRevealMissed != 0 {
		flags = append(flags, "reveal_missed")
	}
	if rest := mask &^ (flagOracleInvalid | flagReplyReceived | flagCommitsDisagree | flagRevealMissed); rest != 0 {
		flags = append(flags, fmt.Sprintf("0x%04x", rest))
	}
	return flags
}

// Designated oracle labels flagged as seals downstream. A labeling
// convention, not a protocol concept.
var sealLabels = map[string]string{
	"SEAL":     "seal",
	"SEALTEST": "seal-test",
	"SEALUSD":  "seal-usd",
}

// SealLabel returns the seal tag for an oracle name, or "" for all others.
func SealLabel(oracleName string) string {
	return sealLabels[oracleName]
}

// PriceData is the decoded interface-0 view of a query: what was asked and,
// once a reply is observed, the rational price it resolved to.
type PriceData struct {
	OracleName    string    `json:"oracleName"`
	RequestedAt   time.Time `json:"requestedAt"`
	BaseCurrency  string    `json:"baseCurrency"`
	QuoteCurrency string    `json:"quoteCurrency"`
	Numerator     int64     `json:"numerator,omitempty"`
	Denominator   int64     `json:"denominator,omitempty"`
	Price         float64   `json:"price,omitempty"`
	HasReply      bool      `json:"hasReply,omitempty"`
}

// Pair is the label used by the time-series store, e.g. "BTC/USD".
func (p *PriceData) Pair() string {
	return p.BaseCurrency + "/" + p.QuoteCurrency
}

// ReplyGuess is the heuristic numerator/denominator decode attempted on
// replies of unrecognized interfaces. Never authoritative.
type ReplyGuess struct {
	Numerator   int64 `json:"numerator"`
	Denominator int64 `json:"denominator"`
}

// QueryEntry is one oracle query as tracked by the monitor. QueryID, Tick,
// Type, and InterfaceIndex are immutable after first observation; status,
// flags, reply, commits, and sender identity may change on recheck.
type QueryEntry struct {
	QueryID        int64       `json:"queryId"`
	Tick           uint32      `json:"tick"`
	Type           QueryType   `json:"type"`
	Status         QueryStatus `json:"status"`
	StatusFlags    []string    `json:"statusFlags,omitempty"`
	InterfaceIndex uint32      `json:"interfaceIndex"`

	// Exactly one of the three payload views is set, selected by the
	// interface index.
	Price      *PriceData `json:"price,omitempty"`
	MockValue  *uint64    `json:"mockValue,omitempty"`
	RawPayload []byte     `json:"rawPayload,omitempty"`

	RawReply      []byte      `json:"rawReply,omitempty"`
	RawReplyGuess *ReplyGuess `json:"rawReplyGuess,omitempty"`

	SenderIdentity  string `json:"senderIdentity,omitempty"`
	SenderPublicKey string `json:"senderPublicKey"`

	SubscriptionID  uint32 `json:"subscriptionId,omitempty"`
	RevealTick      uint32 `json:"revealTick,omitempty"`
	TimeoutAt       uint64 `json:"timeoutAt,omitempty"`
	TotalCommits    uint16 `json:"totalCommits"`
	AgreeingCommits uint16 `json:"agreeingCommits"`

	IsSeal   bool   `json:"isSeal,omitempty"`
	SealName string `json:"sealName,omitempty"`

	// Monitor-local observation times, not ledger data.
	FirstSeen   time.Time `json:"firstSeen"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Sender returns the best label for who issued the query: the resolved
// identity when available, else the public key.
func (e *QueryEntry) Sender() string {
	if e.SenderIdentity != "" {
		return e.SenderIdentity
	}
	return e.SenderPublicKey
}
