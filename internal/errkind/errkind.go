package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies failures into the categories the retry and recovery paths
// dispatch on. Layers wrap their errors with a kind instead of relying on
// message contents.
type Kind int

const (
	Unknown Kind = iota

	// Transport covers connect timeouts, read timeouts, and mid-stream
	// disconnects. Recovered by reconnect-with-failover plus one retry.
	Transport

	// Protocol covers malformed or undersized payloads. Decoders return an
	// absent result; callers treat the record as unavailable.
	Protocol

	// Flood is raised when too many consecutive heartbeats arrive without a
	// substantive reply. Handled like a transport error by the retry wrapper.
	Flood

	// Persistence covers a corrupt or unreadable prior snapshot. Treated as
	// "no prior state".
	Persistence

	// External covers identity lookups and time-series forwarding. Logged
	// and ignored, never fatal to the monitoring loop.
	External
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Flood:
		return "flood"
	case Persistence:
		return "persistence"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches a kind to err. Returns nil for a nil err.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// New builds a kinded error from a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost kinded error in err's chain,
// or Unknown when none is present.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
