package wire

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"OracleMon/internal/errkind"
)

// Message type codes on the node wire protocol.
const (
	TypeHeartbeat       = 0  // no-op chatter, skipped while waiting for a reply
	TypeRequestTickInfo = 27 // get current tick/epoch
	TypeRespondTickInfo = 28
	TypeRequestData     = 66 // generic "get data", disambiguated by sub-request code
	TypeRespondData     = 67
	TypeEndResponse     = 35 // terminates a multi-record response
)

// Sub-request codes embedded in TypeRequestData payloads.
const (
	SubRequestRangeOrIDs  = 0 // tick range (arg 0) or id list at tick (arg = tick)
	SubRequestPendingIDs  = 4
	SubRequestQueryDetail = 5
	SubRequestStatistics  = 7
)

// Record kind discriminants on multi-record TypeRespondData payloads.
const (
	RecordIDList    = 0
	RecordMetadata  = 1
	RecordQueryData = 2
	RecordReplyData = 3
)

const (
	// HeaderSize is the fixed frame header: 3 bytes little-endian total
	// length, 1 byte message type, 4 bytes opaque fill.
	HeaderSize = 8

	// MaxFrameSize is the largest length the 3-byte header can declare.
	MaxFrameSize = 1<<24 - 1

	// MaxHeartbeatSkips bounds how many consecutive heartbeat frames are
	// discarded before the read fails with a flood error.
	MaxHeartbeatSkips = 15
)

// Frame is one decoded wire frame.
type Frame struct {
	Type    byte
	Payload []byte
}

// EncodeRequest builds one request frame for the given message type. A nil
// or empty payload is valid (e.g. "get current tick"). The 4 fill bytes are
// random and carry no meaning; correlation relies on request-then-response
// ordering.
func EncodeRequest(msgType byte, payload []byte) []byte {
	total := HeaderSize + len(payload)
	frame := make([]byte, total)
	frame[0] = byte(total)
	frame[1] = byte(total >> 8)
	frame[2] = byte(total >> 16)
	frame[3] = msgType
	rand.Read(frame[4:8])
	copy(frame[HeaderSize:], payload)
	return frame
}

// EncodeDataRequest builds the payload for a TypeRequestData frame: a
// little-endian uint32 sub-request code followed by a uint64 argument.
func EncodeDataRequest(subCode uint32, arg uint64) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], subCode)
	binary.LittleEndian.PutUint64(buf[4:12], arg)
	return buf
}

// ReadFrame reads exactly one frame: the 8 header bytes, then the declared
// payload. Transport-level read failures pass through from the reader;
// an impossible declared length is a protocol error.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	total := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	if total < HeaderSize {
		return nil, errkind.Newf(errkind.Protocol, "frame declares length %d, below header size", total)
	}

	payload := make([]byte, total-HeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Frame{Type: header[3], Payload: payload}, nil
}

// ReadResponse reads frames until a substantive (non-heartbeat) frame
// arrives. After MaxHeartbeatSkips consecutive heartbeats it gives up with
// a flood error so the caller is not held hostage by unrelated chatter.
func ReadResponse(r io.Reader) (*Frame, error) {
	for skipped := 0; ; skipped++ {
		if skipped >= MaxHeartbeatSkips {
			return nil, errkind.Newf(errkind.Flood, "%d consecutive heartbeats without a reply", skipped)
		}
		frame, err := ReadFrame(r)
		if err != nil {
			return nil, err
		}
		if frame.Type == TypeHeartbeat {
			continue
		}
		return frame, nil
	}
}
