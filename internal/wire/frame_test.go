package wire_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"OracleMon/internal/errkind"
	"OracleMon/internal/wire"
)

func frameBytes(msgType byte, payload []byte) []byte {
	total := wire.HeaderSize + len(payload)
	buf := make([]byte, total)
	buf[0] = byte(total)
	buf[1] = byte(total >> 8)
	buf[2] = byte(total >> 16)
	buf[3] = msgType
	copy(buf[wire.HeaderSize:], payload)
	return buf
}

func TestEncodeRequestRoundTrip(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	encoded := wire.EncodeRequest(wire.TypeRequestData, payload)

	if len(encoded) != wire.HeaderSize+len(payload) {
		t.Fatalf("encoded length: got %d, want %d", len(encoded), wire.HeaderSize+len(payload))
	}

	frame, err := wire.ReadFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != wire.TypeRequestData {
		t.Errorf("type: got %d, want %d", frame.Type, wire.TypeRequestData)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload: got %x, want %x", frame.Payload, payload)
	}
}

func TestEncodeRequestEmptyPayload(t *testing.T) {
	encoded := wire.EncodeRequest(wire.TypeRequestTickInfo, nil)
	if len(encoded) != wire.HeaderSize {
		t.Fatalf("encoded length: got %d, want %d", len(encoded), wire.HeaderSize)
	}

	frame, err := wire.ReadFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(frame.Payload) != 0 {
		t.Errorf("payload length: got %d, want 0", len(frame.Payload))
	}
}

func TestEncodeDataRequestLayout(t *testing.T) {
	buf := wire.EncodeDataRequest(wire.SubRequestQueryDetail, 42)
	if len(buf) != 12 {
		t.Fatalf("length: got %d, want 12", len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != wire.SubRequestQueryDetail {
		t.Errorf("sub code: got %d, want %d", got, wire.SubRequestQueryDetail)
	}
	if got := binary.LittleEndian.Uint64(buf[4:12]); got != 42 {
		t.Errorf("arg: got %d, want 42", got)
	}
}

func TestReadFrameRejectsImpossibleLength(t *testing.T) {
	// Header declares a total below the header size itself.
	buf := []byte{3, 0, 0, wire.TypeRespondData, 0, 0, 0, 0}
	_, err := wire.ReadFrame(bytes.NewReader(buf))
	if err == nil {
		t.Fatal("expected error for undersized declared length")
	}
	if !errkind.Is(err, errkind.Protocol) {
		t.Errorf("error kind: got %v, want protocol", errkind.KindOf(err))
	}
}

func TestReadResponseSkipsHeartbeats(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		stream.Write(frameBytes(wire.TypeHeartbeat, nil))
	}
	stream.Write(frameBytes(wire.TypeRespondTickInfo, []byte{1, 2, 3, 4, 5, 6, 7, 8}))

	frame, err := wire.ReadResponse(&stream)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if frame.Type != wire.TypeRespondTickInfo {
		t.Errorf("type: got %d, want %d", frame.Type, wire.TypeRespondTickInfo)
	}
}

func TestReadResponseHeartbeatFlood(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < wire.MaxHeartbeatSkips+1; i++ {
		stream.Write(frameBytes(wire.TypeHeartbeat, nil))
	}

	_, err := wire.ReadResponse(&stream)
	if err == nil {
		t.Fatal("expected flood error")
	}
	if !errkind.Is(err, errkind.Flood) {
		t.Errorf("error kind: got %v, want flood", errkind.KindOf(err))
	}
}

func TestReadResponseExactlyAtSkipLimit(t *testing.T) {
	// One fewer heartbeat than the limit must still succeed.
	var stream bytes.Buffer
	for i := 0; i < wire.MaxHeartbeatSkips-1; i++ {
		stream.Write(frameBytes(wire.TypeHeartbeat, nil))
	}
	stream.Write(frameBytes(wire.TypeEndResponse, nil))

	frame, err := wire.ReadResponse(&stream)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if frame.Type != wire.TypeEndResponse {
		t.Errorf("type: got %d, want %d", frame.Type, wire.TypeEndResponse)
	}
}
