package node

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"OracleMon/internal/errkind"
	"OracleMon/internal/wire"

	"github.com/rs/zerolog"
)

func testClient(nodes []string) *Client {
	c := NewClient(nodes, zerolog.Nop(), nil)
	c.sleep = func(time.Duration) {}
	return c
}

// readRequest consumes one request frame from the server side of a pipe.
func readRequest(t *testing.T, conn net.Conn) *wire.Frame {
	t.Helper()
	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Errorf("server read header: %v", err)
		return nil
	}
	total := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	payload := make([]byte, total-wire.HeaderSize)
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Errorf("server read payload: %v", err)
		return nil
	}
	return &wire.Frame{Type: header[3], Payload: payload}
}

func writeFrame(conn net.Conn, msgType byte, payload []byte) {
	conn.Write(wire.EncodeRequest(msgType, payload))
}

func tickInfoPayload(epoch uint16, tick uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[2:4], epoch)
	binary.LittleEndian.PutUint32(buf[4:8], tick)
	return buf
}

func TestEnsureConnectedFailsOverInOrder(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var dialed []string
	c := testClient([]string{"dead:1", "alive:2"})
	c.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		dialed = append(dialed, addr)
		if addr == "dead:1" {
			return nil, errors.New("connection refused")
		}
		return client, nil
	}

	if err := c.EnsureConnected(); err != nil {
		t.Fatalf("ensure connected: %v", err)
	}
	if len(dialed) != 2 || dialed[0] != "dead:1" || dialed[1] != "alive:2" {
		t.Errorf("dial order: got %v", dialed)
	}

	// Already connected: no further dialing.
	if err := c.EnsureConnected(); err != nil {
		t.Fatalf("ensure connected again: %v", err)
	}
	if len(dialed) != 2 {
		t.Errorf("redundant dials: got %v", dialed)
	}
}

func TestEnsureConnectedPoolExhausted(t *testing.T) {
	c := testClient([]string{"a:1", "b:2"})
	c.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		return nil, errors.New("refused")
	}

	err := c.EnsureConnected()
	if !errors.Is(err, ErrAllNodesUnreachable) {
		t.Fatalf("got %v, want ErrAllNodesUnreachable", err)
	}
	if !errkind.Is(err, errkind.Transport) {
		t.Errorf("error kind: got %v, want transport", errkind.KindOf(err))
	}
}

func TestTickInfoRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := testClient([]string{"n:1"})
	c.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		return client, nil
	}

	go func() {
		req := readRequest(t, server)
		if req == nil {
			return
		}
		if req.Type != wire.TypeRequestTickInfo {
			t.Errorf("request type: got %d, want %d", req.Type, wire.TypeRequestTickInfo)
		}
		writeFrame(server, wire.TypeRespondTickInfo, tickInfoPayload(142, 987654))
	}()

	info, err := c.TickInfo()
	if err != nil {
		t.Fatalf("tick info: %v", err)
	}
	if info.Epoch != 142 || info.Tick != 987654 {
		t.Errorf("got %+v, want epoch 142 tick 987654", info)
	}
}

func TestSafeCallRetriesOnceAfterDisconnect(t *testing.T) {
	// First connection dies mid-read; the client must reconnect once and
	// succeed on the second connection.
	c1Client, c1Server := net.Pipe()
	c2Client, c2Server := net.Pipe()
	defer c2Client.Close()
	defer c2Server.Close()

	conns := []net.Conn{c1Client, c2Client}
	slept := 0

	c := testClient([]string{"n:1"})
	c.sleep = func(time.Duration) { slept++ }
	c.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		conn := conns[0]
		conns = conns[1:]
		return conn, nil
	}

	go func() {
		// First server accepts the request then drops the connection.
		readRequest(t, c1Server)
		c1Server.Close()

		// Second server answers properly.
		req := readRequest(t, c2Server)
		if req == nil {
			return
		}
		writeFrame(c2Server, wire.TypeRespondTickInfo, tickInfoPayload(7, 100))
	}()

	info, err := c.TickInfo()
	if err != nil {
		t.Fatalf("tick info after retry: %v", err)
	}
	if info.Tick != 100 {
		t.Errorf("tick: got %d, want 100", info.Tick)
	}
	if slept != 1 {
		t.Errorf("backoff sleeps: got %d, want 1", slept)
	}
}

func TestSafeCallDoesNotRetryProtocolErrors(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dials := 0
	c := testClient([]string{"n:1"})
	c.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		dials++
		return client, nil
	}

	go func() {
		req := readRequest(t, server)
		if req == nil {
			return
		}
		// Wrong response type for a tick info request.
		writeFrame(server, wire.TypeRespondData, make([]byte, 8))
	}()

	_, err := c.TickInfo()
	if err == nil {
		t.Fatal("expected protocol error")
	}
	if !errkind.Is(err, errkind.Protocol) {
		t.Errorf("error kind: got %v, want protocol", errkind.KindOf(err))
	}
	if dials != 1 {
		t.Errorf("dials: got %d, want 1 (no retry)", dials)
	}
}

func TestStatisticsRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := testClient([]string{"n:1"})
	c.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		return client, nil
	}

	go func() {
		req := readRequest(t, server)
		if req == nil {
			return
		}
		if req.Type != wire.TypeRequestData {
			t.Errorf("request type: got %d, want %d", req.Type, wire.TypeRequestData)
		}
		sub := binary.LittleEndian.Uint32(req.Payload[0:4])
		if sub != wire.SubRequestStatistics {
			t.Errorf("sub code: got %d, want %d", sub, wire.SubRequestStatistics)
		}
		payload := make([]byte, 64)
		binary.LittleEndian.PutUint64(payload[0:8], 3)   // pending
		binary.LittleEndian.PutUint64(payload[24:32], 9) // success
		writeFrame(server, wire.TypeRespondData, payload)
	}()

	stats, err := c.Statistics()
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if got := stats.ExpectedTotal(); got != 12 {
		t.Errorf("expected total: got %d, want 12", got)
	}
}

func TestQueryDetailMultiRecord(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := testClient([]string{"n:1"})
	c.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		return client, nil
	}

	meta := make([]byte, 72)
	binary.LittleEndian.PutUint64(meta[0:8], 321)
	meta[9] = 3 // success

	go func() {
		req := readRequest(t, server)
		if req == nil {
			return
		}
		id := binary.LittleEndian.Uint64(req.Payload[4:12])
		if id != 321 {
			t.Errorf("requested id: got %d, want 321", id)
		}
		writeFrame(server, wire.TypeRespondData, append([]byte{wire.RecordMetadata}, meta...))
		writeFrame(server, wire.TypeRespondData, append([]byte{wire.RecordQueryData}, []byte("payload")...))
		writeFrame(server, wire.TypeEndResponse, nil)
	}()

	rec, err := c.QueryDetail(321)
	if err != nil {
		t.Fatalf("query detail: %v", err)
	}
	if rec == nil || rec.Metadata == nil {
		t.Fatal("expected record with metadata")
	}
	if rec.Metadata.QueryID != 321 {
		t.Errorf("query id: got %d, want 321", rec.Metadata.QueryID)
	}
	if string(rec.QueryData) != "payload" {
		t.Errorf("query data: got %q", rec.QueryData)
	}
}

func TestTickQueryIDsRejectsTickZero(t *testing.T) {
	c := testClient([]string{"n:1"})
	_, err := c.TickQueryIDs(0)
	if err == nil {
		t.Fatal("expected error for tick 0")
	}
	if !errkind.Is(err, errkind.Protocol) {
		t.Errorf("error kind: got %v, want protocol", errkind.KindOf(err))
	}
}
