package testutil

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/udisondev/jeuxgo/internal/protocol"
)

// GameClient is a test helper speaking the Jeux wire protocol over a real
// connection.  All reads and writes carry a deadline so a misbehaving server
// fails the test instead of hanging it.
type GameClient struct {
	t    testing.TB
	conn net.Conn
}

// NewGameClient connects to the server at addr.
// The connection is closed automatically when the test finishes.
func NewGameClient(t testing.TB, addr string) *GameClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dialing %s: %v", addr, err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return &GameClient{t: t, conn: NewConnWithDeadline(conn, 5*time.Second)}
}

// WrapConn builds a GameClient around an existing connection.
func WrapConn(t testing.TB, conn net.Conn) *GameClient {
	t.Helper()
	return &GameClient{t: t, conn: NewConnWithDeadline(conn, 5*time.Second)}
}

// Close closes the client's connection before the test ends.
func (gc *GameClient) Close() {
	_ = gc.conn.Close()
}

// Send writes one request packet, failing the test on error.
func (gc *GameClient) Send(hdr protocol.Header, payload []byte) {
	gc.t.Helper()
	if err := protocol.WritePacket(gc.conn, hdr, payload); err != nil {
		gc.t.Fatalf("sending %s: %v", hdr.Type, err)
	}
}

// Recv reads the next packet, failing the test on error.
func (gc *GameClient) Recv() (protocol.Header, []byte) {
	gc.t.Helper()
	hdr, payload, err := protocol.ReadPacket(gc.conn)
	if err != nil {
		gc.t.Fatalf("reading packet: %v", err)
	}
	return hdr, payload
}

// Expect reads the next packet and fails the test unless it has the given
// type.
func (gc *GameClient) Expect(want protocol.PacketType) (protocol.Header, []byte) {
	gc.t.Helper()
	hdr, payload := gc.Recv()
	if hdr.Type != want {
		gc.t.Fatalf("expected %s, got %s (payload %q)", want, hdr.Type, payload)
	}
	return hdr, payload
}

// Login sends LOGIN for name and expects an ACK.
func (gc *GameClient) Login(name string) {
	gc.t.Helper()
	gc.Send(protocol.Header{Type: protocol.Login}, []byte(name))
	gc.Expect(protocol.Ack)
}

// Invite sends INVITE for target playing targetRole and returns the
// invitation id assigned by the server.
func (gc *GameClient) Invite(target string, targetRole uint8) int {
	gc.t.Helper()
	gc.Send(protocol.Header{Type: protocol.Invite, Role: targetRole}, []byte(target))
	hdr, _ := gc.Expect(protocol.Ack)
	return int(hdr.ID)
}

// Users sends USERS and returns the listing from the ACK payload.
func (gc *GameClient) Users() string {
	gc.t.Helper()
	gc.Send(protocol.Header{Type: protocol.Users}, nil)
	_, payload := gc.Expect(protocol.Ack)
	return string(payload)
}

// WaitForTCPReady ждёт пока TCP сервер станет доступен (polling с timeout).
// Используется вместо time.Sleep для синхронизации в тестах.
func WaitForTCPReady(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for server at %s: %w", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
