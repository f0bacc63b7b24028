package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/altilium/altilium/bus"
	"github.com/altilium/altilium/logging"
	"github.com/altilium/altilium/resp"
	"github.com/altilium/altilium/store"
	"github.com/altilium/altilium/writer"
)

// harness wires a Handler to a running writer task over an in-memory
// bus, then hands one side of a net.Pipe to Handle while returning the
// client side to the test.
func harness(t *testing.T, requirePass string) (client net.Conn) {
	t.Helper()
	s := store.New()
	b := bus.New(16)
	sub := b.Subscribe("writer", true)

	w := writer.New(s)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx, sub)

	h := New(s, b, requirePass, 0, logging.Discard())

	serverConn, clientConn := net.Pipe()
	go h.Handle(context.Background(), serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return clientConn
}

func roundTrip(t *testing.T, conn net.Conn, req string) resp.Value {
	t.Helper()
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return readReply(t, conn)
}

func readReply(t *testing.T, conn net.Conn) resp.Value {
	t.Helper()
	buf := make([]byte, 4096)
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	v, _, status, err := resp.Decode(buf[:n])
	if status != resp.StatusComplete {
		t.Fatalf("decode reply: status=%v err=%v", status, err)
	}
	return v
}

func TestSetGetRoundTrip(t *testing.T) {
	conn := harness(t, "")

	reply := roundTrip(t, conn, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	if reply.Type != resp.TypeSimpleString || reply.Str != "OK" {
		t.Fatalf("SET reply = %+v", reply)
	}

	reply = roundTrip(t, conn, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")
	if reply.Type != resp.TypeBulkString || string(reply.Bulk) != "v" {
		t.Fatalf("GET reply = %+v", reply)
	}
}

func TestDelReportsAuthoritativeCount(t *testing.T) {
	conn := harness(t, "")

	roundTrip(t, conn, "*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n")
	roundTrip(t, conn, "*3\r\n$3\r\nSET\r\n$1\r\nb\r\n$1\r\n2\r\n")

	reply := roundTrip(t, conn, "*4\r\n$3\r\nDEL\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n")
	if reply.Type != resp.TypeInteger || reply.Int != 2 {
		t.Fatalf("DEL reply = %+v, want integer 2", reply)
	}
}

func TestHashLifecycle(t *testing.T) {
	conn := harness(t, "")

	reply := roundTrip(t, conn, "*4\r\n$4\r\nHSET\r\n$3\r\nu:1\r\n$4\r\nname\r\n$3\r\nBob\r\n")
	if reply.Int != 1 {
		t.Fatalf("first HSET reply = %+v, want 1", reply)
	}
	reply = roundTrip(t, conn, "*4\r\n$4\r\nHSET\r\n$3\r\nu:1\r\n$4\r\nname\r\n$3\r\nBob\r\n")
	if reply.Int != 0 {
		t.Fatalf("second HSET reply = %+v, want 0", reply)
	}
	reply = roundTrip(t, conn, "*3\r\n$4\r\nHGET\r\n$3\r\nu:1\r\n$4\r\nname\r\n")
	if string(reply.Bulk) != "Bob" {
		t.Fatalf("HGET reply = %+v, want Bob", reply)
	}
}

func TestAuthGate(t *testing.T) {
	conn := harness(t, "secret")

	reply := roundTrip(t, conn, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")
	if reply.Type != resp.TypeError {
		t.Fatalf("expected NOAUTH error before auth, got %+v", reply)
	}

	reply = roundTrip(t, conn, "*2\r\n$4\r\nAUTH\r\n$6\r\nsecret\r\n")
	if reply.Type != resp.TypeSimpleString || reply.Str != "OK" {
		t.Fatalf("AUTH reply = %+v", reply)
	}

	reply = roundTrip(t, conn, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")
	if reply.Type != resp.TypeBulkString || !reply.IsNull {
		t.Fatalf("GET after auth reply = %+v, want null bulk", reply)
	}
}

func TestAuthWrongPassword(t *testing.T) {
	conn := harness(t, "secret")

	reply := roundTrip(t, conn, "*2\r\n$4\r\nAUTH\r\n$5\r\nwrong\r\n")
	if reply.Type != resp.TypeError {
		t.Fatalf("expected WRONGPASS error, got %+v", reply)
	}
}

func TestPingEcho(t *testing.T) {
	conn := harness(t, "")

	reply := roundTrip(t, conn, "*1\r\n$4\r\nPING\r\n")
	if reply.Str != "PONG" {
		t.Fatalf("PING reply = %+v, want PONG", reply)
	}

	reply = roundTrip(t, conn, "*2\r\n$4\r\nPING\r\n$5\r\nhello\r\n")
	if reply.Str != "hello" {
		t.Fatalf("PING echo reply = %+v, want hello", reply)
	}
}

func TestWrongTypeReplies(t *testing.T) {
	conn := harness(t, "")

	roundTrip(t, conn, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	reply := roundTrip(t, conn, "*4\r\n$4\r\nHSET\r\n$1\r\nk\r\n$1\r\nf\r\n$1\r\nv\r\n")
	if reply.Type != resp.TypeError || !strings.HasPrefix(reply.Str, "WRONGTYPE") {
		t.Fatalf("HSET on a string reply = %+v, want WRONGTYPE error", reply)
	}

	roundTrip(t, conn, "*4\r\n$4\r\nHSET\r\n$1\r\nh\r\n$1\r\nf\r\n$1\r\nv\r\n")
	reply = roundTrip(t, conn, "*2\r\n$3\r\nGET\r\n$1\r\nh\r\n")
	if reply.Type != resp.TypeError || !strings.HasPrefix(reply.Str, "WRONGTYPE") {
		t.Fatalf("GET on a hash reply = %+v, want WRONGTYPE error", reply)
	}
}

func TestPipelinedSetThenGetObservesWrite(t *testing.T) {
	conn := harness(t, "")

	// Both frames arrive in one read; the GET's reply must observe the
	// SET that precedes it on the same connection.
	pipeline := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n" +
		"*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"
	if _, err := conn.Write([]byte(pipeline)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply := readReply(t, conn)
	if reply.Type != resp.TypeSimpleString || reply.Str != "OK" {
		t.Fatalf("SET reply = %+v", reply)
	}
	reply = readReply(t, conn)
	if reply.Type != resp.TypeBulkString || string(reply.Bulk) != "v" {
		t.Fatalf("pipelined GET reply = %+v, want v", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	conn := harness(t, "")

	reply := roundTrip(t, conn, "*1\r\n$5\r\nBOGUS\r\n")
	if reply.Type != resp.TypeError {
		t.Fatalf("expected error for unknown command, got %+v", reply)
	}
}
