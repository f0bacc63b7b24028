package tcp

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/altilium/altilium/logging"
)

type countingHandler struct {
	handled int32
	closed  int32
}

func (h *countingHandler) Handle(ctx context.Context, conn net.Conn) {
	atomic.AddInt32(&h.handled, 1)
	conn.Close()
}

func (h *countingHandler) Close() error {
	atomic.AddInt32(&h.closed, 1)
	return nil
}

func TestListenAndServeAcceptsConnections(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	handler := &countingHandler{}
	closeChan := make(chan struct{})

	done := make(chan struct{})
	go func() {
		ListenAndServe(listener, handler, closeChan, logging.Discard())
		close(done)
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&handler.handled) == 0 {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&handler.handled) != 1 {
		t.Fatalf("handled = %d, want 1", handler.handled)
	}

	close(closeChan)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ListenAndServe did not return after closeChan fired")
	}
	if atomic.LoadInt32(&handler.closed) < 1 {
		t.Fatalf("closed = %d, want at least 1", handler.closed)
	}
}
