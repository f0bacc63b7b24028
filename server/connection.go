// Package server implements the per-connection protocol handler: the
// Unauthenticated/Authenticated/Closing state machine, command
// dispatch against the store and bus, and reply encoding.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/altilium/altilium/bus"
	"github.com/altilium/altilium/command"
	"github.com/altilium/altilium/logging"
	"github.com/altilium/altilium/resp"
	"github.com/altilium/altilium/store"
	"github.com/altilium/altilium/writer"
)

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
)

// Handler dispatches every accepted connection's commands against a
// shared store and bus. It implements tcp.Handler.
type Handler struct {
	store       *store.Store
	bus         *bus.Bus
	requirePass string
	idleTimeout time.Duration
	log         logging.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// New builds a Handler. requirePass empty means no authentication is
// required — every connection starts Authenticated. idleTimeout of 0
// disables the per-read deadline.
func New(s *store.Store, b *bus.Bus, requirePass string, idleTimeout time.Duration, log logging.Logger) *Handler {
	return &Handler{
		store:       s,
		bus:         b,
		requirePass: requirePass,
		idleTimeout: idleTimeout,
		log:         log,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Close stops accepting new work and closes every tracked connection
// at once. It does not wait for a write in progress on a connection to
// finish; closing the socket interrupts it.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.conns {
		_ = c.Close()
	}
	return nil
}

func (h *Handler) track(c net.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Handler) untrack(c net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Handle reads, decodes, dispatches, and replies to every command a
// connection sends until it disconnects, errors, or is closed.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if !h.track(conn) {
		return
	}
	defer h.untrack(conn)

	state := stateUnauthenticated
	if h.requirePass == "" {
		state = stateAuthenticated
	}

	var buf []byte
	chunk := make([]byte, 4096)

	for {
		if h.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
				return
			}
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				v, consumed, status, decodeErr := resp.Decode(buf)
				if status == resp.StatusIncomplete {
					break
				}
				if status == resp.StatusMalformed {
					_, _ = conn.Write(resp.Encode(resp.Error("ERR Protocol error: " + decodeErr.Error())))
					return
				}
				buf = buf[consumed:]

				reply := h.dispatch(ctx, &state, v)
				if _, werr := conn.Write(resp.Encode(reply)); werr != nil {
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Debug("connection read error", "remote", conn.RemoteAddr().String(), "err", err)
			}
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, state *connState, v resp.Value) resp.Value {
	if v.Type != resp.TypeArray || v.IsNull {
		return resp.Error("ERR Protocol error: expected array")
	}
	cmd, err := command.Parse(v.Elems, time.Now())
	if err != nil {
		return resp.Error(protocolMessage(err))
	}

	if *state == stateUnauthenticated && cmd.Kind != command.Ping && cmd.Kind != command.Auth {
		return resp.Error("NOAUTH Authentication required")
	}

	switch cmd.Kind {
	case command.Ping:
		if cmd.Echo != nil {
			return resp.SimpleString(string(cmd.Echo))
		}
		return resp.SimpleString("PONG")

	case command.Auth:
		if h.requirePass == "" {
			return resp.Error("ERR Client sent AUTH, but no password is set")
		}
		if subtle.ConstantTimeCompare([]byte(cmd.Auth), []byte(h.requirePass)) == 1 {
			*state = stateAuthenticated
			return resp.SimpleString("OK")
		}
		return resp.Error("WRONGPASS invalid password")

	case command.Get:
		val, ok, err := h.store.Get(cmd.Key)
		if err != nil {
			return wrongTypeOrErr(err)
		}
		if !ok {
			return resp.NullBulk()
		}
		return resp.BulkString(val)

	case command.Set:
		// Waiting for the writer's outcome, not just publication, is
		// what gives this connection read-your-writes: a pipelined GET
		// decoded right behind this SET must observe it.
		if _, err := h.publishForReply(ctx, cmd); err != nil {
			return resp.Error("ERR " + err.Error())
		}
		return resp.SimpleString("OK")

	case command.HGet:
		val, ok, err := h.store.HGet(cmd.Key, cmd.Field)
		if err != nil {
			return wrongTypeOrErr(err)
		}
		if !ok {
			return resp.NullBulk()
		}
		return resp.BulkString(val)

	case command.HSet, command.HDel:
		// Reject a key already holding a string before publishing, so
		// the doomed command never reaches the bus or the append-only
		// log. The writer's outcome still carries the authoritative
		// verdict for the window where another connection changes the
		// key's type between this check and the apply.
		if typ := h.store.Type(cmd.Key); typ != "none" && typ != "hash" {
			return resp.Error(store.ErrWrongType.Error())
		}
		out, err := h.publishForReply(ctx, cmd)
		if err != nil {
			return resp.Error("ERR " + err.Error())
		}
		if out.WrongType {
			return resp.Error(store.ErrWrongType.Error())
		}
		return resp.Integer(out.N)

	case command.Del:
		out, err := h.publishForReply(ctx, cmd)
		if err != nil {
			return resp.Error("ERR " + err.Error())
		}
		return resp.Integer(out.N)

	case command.Expire:
		out, err := h.publishForReply(ctx, cmd)
		if err != nil {
			return resp.Error("ERR " + err.Error())
		}
		return resp.Integer(out.N)

	case command.Keys:
		matches := h.store.Keys(cmd.Pattern)
		elems := make([]resp.Value, len(matches))
		for i, m := range matches {
			elems[i] = resp.BulkString(m)
		}
		return resp.Array(elems)

	case command.TypeOf:
		return resp.SimpleString(h.store.Type(cmd.Key))

	case command.TTL, command.PTTL:
		ttl, hasExpiry, ok := h.store.TTL(cmd.Key)
		if !ok {
			return resp.Integer(-2)
		}
		if !hasExpiry {
			return resp.Integer(-1)
		}
		if cmd.Kind == command.PTTL {
			return resp.Integer(ttl.Milliseconds())
		}
		return resp.Integer(int64(ttl.Seconds()))

	default:
		return resp.Error("ERR unknown command")
	}
}

// publishForReply publishes a mutating command and waits for the
// writer's authoritative outcome, rather than answering from a
// pre-publication read of the store. Every mutating command routes
// through here: the reply value matters for DEL/HSET/HDEL/EXPIRE, and
// the wait itself matters for all of them, since replying before the
// apply would let the same connection read stale state right after
// its own write.
func (h *Handler) publishForReply(ctx context.Context, cmd command.Command) (command.Outcome, error) {
	cmd.Reply = make(chan command.Outcome, 1)
	if err := h.bus.Publish(ctx, cmd); err != nil {
		return command.Outcome{}, err
	}
	select {
	case out := <-cmd.Reply:
		return out, nil
	case <-time.After(writer.ReplyTimeout):
		return command.Outcome{}, fmt.Errorf("timed out waiting for writer reply")
	case <-ctx.Done():
		return command.Outcome{}, ctx.Err()
	}
}

func wrongTypeOrErr(err error) resp.Value {
	if errors.Is(err, store.ErrWrongType) {
		return resp.Error(store.ErrWrongType.Error())
	}
	return resp.Error("ERR " + err.Error())
}

func protocolMessage(err error) string {
	if errors.Is(err, command.ErrProtocol) {
		return "ERR " + trimProtocolPrefix(err.Error())
	}
	return "ERR " + err.Error()
}

func trimProtocolPrefix(msg string) string {
	const prefix = "protocol error: "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
