// Package writer implements the single writer task: the only
// goroutine allowed to call the store's Apply* methods. It consumes
// commands from its own critical bus subscription (so it can never
// lag) and applies each one, keeping every mutation on one total
// order.
package writer

import (
	"context"
	"time"

	"github.com/altilium/altilium/bus"
	"github.com/altilium/altilium/command"
	"github.com/altilium/altilium/store"
)

// ReplyTimeout bounds how long a connection handler waits for a
// command's reply channel before treating the writer as stuck.
const ReplyTimeout = 5 * time.Second

// Writer owns the store's write path.
type Writer struct {
	store *store.Store
}

// New builds a Writer bound to s.
func New(s *store.Store) *Writer {
	return &Writer{store: s}
}

// Run consumes sub until the bus closes it or ctx is cancelled,
// applying every command in delivery order and resolving its Reply
// channel, if any, with the authoritative outcome.
func (w *Writer) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-sub.Commands():
			if !ok {
				return
			}
			w.apply(cmd)
		}
	}
}

// Apply mutates the store for a single command without touching its
// Reply channel. The recovery loader uses this to replay an AOF
// through the same logic the live writer uses, without a reply
// channel or a bus in the picture.
func (w *Writer) Apply(cmd command.Command) {
	switch cmd.Kind {
	case command.Set:
		w.store.ApplySet(cmd.Key, cmd.Value, cmd.Expiry)
	case command.HSet:
		w.store.ApplyHSet(cmd.Key, cmd.Field, cmd.Value)
	case command.HDel:
		w.store.ApplyHDel(cmd.Key, cmd.Field)
	case command.Del:
		w.store.ApplyDel(cmd.Keys...)
	case command.Expire:
		w.store.ApplyExpire(cmd.Key, cmd.Expiry)
	}
}

// apply mutates the store and, if the command carries a Reply
// channel, sends the authoritative outcome: DEL's removed count,
// HSET/HDEL/EXPIRE's boolean result as 0 or 1, and whether the store
// rejected the command because the key holds the wrong kind of value.
// A connection handler waiting on this channel must not answer the
// client from a snapshot taken before publication, since other
// commands may already be queued ahead of it on the bus.
func (w *Writer) apply(cmd command.Command) {
	var out command.Outcome
	switch cmd.Kind {
	case command.Set:
		w.store.ApplySet(cmd.Key, cmd.Value, cmd.Expiry)
	case command.HSet:
		created, wrongType := w.store.ApplyHSet(cmd.Key, cmd.Field, cmd.Value)
		out.WrongType = wrongType
		if created {
			out.N = 1
		}
	case command.HDel:
		removed, wrongType := w.store.ApplyHDel(cmd.Key, cmd.Field)
		out.WrongType = wrongType
		if removed {
			out.N = 1
		}
	case command.Del:
		out.N = int64(w.store.ApplyDel(cmd.Keys...))
	case command.Expire:
		if w.store.ApplyExpire(cmd.Key, cmd.Expiry) {
			out.N = 1
		}
	}
	if cmd.Reply != nil {
		cmd.Reply <- out
	}
}
