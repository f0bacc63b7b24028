// Package bus implements the command bus: a bounded
// multi-producer, multi-consumer broadcast channel carrying committed
// mutating commands from connection handlers to the writer task and
// the AOF writer, in publication order.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/altilium/altilium/command"
)

// DefaultCapacity is the per-subscriber channel capacity.
const DefaultCapacity = 1024

// ErrLagged describes a lagged subscription. The bus itself never
// returns or sends it: callers observe lag by selecting on Lagged()
// rather than reading an error value, since the channel that would
// carry it is exactly the one that overflowed.
var ErrLagged = fmt.Errorf("bus: subscriber lagged past capacity")

// Subscription is one consumer's view of the bus.
type Subscription struct {
	name     string
	critical bool
	ch       chan command.Command
	lagged   chan struct{}
	closeOne sync.Once
}

// Commands returns the channel of delivered commands. It is closed
// after Lagged fires or after Bus.Close.
func (s *Subscription) Commands() <-chan command.Command { return s.ch }

// Lagged is closed exactly once if this subscriber ever fell behind
// by more than the bus capacity. A lagging subscriber must stop
// trusting its view of history and rebuild from a fresh snapshot.
func (s *Subscription) Lagged() <-chan struct{} { return s.lagged }

func (s *Subscription) signalLag() {
	s.closeOne.Do(func() {
		close(s.lagged)
		close(s.ch)
	})
}

// Bus broadcasts mutating commands to every live subscriber in
// publication order. Publish is
// itself the serialization point: only one Publish runs at a time, so
// two commands accepted by different connection handlers still reach
// every non-lagging subscriber in a single, total order.
type Bus struct {
	mu       sync.Mutex
	capacity int
	subs     []*Subscription
	closed   bool
}

// New creates a Bus with the given per-subscriber capacity. A
// capacity of 0 or less uses DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{capacity: capacity}
}

// Subscribe registers a new consumer. If critical is true, Publish
// applies backpressure (blocks) to keep this subscriber from ever
// lagging; the writer and AOF tasks subscribe this way, since neither
// may miss a mutation. Non-critical subscribers are dropped and
// signalled via Lagged if they fall behind by more than the bus
// capacity.
func (b *Bus) Subscribe(name string, critical bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{
		name:     name,
		critical: critical,
		ch:       make(chan command.Command, b.capacity),
		lagged:   make(chan struct{}),
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes a subscriber, e.g. after it has rebuilt from a
// snapshot and no longer needs (or wants) further delivery under the
// old subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers cmd to every live subscriber in registration
// order, applying backpressure for critical subscribers and dropping
// (with a Lagged signal) non-critical subscribers whose buffer is
// full. It returns ctx.Err() if the context is cancelled while
// blocked on a critical subscriber's backpressure.
func (b *Bus) Publish(ctx context.Context, cmd command.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bus: closed")
	}

	live := make([]*Subscription, 0, len(b.subs))
	for i, sub := range b.subs {
		if sub.critical {
			select {
			case sub.ch <- cmd:
			case <-ctx.Done():
				// Leave every subscriber from i onward, including sub
				// itself, in the live set: the send to sub never
				// happened, and nothing past it was touched either.
				b.subs = append(live, b.subs[i:]...)
				return ctx.Err()
			}
			live = append(live, sub)
			continue
		}
		select {
		case sub.ch <- cmd:
			live = append(live, sub)
		default:
			sub.signalLag()
			// dropped: not appended to live
		}
	}
	b.subs = live
	return nil
}

// Close shuts down every subscriber's channel without signalling lag;
// used during graceful shutdown once no more commands will publish.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
