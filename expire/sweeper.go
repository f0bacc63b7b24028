// Package expire runs the background expiration sweeper: it samples
// keys with a deadline, checks which have actually expired, and
// publishes Del commands through the bus so expiry goes through the
// same single-writer path as a client-issued delete.
package expire

import (
	"context"
	"time"

	"github.com/altilium/altilium/bus"
	"github.com/altilium/altilium/command"
	"github.com/altilium/altilium/logging"
	"github.com/altilium/altilium/store"
)

// Sweeper periodically samples the store for expired keys and
// publishes their removal.
type Sweeper struct {
	store *store.Store
	bus   *bus.Bus
	log   logging.Logger

	tick       time.Duration
	sampleSize int
	deadline   time.Duration
}

// New builds a Sweeper. tick is how often a sweep round runs;
// sampleSize bounds how many keys with a deadline are inspected per
// round; deadline bounds the wall-clock time a single round may take,
// so a large keyspace doesn't monopolize the sweeper goroutine.
func New(s *store.Store, b *bus.Bus, log logging.Logger, tick time.Duration, sampleSize int, deadline time.Duration) *Sweeper {
	return &Sweeper{store: s, bus: b, log: log, tick: tick, sampleSize: sampleSize, deadline: deadline}
}

// Run blocks, sweeping on every tick, until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.sweepOnce(ctx)
		}
	}
}

func (sw *Sweeper) sweepOnce(ctx context.Context) {
	deadline := time.Now().Add(sw.deadline)
	candidates := sw.store.SampleForSweep(sw.sampleSize)
	for _, key := range candidates {
		if time.Now().After(deadline) {
			return
		}
		if !sw.store.IsExpired(key) {
			continue
		}
		cmd := command.Command{
			Kind: command.Del,
			Keys: []string{key},
			Raw:  [][]byte{[]byte("DEL"), []byte(key)},
		}
		if err := sw.bus.Publish(ctx, cmd); err != nil {
			sw.log.Warn("sweeper publish failed", "key", key, "err", err)
			return
		}
	}
}
