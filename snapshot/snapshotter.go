package snapshot

import (
	"context"
	"time"

	"github.com/altilium/altilium/logging"
	"github.com/altilium/altilium/store"
)

// Snapshotter periodically dumps a store's contents to disk. A failed
// attempt leaves the previous snapshot on disk untouched and is
// retried on the next tick.
type Snapshotter struct {
	store    *store.Store
	path     string
	interval time.Duration
	log      logging.Logger
}

// NewSnapshotter builds a Snapshotter that writes s to path every
// interval.
func NewSnapshotter(s *store.Store, path string, interval time.Duration, log logging.Logger) *Snapshotter {
	return &Snapshotter{store: s, path: path, interval: interval, log: log}
}

// Run blocks, writing a snapshot on every tick, until ctx is
// cancelled.
func (sn *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(sn.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sn.snapshotOnce()
		}
	}
}

func (sn *Snapshotter) snapshotOnce() {
	records := sn.store.Snapshot()
	if err := Write(sn.path, records); err != nil {
		sn.log.Warn("snapshot write failed, keeping the previous snapshot", "err", err)
		return
	}
	sn.log.Debug("wrote snapshot", "records", len(records))
}
