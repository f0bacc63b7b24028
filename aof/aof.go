// Package aof implements the append-only file writer: it subscribes to
// the command bus and durably records every mutating command in RESP
// wire form so the store's history can be replayed after a restart.
package aof

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/altilium/altilium/bus"
	"github.com/altilium/altilium/command"
	"github.com/altilium/altilium/config"
	"github.com/altilium/altilium/logging"
	"github.com/altilium/altilium/resp"
)

// Writer appends every command it is delivered to a file, in delivery
// order, applying the configured fsync policy.
type Writer struct {
	file   *os.File
	policy config.FsyncPolicy
	log    logging.Logger

	mu    sync.Mutex
	dirty bool

	fatal chan error
}

// Open opens (creating if necessary) the append-only file and returns
// a Writer ready to Run against a bus subscription.
func Open(path string, policy config.FsyncPolicy, log logging.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("aof: open %s: %w", path, err)
	}
	return &Writer{file: f, policy: policy, log: log, fatal: make(chan error, 1)}, nil
}

// Fatal reports an unrecoverable write failure to the supervisor,
// which exits rather than continue without a durable log.
func (w *Writer) Fatal() <-chan error { return w.fatal }

// Run consumes sub until the bus closes it or ctx is cancelled,
// appending each command's wire form and fsyncing per policy. The
// caller must subscribe with critical=true: a lagged AOF subscriber
// would silently break the guarantee that replaying the log
// reproduces the live store.
func (w *Writer) Run(ctx context.Context, sub *bus.Subscription) {
	if w.policy == config.FsyncEverySec {
		stop := make(chan struct{})
		go w.runEverysecFsync(stop)
		defer close(stop)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-sub.Commands():
			if !ok {
				return
			}
			if err := w.append(cmd); err != nil {
				w.log.Error("aof append failed", "err", err)
				select {
				case w.fatal <- err:
				default:
				}
				return
			}
		}
	}
}

func (w *Writer) append(cmd command.Command) error {
	bytes := resp.EncodeCommand(cmd.AOFForm()...)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(bytes); err != nil {
		return fmt.Errorf("aof: write: %w", err)
	}
	switch w.policy {
	case config.FsyncAlways:
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("aof: fsync: %w", err)
		}
	case config.FsyncEverySec:
		w.dirty = true
	case config.FsyncNo:
		// leave flushing to the OS
	}
	return nil
}

func (w *Writer) runEverysecFsync(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			w.flushIfDirty()
			return
		case <-ticker.C:
			w.flushIfDirty()
		}
	}
}

func (w *Writer) flushIfDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty {
		return
	}
	if err := w.file.Sync(); err != nil {
		w.log.Warn("aof background fsync failed", "err", err)
		return
	}
	w.dirty = false
}

// Close flushes any pending fsync and closes the file, used during
// graceful shutdown.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirty || w.policy != config.FsyncNo {
		_ = w.file.Sync()
	}
	return w.file.Close()
}
