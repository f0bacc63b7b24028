// Command altilium runs the Altilium server: it loads configuration,
// recovers store state from disk, and serves the RESP protocol over
// TCP until a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/altilium/altilium/aof"
	"github.com/altilium/altilium/bus"
	"github.com/altilium/altilium/command"
	"github.com/altilium/altilium/config"
	"github.com/altilium/altilium/expire"
	"github.com/altilium/altilium/logging"
	"github.com/altilium/altilium/recovery"
	"github.com/altilium/altilium/server"
	"github.com/altilium/altilium/snapshot"
	"github.com/altilium/altilium/store"
	"github.com/altilium/altilium/tcp"
	"github.com/altilium/altilium/writer"
)

// Exit codes: 0 clean shutdown, 1 configuration error, 2 recovery
// failure, 3 fatal runtime error.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitRecoveryFailed = 2
	exitFatalRuntime   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	s := store.New()
	if err := recovery.Load(s, cfg.SnapshotPath, cfg.AOFPath, log); err != nil {
		log.Error("recovery failed", "err", err)
		return exitRecoveryFailed
	}

	b := bus.New(cfg.BusCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := writer.New(s)
	writerSub := b.Subscribe("writer", true)
	go w.Run(ctx, writerSub)

	s.SetLazyExpireHook(func(key string) {
		_ = b.Publish(ctx, expireDelCommand(key))
	})

	aofWriter, err := aof.Open(cfg.AOFPath, cfg.AOFFsync, log.With("component", "aof"))
	if err != nil {
		log.Error("failed to open append-only file", "err", err)
		return exitFatalRuntime
	}
	aofSub := b.Subscribe("aof", true)
	go aofWriter.Run(ctx, aofSub)
	go func() {
		if err := <-aofWriter.Fatal(); err != nil {
			log.Error("append-only file write failed, exiting", "err", err)
			os.Exit(exitFatalRuntime)
		}
	}()

	sweeper := expire.New(s, b, log.With("component", "sweeper"), cfg.ExpireTick, cfg.SweepSampleSize, cfg.SweepDeadline)
	go sweeper.Run(ctx)

	snapshotter := snapshot.NewSnapshotter(s, cfg.SnapshotPath, cfg.SnapshotInterval, log.With("component", "snapshot"))
	go snapshotter.Run(ctx)

	handler := server.New(s, b, cfg.RequirePass, cfg.IdleTimeout, log.With("component", "server"))

	if err := tcp.ListenAndServeWithSignal(&tcp.Config{Address: cfg.Addr()}, handler, log); err != nil {
		log.Error("listener failed", "err", err)
		return exitFatalRuntime
	}

	cancel()
	b.Close()
	if err := aofWriter.Close(); err != nil {
		log.Error("failed to close append-only file cleanly", "err", err)
	}
	log.Info("shut down cleanly")
	return exitOK
}

// expireDelCommand builds the Del command a lazy-expire read publishes
// so the key's removal goes through the same writer and AOF path as a
// client-issued DEL.
func expireDelCommand(key string) command.Command {
	return command.Command{
		Kind: command.Del,
		Keys: []string{key},
		Raw:  [][]byte{[]byte("DEL"), []byte(key)},
	}
}
