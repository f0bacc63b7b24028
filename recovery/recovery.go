// Package recovery rebuilds a store's contents at startup, before the
// listener binds: load the snapshot if one exists and verifies, then
// replay the append-only file on top of it.
package recovery

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/altilium/altilium/command"
	"github.com/altilium/altilium/logging"
	"github.com/altilium/altilium/resp"
	"github.com/altilium/altilium/snapshot"
	"github.com/altilium/altilium/store"
	"github.com/altilium/altilium/writer"
)

// Load populates s from snapshotPath and aofPath, in that order. A
// missing snapshot or AOF is not an error; a snapshot that fails its
// checksum is logged and skipped, falling back to the AOF alone. A
// parse failure in the middle of the AOF is fatal. A truncated final
// AOF frame is discarded.
func Load(s *store.Store, snapshotPath, aofPath string, log logging.Logger) error {
	records, err := snapshot.Load(snapshotPath)
	switch {
	case err == nil:
		s.LoadSnapshot(records)
		log.Info("loaded snapshot", "records", len(records))
	case errors.Is(err, os.ErrNotExist):
		log.Info("no snapshot file, starting from an empty store")
	case errors.Is(err, snapshot.ErrCorrupt):
		log.Warn("snapshot checksum mismatch, recovering from the append-only log alone")
	default:
		return fmt.Errorf("recovery: loading snapshot: %w", err)
	}

	n, err := replayAOF(s, aofPath, log)
	if err != nil {
		return fmt.Errorf("recovery: replaying append-only log: %w", err)
	}
	log.Info("replayed append-only log", "commands", n)
	return nil
}

func replayAOF(s *store.Store, path string, log logging.Logger) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := writer.New(s)
	now := time.Now()

	var buf []byte
	chunk := make([]byte, 64*1024)
	applied := 0

	for {
		n, readErr := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				v, consumed, status, decodeErr := resp.Decode(buf)
				if status == resp.StatusIncomplete {
					break
				}
				if status == resp.StatusMalformed {
					return applied, fmt.Errorf("malformed frame: %w", decodeErr)
				}
				if v.Type != resp.TypeArray || v.IsNull {
					return applied, fmt.Errorf("append-only frame is not a command array")
				}
				cmd, perr := command.Parse(v.Elems, now)
				if perr != nil {
					return applied, fmt.Errorf("parsing replayed command: %w", perr)
				}
				w.Apply(cmd)
				applied++
				buf = buf[consumed:]
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				if len(buf) > 0 {
					log.Warn("discarding truncated final append-only frame", "bytes", len(buf))
				}
				return applied, nil
			}
			return applied, readErr
		}
	}
}
