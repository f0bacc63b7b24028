// Package snapshot writes and loads whole-state dumps of the store: a
// versioned, checksummed text format that the recovery loader can
// verify before trusting it, falling back to append-only replay alone
// if the file is missing or corrupt.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/altilium/altilium/store"
)

const (
	header  = "ALTILIUM-SNAPSHOT v1"
	typeStr = "string"
	typeMap = "hash"
)

// Write serializes records to path atomically: it writes to a
// sibling ".tmp" file, fsyncs, then renames over path so a reader
// never observes a half-written snapshot.
func Write(path string, records []store.Record) error {
	var body bytes.Buffer
	for _, r := range records {
		line, err := encodeRecord(r)
		if err != nil {
			return fmt.Errorf("snapshot: encode %q: %w", r.Key, err)
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	checksum := xxhash.Sum64(body.Bytes())

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s checksum=%016x\n", header, checksum); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: write records: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}
	return nil
}

// ErrCorrupt is returned when a snapshot's checksum does not match its
// contents; the caller falls back to append-only replay alone.
var ErrCorrupt = fmt.Errorf("snapshot: checksum mismatch")

// Load reads and verifies the snapshot at path, returning the decoded
// records. A missing file is reported via the wrapped os error so
// callers can distinguish "no snapshot yet" from corruption.
func Load(path string) ([]store.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("snapshot: empty file")
	}
	wantChecksum, err := parseHeader(scanner.Text())
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}

	if xxhash.Sum64(body.Bytes()) != wantChecksum {
		return nil, ErrCorrupt
	}

	records := make([]store.Record, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		r, err := decodeRecord(line)
		if err != nil {
			return nil, fmt.Errorf("snapshot: decode record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

func parseHeader(line string) (uint64, error) {
	prefix := header + " checksum="
	if !strings.HasPrefix(line, prefix) {
		return 0, fmt.Errorf("snapshot: unrecognised header %q", line)
	}
	return strconv.ParseUint(strings.TrimPrefix(line, prefix), 16, 64)
}

func encodeRecord(r store.Record) (string, error) {
	expiry := "*"
	if !r.Expiry.IsZero() {
		expiry = strconv.FormatInt(r.Expiry.UnixMilli(), 10)
	}
	key := hex.EncodeToString([]byte(r.Key))

	switch r.Value.Kind {
	case store.KindString:
		return fmt.Sprintf("%s\t%s\t%s\t%s", key, typeStr, hex.EncodeToString(r.Value.Str), expiry), nil
	case store.KindHash:
		pairs := make([]string, 0, len(r.Value.Hash))
		for field, val := range r.Value.Hash {
			pairs = append(pairs, hex.EncodeToString([]byte(field))+"="+hex.EncodeToString(val))
		}
		return fmt.Sprintf("%s\t%s\t%s\t%s", key, typeMap, strings.Join(pairs, ","), expiry), nil
	default:
		return "", fmt.Errorf("unsupported value kind %v", r.Value.Kind)
	}
}

func decodeRecord(line string) (store.Record, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 4 {
		return store.Record{}, fmt.Errorf("expected 4 tab-separated fields, got %d", len(fields))
	}
	keyBytes, err := hex.DecodeString(fields[0])
	if err != nil {
		return store.Record{}, fmt.Errorf("key: %w", err)
	}

	var expiry time.Time
	if fields[3] != "*" {
		millis, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return store.Record{}, fmt.Errorf("expiry: %w", err)
		}
		expiry = time.UnixMilli(millis)
	}

	var val store.Value
	switch fields[1] {
	case typeStr:
		raw, err := hex.DecodeString(fields[2])
		if err != nil {
			return store.Record{}, fmt.Errorf("value: %w", err)
		}
		val = store.NewStringValue(raw)
	case typeMap:
		hashVal := make(map[string][]byte)
		if fields[2] != "" {
			for _, pair := range strings.Split(fields[2], ",") {
				kv := strings.SplitN(pair, "=", 2)
				if len(kv) != 2 {
					return store.Record{}, fmt.Errorf("malformed hash field %q", pair)
				}
				field, err := hex.DecodeString(kv[0])
				if err != nil {
					return store.Record{}, fmt.Errorf("hash field: %w", err)
				}
				fv, err := hex.DecodeString(kv[1])
				if err != nil {
					return store.Record{}, fmt.Errorf("hash value: %w", err)
				}
				hashVal[string(field)] = fv
			}
		}
		val = store.NewHashValue(hashVal)
	default:
		return store.Record{}, fmt.Errorf("unknown type %q", fields[1])
	}

	return store.Record{Key: string(keyBytes), Value: val, Expiry: expiry}, nil
}
