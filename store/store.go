package store

import (
	"errors"
	"sync"
	"time"
)

// ErrWrongType is returned when a command is issued against a key
// holding a value of a different kind (e.g. GET on a hash).
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// LazyExpireFunc is invoked, outside of any lock, when a read
// discovers a key past its deadline. The store has already treated
// the key as absent for the caller; this hook exists so the caller
// can request removal on the command bus to keep the AOF
// and every reader in sync without the store depending on the bus.
type LazyExpireFunc func(key string)

// Store owns the entry map behind a single RWMutex: many concurrent
// readers, or one writer. Only the
// writer task may call the Apply* methods.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry

	// now is the store's clock, overridable in tests.
	now func() time.Time

	onLazyExpire LazyExpireFunc
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data: make(map[string]*Entry),
		now:  time.Now,
	}
}

// SetClock overrides the store's notion of the current time. Intended
// for tests exercising expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetLazyExpireHook installs the callback invoked when a read observes
// an expired entry it did not sweep itself.
func (s *Store) SetLazyExpireHook(fn LazyExpireFunc) {
	s.onLazyExpire = fn
}

/* ---- read path ---- */

// Get returns the string value bound to key, or ok=false if absent,
// expired, or the key holds a hash.
func (s *Store) Get(key string) (val []byte, ok bool, err error) {
	s.mu.RLock()
	entry, present := s.data[key]
	now := s.now()
	var expired bool
	if present && !entry.live(now) {
		expired = true
		present = false
	}
	var out []byte
	var wrongType bool
	if present {
		if entry.Value.Kind != KindString {
			wrongType = true
		} else {
			out = append([]byte(nil), entry.Value.Str...)
		}
	}
	s.mu.RUnlock()

	if expired {
		s.notifyLazyExpire(key)
	}
	if wrongType {
		return nil, false, ErrWrongType
	}
	return out, present, nil
}

// HGet returns the value of a hash field, or ok=false if the key or
// field is absent.
func (s *Store) HGet(key, field string) (val []byte, ok bool, err error) {
	s.mu.RLock()
	entry, present := s.data[key]
	now := s.now()
	var expired bool
	if present && !entry.live(now) {
		expired = true
		present = false
	}
	var out []byte
	var found, wrongType bool
	if present {
		if entry.Value.Kind != KindHash {
			wrongType = true
		} else if fv, hasField := entry.Value.Hash[field]; hasField {
			found = true
			out = append([]byte(nil), fv...)
		}
	}
	s.mu.RUnlock()

	if expired {
		s.notifyLazyExpire(key)
	}
	if wrongType {
		return nil, false, ErrWrongType
	}
	return out, found, nil
}

// Type returns the redis type name for key, or "none" if absent.
func (s *Store) Type(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, present := s.data[key]
	if !present || !entry.live(s.now()) {
		return "none"
	}
	return entry.Value.Kind.String()
}

// TTL returns the remaining time to live for key. ok is false if the
// key is absent; hasExpiry is false if the key never expires.
func (s *Store) TTL(key string) (ttl time.Duration, hasExpiry bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, present := s.data[key]
	now := s.now()
	if !present || !entry.live(now) {
		return 0, false, false
	}
	if !entry.hasExpiry() {
		return 0, false, true
	}
	return entry.Expiry.Sub(now), true, true
}

// Keys returns every live key matching pattern. Order is unspecified.
// This holds the read lock for the full scan, accepting its
// acknowledged O(N) cost.
func (s *Store) Keys(pattern string) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	result := make([][]byte, 0, len(s.data))
	for k, entry := range s.data {
		if !entry.live(now) {
			continue
		}
		if matchGlob(pattern, k) {
			result = append(result, []byte(k))
		}
	}
	return result
}

// Len returns the number of entries, live or not, currently resident.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) notifyLazyExpire(key string) {
	if s.onLazyExpire != nil {
		s.onLazyExpire(key)
	}
}

/* ---- write path: callable only by the writer task ---- */

// ApplySet unconditionally replaces the value and expiry bound to key.
// A zero expiry means no deadline.
func (s *Store) ApplySet(key string, val []byte, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &Entry{Value: NewStringValue(append([]byte(nil), val...)), Expiry: expiry}
}

// ApplyHSet creates the hash at key if absent, sets field, and
// reports whether the field was newly created.
func (s *Store) ApplyHSet(key, field string, val []byte) (created bool, wrongType bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, present := s.data[key]
	if present && !entry.live(s.now()) {
		present = false
	}
	if present && entry.Value.Kind != KindHash {
		return false, true
	}
	if !present {
		entry = &Entry{Value: NewHashValue(make(map[string][]byte, 1))}
		s.data[key] = entry
	}
	_, existed := entry.Value.Hash[field]
	entry.Value.Hash[field] = append([]byte(nil), val...)
	return !existed, false
}

// ApplyDel removes the given keys and returns the count that existed.
func (s *Store) ApplyDel(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	deleted := 0
	for _, key := range keys {
		entry, present := s.data[key]
		if present && entry.live(now) {
			deleted++
		}
		if present {
			delete(s.data, key)
		}
	}
	return deleted
}

// ApplyHDel removes a field from a hash, deleting the whole entry if
// the field removed was the last one.
func (s *Store) ApplyHDel(key, field string) (removed bool, wrongType bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, present := s.data[key]
	if !present || !entry.live(s.now()) {
		return false, false
	}
	if entry.Value.Kind != KindHash {
		return false, true
	}
	if _, ok := entry.Value.Hash[field]; !ok {
		return false, false
	}
	delete(entry.Value.Hash, field)
	if len(entry.Value.Hash) == 0 {
		delete(s.data, key)
	}
	return true, false
}

// ApplyExpire sets an absolute deadline on an existing key. Reports
// whether the key existed and was live.
func (s *Store) ApplyExpire(key string, expiry time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, present := s.data[key]
	if !present || !entry.live(s.now()) {
		return false
	}
	entry.Expiry = expiry
	return true
}

/* ---- snapshot support ---- */

// Record is one entry as exposed for serialization.
type Record struct {
	Key    string
	Value  Value
	Expiry time.Time
}

// Snapshot returns a deep, point-in-time copy of every live entry,
// built while holding the read lock only for the duration of the
// copy.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]Record, 0, len(s.data))
	for k, entry := range s.data {
		if !entry.live(now) {
			continue
		}
		out = append(out, Record{Key: k, Value: entry.Value.clone(), Expiry: entry.Expiry})
	}
	return out
}

// SampleForSweep returns up to limit keys that carry a deadline, for
// the expiration sweeper to inspect this tick. It holds the read lock
// while ranging over the map and stops once limit keys are found, so
// it scans the whole map when fewer keys carry a deadline. It keeps no
// position between calls; successive ticks see different keys only
// because Go's map iteration order varies from one range to the next.
func (s *Store) SampleForSweep(limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || len(s.data) == 0 {
		return nil
	}
	out := make([]string, 0, limit)
	for k, entry := range s.data {
		if entry.hasExpiry() {
			out = append(out, k)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// IsExpired reports whether key currently holds an entry past its
// deadline. Used by the sweeper between sampling and publishing a Del,
// since the sample may go stale by the time the sweeper inspects it.
func (s *Store) IsExpired(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, present := s.data[key]
	if !present {
		return false
	}
	return !entry.live(s.now())
}

// LoadSnapshot replaces the store's contents wholesale. Used only by
// the recovery loader before the listener binds, so no
// concurrent access is possible yet.
func (s *Store) LoadSnapshot(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*Entry, len(records))
	for _, r := range records {
		s.data[r.Key] = &Entry{Value: r.Value, Expiry: r.Expiry}
	}
}
