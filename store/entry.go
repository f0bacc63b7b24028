package store

import "time"

// Entry pairs a stored value with an optional absolute expiry deadline.
type Entry struct {
	Value  Value
	Expiry time.Time // zero value means no expiry
}

// hasExpiry reports whether the entry carries a deadline at all.
func (e *Entry) hasExpiry() bool {
	return !e.Expiry.IsZero()
}

// live reports whether the entry is unexpired as observed at now.
// An entry whose expiry is in the past must be
// treated as absent by readers.
func (e *Entry) live(now time.Time) bool {
	if e == nil {
		return false
	}
	return !e.hasExpiry() || e.Expiry.After(now)
}
