// Package store owns the in-memory key space: the entry map, its
// read/write coordination, and the operations the connection handler
// and writer task call against it.
package store

// Kind tags the shape of a Value.
type Kind uint8

const (
	// KindString is an opaque byte string.
	KindString Kind = iota
	// KindHash is a mapping from field name to byte string.
	KindHash
	// KindTombstone is never stored, and no code path produces it:
	// deletions travel on the bus as Del commands, not as values.
	KindTombstone
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindHash:
		return "hash"
	case KindTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// Value is the tagged variant stored against a key.
type Value struct {
	Kind Kind
	Str  []byte
	Hash map[string][]byte
}

// NewStringValue wraps a byte string.
func NewStringValue(b []byte) Value {
	return Value{Kind: KindString, Str: b}
}

// NewHashValue wraps a field map. The caller must not pass an empty
// map; an empty hash is never stored, it is deleted instead.
func NewHashValue(fields map[string][]byte) Value {
	return Value{Kind: KindHash, Hash: fields}
}

// clone returns a deep copy so callers holding a read-locked reference
// cannot observe later mutation by the writer.
func (v Value) clone() Value {
	switch v.Kind {
	case KindString:
		b := make([]byte, len(v.Str))
		copy(b, v.Str)
		return Value{Kind: KindString, Str: b}
	case KindHash:
		h := make(map[string][]byte, len(v.Hash))
		for k, fv := range v.Hash {
			b := make([]byte, len(fv))
			copy(b, fv)
			h[k] = b
		}
		return Value{Kind: KindHash, Hash: h}
	default:
		return v
	}
}
