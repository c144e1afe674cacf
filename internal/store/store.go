package store

import "github.com/loganszeto/respkv/internal/protocol"

// Entry is a stored value plus an optional absolute expiry in unix
// milliseconds. ExpireAtMs is ignored unless HasExpiry is set.
type Entry struct {
	Value      protocol.Value
	ExpireAtMs int64
	HasExpiry  bool
}

func Persistent(v protocol.Value) Entry {
	return Entry{Value: v}
}

func ExpiringAt(v protocol.Value, expireAtMs int64) Entry {
	return Entry{Value: v, ExpireAtMs: expireAtMs, HasExpiry: true}
}

// Store is the keyspace. Reads take the caller's notion of now so expiry can
// be tested without a wall clock; reads that find an expired entry evict it.
type Store interface {
	Get(key string, nowMs int64) (protocol.Value, bool)
	Set(key string, e Entry)
	Del(keys ...string) int
	Exists(key string, nowMs int64) bool
	Keys(pattern string, nowMs int64) ([]string, error)
	Len() int
	Flush()
	// Snapshot copies every entry that is live at nowMs.
	Snapshot(nowMs int64) map[string]Entry
	// Peek returns the raw entry without expiry checks or eviction.
	Peek(key string) (Entry, bool)
}
