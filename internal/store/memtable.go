package store

import (
	"fmt"
	"path"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/loganszeto/respkv/internal/protocol"
)

// MemTable is the in-memory Store. Per-key read-then-evict runs inside
// MapOf.Compute, so it is atomic with respect to writers of the same key.
type MemTable struct {
	m *xsync.MapOf[string, Entry]
}

func NewMemTable() *MemTable {
	return &MemTable{
		m: xsync.NewMapOf[string, Entry](),
	}
}

func (t *MemTable) Get(key string, nowMs int64) (protocol.Value, bool) {
	var (
		out protocol.Value
		hit bool
	)
	t.m.Compute(key, func(old Entry, loaded bool) (Entry, bool) {
		if !loaded || IsExpired(old, nowMs) {
			return old, true
		}
		out, hit = old.Value, true
		return old, false
	})
	return out, hit
}

func (t *MemTable) Set(key string, e Entry) {
	t.m.Store(key, e)
}

func (t *MemTable) Del(keys ...string) int {
	n := 0
	for _, key := range keys {
		if _, ok := t.m.LoadAndDelete(key); ok {
			n++
		}
	}
	return n
}

func (t *MemTable) Exists(key string, nowMs int64) bool {
	_, ok := t.Get(key, nowMs)
	return ok
}

func (t *MemTable) Keys(pattern string, nowMs int64) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	var expired []string
	out := make([]string, 0)
	t.m.Range(func(k string, ent Entry) bool {
		if IsExpired(ent, nowMs) {
			expired = append(expired, k)
			return true
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
		return true
	})
	for _, k := range expired {
		t.evictIfExpired(k, nowMs)
	}
	sort.Strings(out)
	return out, nil
}

func (t *MemTable) Len() int {
	return t.m.Size()
}

func (t *MemTable) Flush() {
	t.m.Clear()
}

func (t *MemTable) Snapshot(nowMs int64) map[string]Entry {
	out := make(map[string]Entry, t.m.Size())
	t.m.Range(func(k string, ent Entry) bool {
		if !IsExpired(ent, nowMs) {
			out[k] = ent
		}
		return true
	})
	return out
}

func (t *MemTable) Peek(key string) (Entry, bool) {
	return t.m.Load(key)
}

// evictIfExpired re-checks under the map's per-key lock so a concurrent SET
// that replaced the entry is not lost.
func (t *MemTable) evictIfExpired(key string, nowMs int64) {
	t.m.Compute(key, func(old Entry, loaded bool) (Entry, bool) {
		return old, !loaded || IsExpired(old, nowMs)
	})
}
