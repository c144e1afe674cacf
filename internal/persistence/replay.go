package persistence

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/loganszeto/respkv/internal/protocol"
	"github.com/loganszeto/respkv/internal/store"
)

type ReplayStats struct {
	Applied   int
	Expired   int
	Malformed int
	Deleted   int
}

// Replay loads the log at path into st. Records are applied directly and
// never re-appended. A missing or unreadable log leaves st untouched; bad
// lines are counted and skipped.
func Replay(path string, st store.Store, nowMs int64) (ReplayStats, error) {
	var stats ReplayStats
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, err
	}
	defer f.Close()

	rd := bufio.NewReader(f)
	for {
		line, err := rd.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			stats.apply(line, st, nowMs)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, err
		}
	}
}

func (s *ReplayStats) apply(line string, st store.Store, nowMs int64) {
	rec, err := Decode(line)
	if err != nil {
		s.Malformed++
		return
	}
	switch rec.Op {
	case OpDel:
		s.Deleted += st.Del(rec.Keys...)
	default:
		ent := store.Persistent(protocol.BulkString(rec.Value))
		if rec.HasExpiry {
			ent = store.ExpiringAt(protocol.BulkString(rec.Value), rec.ExpireAtMs)
		}
		if store.IsExpired(ent, nowMs) {
			s.Expired++
			return
		}
		st.Set(rec.Key, ent)
		s.Applied++
	}
}
