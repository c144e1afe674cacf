package persistence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/loganszeto/respkv/internal/store"
)

// Rewrite replaces the log with one SET line per entry. The new file is
// synced and renamed over the old one while holding the append lock, so no
// record can land in the discarded file.
func (a *AOF) Rewrite(entries map[string]store.Entry) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	a.mu.Lock()
	defer a.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(a.path), filepath.Base(a.path)+".rewrite-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, k := range keys {
		ent := entries[k]
		rec := SetRecord(k, ent.Value.Str)
		if ent.HasExpiry {
			rec = SetRecordAt(k, ent.Value.Str, ent.ExpireAtMs)
		}
		line, err := Encode(rec)
		if err != nil {
			_ = tmp.Close()
			return err
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	a.closeLocked()
	if err := os.Rename(tmpPath, a.path); err != nil {
		_ = a.openLocked(os.O_APPEND)
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return a.openLocked(os.O_APPEND)
}
