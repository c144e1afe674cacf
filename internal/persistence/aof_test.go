package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loganszeto/respkv/internal/protocol"
	"github.com/loganszeto/respkv/internal/store"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		rec  Record
		line string
	}{
		{SetRecord("a", "1"), "SET a 1"},
		{SetRecordAt("b", "2", 1700000000000), "SET b 2 1700000000000"},
		{DelRecord("a", "b"), "DEL a b"},
	}
	for _, tt := range tests {
		line, err := Encode(tt.rec)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", tt.rec, err)
		}
		if line != tt.line {
			t.Fatalf("Encode(%+v) = %q, want %q", tt.rec, line, tt.line)
		}
		got, err := Decode(line + "\n")
		if err != nil {
			t.Fatalf("Decode(%q): %v", line, err)
		}
		if got.Op != tt.rec.Op || got.Key != tt.rec.Key || got.Value != tt.rec.Value ||
			got.HasExpiry != tt.rec.HasExpiry || got.ExpireAtMs != tt.rec.ExpireAtMs ||
			strings.Join(got.Keys, ",") != strings.Join(tt.rec.Keys, ",") {
			t.Fatalf("Decode(%q) = %+v, want %+v", line, got, tt.rec)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, line := range []string{"", "SET a", "SET a 1 soon", "DEL"} {
		if _, err := Decode(line); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformedRecord", line, err)
		}
	}
}

func TestEncodeRejectsEmptyDel(t *testing.T) {
	if _, err := Encode(DelRecord()); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestAppendAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	aof, err := Open(path, Options{Fsync: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer aof.Close()

	if err := aof.Append(SetRecord("a", "1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := aof.Append(SetRecordAt("b", "2", 42)); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines := readLines(t, path)
	if len(lines) != 2 || lines[0] != "SET a 1" || lines[1] != "SET b 2 42" {
		t.Fatalf("unexpected log content: %q", lines)
	}

	if err := aof.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if lines := readLines(t, path); len(lines) != 0 {
		t.Fatalf("expected empty log after clear, got %q", lines)
	}
	if err := aof.Append(SetRecord("c", "3")); err != nil {
		t.Fatalf("append after clear: %v", err)
	}
	if lines := readLines(t, path); len(lines) != 1 || lines[0] != "SET c 3" {
		t.Fatalf("unexpected log after clear+append: %q", lines)
	}
}

func TestOpenAppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	if err := os.WriteFile(path, []byte("SET old 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	aof, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := aof.Append(SetRecord("new", "2")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := aof.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	lines := readLines(t, path)
	if len(lines) != 2 || lines[0] != "SET old 1" {
		t.Fatalf("existing content not preserved: %q", lines)
	}
}

func TestOpenUnavailableStillUsable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	aof, err := Open(filepath.Join(blocker, "appendonly.aof"), Options{})
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if aof == nil {
		t.Fatal("expected a usable AOF even when open fails")
	}
	if err := aof.Append(SetRecord("a", "1")); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("append err = %v, want ErrNoDevice", err)
	}
	if err := aof.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	aof, err := Open(path, Options{Fsync: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer aof.Close()
	for _, rec := range []Record{SetRecord("a", "1"), SetRecord("a", "2"), SetRecord("b", "x")} {
		if err := aof.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	err = aof.Rewrite(map[string]store.Entry{
		"b": store.Persistent(protocol.BulkString("x")),
		"a": store.ExpiringAt(protocol.BulkString("2"), 99),
	})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	lines := readLines(t, path)
	if len(lines) != 2 || lines[0] != "SET a 2 99" || lines[1] != "SET b x" {
		t.Fatalf("unexpected rewritten log: %q", lines)
	}

	if err := aof.Append(SetRecord("c", "3")); err != nil {
		t.Fatalf("append after rewrite: %v", err)
	}
	if lines := readLines(t, path); len(lines) != 3 || lines[2] != "SET c 3" {
		t.Fatalf("append after rewrite not in new file: %q", lines)
	}
}
