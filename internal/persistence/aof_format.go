package persistence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedRecord = errors.New("aof record malformed")

type Op string

const (
	OpSet Op = "SET"
	OpDel Op = "DEL"
)

// Record is one logged mutation. Key and Value are written as literal tokens,
// so they must not contain whitespace to survive a replay.
type Record struct {
	Op         Op
	Key        string
	Value      string
	ExpireAtMs int64
	HasExpiry  bool
	// Keys lists the deleted keys of an OpDel record.
	Keys []string
}

func SetRecord(key, value string) Record {
	return Record{Op: OpSet, Key: key, Value: value}
}

func SetRecordAt(key, value string, expireAtMs int64) Record {
	return Record{Op: OpSet, Key: key, Value: value, ExpireAtMs: expireAtMs, HasExpiry: true}
}

func DelRecord(keys ...string) Record {
	return Record{Op: OpDel, Keys: keys}
}

// Encode renders rec as one log line without the trailing newline.
func Encode(rec Record) (string, error) {
	switch rec.Op {
	case OpSet:
		line := string(OpSet) + " " + rec.Key + " " + rec.Value
		if rec.HasExpiry {
			line += " " + strconv.FormatInt(rec.ExpireAtMs, 10)
		}
		return line, nil
	case OpDel:
		if len(rec.Keys) == 0 {
			return "", fmt.Errorf("%w: DEL without keys", ErrMalformedRecord)
		}
		return string(OpDel) + " " + strings.Join(rec.Keys, " "), nil
	default:
		return "", fmt.Errorf("%w: unknown op %q", ErrMalformedRecord, rec.Op)
	}
}

// Decode parses one log line. A line starting with DEL is a delete record;
// any other line with at least three tokens is a SET whose first token is
// not inspected.
func Decode(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) >= 2 && fields[0] == string(OpDel) {
		return DelRecord(fields[1:]...), nil
	}
	if len(fields) < 3 {
		return Record{}, fmt.Errorf("%w: %d tokens", ErrMalformedRecord, len(fields))
	}
	rec := SetRecord(fields[1], fields[2])
	if len(fields) >= 4 {
		at, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: expiry %q", ErrMalformedRecord, fields[3])
		}
		rec.ExpireAtMs, rec.HasExpiry = at, true
	}
	return rec, nil
}
