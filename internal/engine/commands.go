package engine

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/loganszeto/respkv/internal/persistence"
	"github.com/loganszeto/respkv/internal/protocol"
	"github.com/loganszeto/respkv/internal/store"
)

// command is one dispatch table row. arity counts the name too: a positive
// arity is exact, a negative one is a minimum, zero accepts anything.
type command struct {
	arity int
	run   func(e *Engine, c call) Result
}

func (c command) arityOK(n int) bool {
	switch {
	case c.arity > 0:
		return n == c.arity
	case c.arity < 0:
		return n >= -c.arity
	default:
		return true
	}
}

func commandTable() map[string]command {
	return map[string]command{
		"GET":        {arity: 2, run: (*Engine).get},
		"SET":        {arity: -3, run: (*Engine).set},
		"EXISTS":     {arity: 2, run: (*Engine).exists},
		"DEL":        {arity: -1, run: (*Engine).del},
		"FLUSHALL":   {arity: 0, run: (*Engine).flushAll},
		"PING":       {arity: -1, run: (*Engine).ping},
		"KEYS":       {arity: 2, run: (*Engine).keys},
		"DBSIZE":     {arity: 1, run: (*Engine).dbSize},
		"STATS":      {arity: 1, run: (*Engine).statsReply},
		"REWRITEAOF": {arity: 1, run: (*Engine).rewriteAOF},
	}
}

var (
	okReply     = protocol.SimpleString("OK")
	errNotAnInt = protocol.Error("value is not an integer or out of range")
)

func (e *Engine) get(c call) Result {
	v, hit := e.st.Get(c.args[1], c.nowMs)
	e.stats.RecordGet(hit)
	if !hit {
		return reply(protocol.NullBulkString())
	}
	return reply(v)
}

// set handles SET key value [PX ms | EX s | PXAT ms | EXAT s]. Only the
// option directly after the value is read; an unknown option, or one without
// an amount, stores the key without expiry.
func (e *Engine) set(c call) Result {
	key, val := c.args[1], c.args[2]
	ent := store.Persistent(protocol.BulkString(val))
	if len(c.args) >= 5 {
		if at, known, ok := expireAt(c.args[3], c.args[4], c.nowMs); !ok {
			return reply(errNotAnInt)
		} else if known {
			ent = store.ExpiringAt(ent.Value, at)
		}
	}

	rec := persistence.SetRecord(key, val)
	if ent.HasExpiry {
		rec = persistence.SetRecordAt(key, val, ent.ExpireAtMs)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.st.Set(key, ent)
	e.stats.RecordSet()
	return Result{
		Reply:      okReply,
		Durability: e.persist("set", func(l Log) error { return l.Append(rec) }),
	}
}

// expireAt turns a SET expiry option into an absolute unix millisecond.
// known is false for unrecognized options; ok is false when the amount is not
// an integer or the result does not fit in an int64.
func expireAt(option, amount string, nowMs int64) (at int64, known, ok bool) {
	var base, unit int64
	switch strings.ToUpper(option) {
	case "PX":
		base, unit = nowMs, 1
	case "EX":
		base, unit = nowMs, 1000
	case "PXAT":
		base, unit = 0, 1
	case "EXAT":
		base, unit = 0, 1000
	default:
		return 0, false, true
	}
	n, err := strconv.ParseInt(amount, 10, 64)
	if err != nil || n > (math.MaxInt64-max(base, 0))/unit || n < (math.MinInt64-min(base, 0))/unit {
		return 0, true, false
	}
	return base + n*unit, true, true
}

func (e *Engine) exists(c call) Result {
	if e.st.Exists(c.args[1], c.nowMs) {
		return reply(protocol.Integer(1))
	}
	return reply(protocol.Integer(0))
}

func (e *Engine) del(c call) Result {
	keys := c.args[1:]
	if len(keys) == 0 {
		return reply(protocol.Integer(0))
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	n := e.st.Del(keys...)
	e.stats.RecordDel(n)
	res := reply(protocol.Integer(int64(n)))
	if e.logDeletes && n > 0 {
		res.Durability = e.persist("del", func(l Log) error {
			return l.Append(persistence.DelRecord(keys...))
		})
	}
	return res
}

func (e *Engine) flushAll(c call) Result {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.st.Flush()
	return Result{
		Reply:      okReply,
		Durability: e.persist("flushall", Log.Clear),
	}
}

func (e *Engine) ping(c call) Result {
	switch len(c.args) {
	case 1:
		return reply(protocol.SimpleString("PONG"))
	case 2:
		return reply(protocol.BulkString(c.args[1]))
	default:
		return reply(protocol.Errorf("Wrong number of arguments for '%s' command", c.name))
	}
}

func (e *Engine) keys(c call) Result {
	matched, err := e.st.Keys(c.args[1], c.nowMs)
	if err != nil {
		return reply(protocol.Error(err.Error()))
	}
	return reply(protocol.ArrayOf(lo.Map(matched, func(k string, _ int) protocol.Value {
		return protocol.BulkString(k)
	})...))
}

func (e *Engine) dbSize(c call) Result {
	return reply(protocol.Integer(int64(e.st.Len())))
}

func (e *Engine) statsReply(c call) Result {
	snap := e.stats.Snapshot()
	names := lo.Keys(snap)
	sort.Strings(names)
	return reply(protocol.ArrayOf(lo.Map(names, func(name string, _ int) protocol.Value {
		return protocol.BulkString(name + " " + strconv.FormatInt(snap[name], 10))
	})...))
}

// rewriteAOF compacts the log to the live keyspace. A failed rewrite leaves
// the previous log in place, so it is reported as an error reply only.
func (e *Engine) rewriteAOF(c call) Result {
	if e.log == nil {
		return reply(protocol.Error("append-only log is disabled"))
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.log.Rewrite(e.st.Snapshot(c.nowMs)); err != nil {
		e.stats.RecordAOFError()
		e.logger.Warn("aof rewrite failed", "err", err)
		return reply(protocol.Errorf("REWRITEAOF failed: %v", err))
	}
	return Result{Reply: okReply, Durability: DurabilityDurable}
}
