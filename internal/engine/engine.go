package engine

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/loganszeto/respkv/internal/protocol"
	"github.com/loganszeto/respkv/internal/stats"
	"github.com/loganszeto/respkv/internal/store"
	"github.com/loganszeto/respkv/internal/util"
)

// Engine executes one request at a time against an owned keyspace and log.
// It is safe for concurrent use. Mutating commands hold writeMu so the
// keyspace and the log see mutations in the same order.
type Engine struct {
	st         store.Store
	log        Log
	clock      util.Clock
	stats      *stats.Stats
	logger     *slog.Logger
	logDeletes bool

	writeMu  sync.Mutex
	commands map[string]command
}

type Option func(*Engine)

func WithClock(c util.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithStats(s *stats.Stats) Option {
	return func(e *Engine) { e.stats = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLogDeletes makes DEL write a record that replay honours.
func WithLogDeletes(on bool) Option {
	return func(e *Engine) { e.logDeletes = on }
}

// New builds an engine over st. A nil log disables persistence.
func New(st store.Store, log Log, opts ...Option) *Engine {
	e := &Engine{
		st:       st,
		log:      log,
		clock:    util.RealClock{},
		stats:    stats.New(),
		logger:   slog.Default(),
		commands: commandTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Stats() *stats.Stats {
	return e.stats
}

// Execute runs req and returns exactly one reply value.
func (e *Engine) Execute(req protocol.Value) protocol.Value {
	return e.ExecuteDetailed(req).Reply
}

// ExecuteDetailed is Execute plus the durability status of the command.
func (e *Engine) ExecuteDetailed(req protocol.Value) (res Result) {
	c, errReply, ok := e.parse(req)
	if !ok {
		e.stats.RecordError()
		return reply(errReply)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("command panicked", "cmd", c.name, "panic", r)
			e.stats.RecordError()
			res = reply(protocol.Errorf("internal error executing '%s'", c.name))
		}
		e.stats.RecordCommand(c.name, time.Since(start))
	}()

	res = c.cmd.run(e, c)
	if res.Reply.IsError() {
		e.stats.RecordError()
	}
	if res.Durability == DurabilityDegraded {
		e.stats.RecordDegraded()
	}
	return res
}

type call struct {
	name  string
	args  []string
	nowMs int64
	cmd   command
}

func (e *Engine) parse(req protocol.Value) (call, protocol.Value, bool) {
	if req.Kind != protocol.KindArray || req.Null {
		return call{}, protocol.Error("Request must be an array of bulk strings."), false
	}
	if len(req.Array) == 0 {
		return call{}, protocol.Error("Command array cannot be empty."), false
	}
	if !req.Array[0].IsBulkString() {
		return call{}, protocol.Error("Command must be a bulk string."), false
	}
	name := strings.ToUpper(req.Array[0].Str)
	cmd, ok := e.commands[name]
	if !ok {
		return call{}, protocol.Errorf("%s does not exist", name), false
	}
	if !lo.EveryBy(req.Array[1:], protocol.Value.IsBulkString) {
		return call{}, protocol.Error("Arguments must be bulk strings."), false
	}
	if !cmd.arityOK(len(req.Array)) {
		return call{}, protocol.Errorf("Wrong number of arguments for '%s' command", name), false
	}
	return call{
		name:  name,
		args:  lo.Map(req.Array, func(v protocol.Value, _ int) string { return v.Str }),
		nowMs: e.clock.NowMs(),
		cmd:   cmd,
	}, protocol.Value{}, true
}

// persist appends one record when a log is attached and maps the outcome to a
// durability status. Callers hold writeMu.
func (e *Engine) persist(what string, write func(Log) error) Durability {
	if e.log == nil {
		return DurabilityNone
	}
	if err := write(e.log); err != nil {
		e.stats.RecordAOFError()
		e.logger.Warn("aof write failed, continuing without durability", "op", what, "err", err)
		return DurabilityDegraded
	}
	return DurabilityDurable
}
