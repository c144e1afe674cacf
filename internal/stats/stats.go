package stats

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Stats is the server's counter registry. Counters live in a private
// VictoriaMetrics set so several engines (tests, the demo) do not share
// global state.
type Stats struct {
	set *metrics.Set

	gets     *metrics.Counter
	hits     *metrics.Counter
	misses   *metrics.Counter
	sets     *metrics.Counter
	dels     *metrics.Counter
	errors   *metrics.Counter
	aofErrs  *metrics.Counter
	degraded *metrics.Counter

	mu       sync.Mutex
	commands map[string]*metrics.Counter
}

func New() *Stats {
	set := metrics.NewSet()
	return &Stats{
		set:      set,
		gets:     set.NewCounter("respkv_gets_total"),
		hits:     set.NewCounter("respkv_hits_total"),
		misses:   set.NewCounter("respkv_misses_total"),
		sets:     set.NewCounter("respkv_sets_total"),
		dels:     set.NewCounter("respkv_deleted_keys_total"),
		errors:   set.NewCounter("respkv_errors_total"),
		aofErrs:  set.NewCounter("respkv_aof_errors_total"),
		degraded: set.NewCounter("respkv_degraded_writes_total"),
		commands: make(map[string]*metrics.Counter),
	}
}

// RecordCommand counts one dispatched command and its latency.
func (s *Stats) RecordCommand(name string, d time.Duration) {
	name = strings.ToLower(name)
	s.mu.Lock()
	c, ok := s.commands[name]
	if !ok {
		c = s.set.GetOrCreateCounter(fmt.Sprintf(`respkv_commands_total{cmd=%q}`, name))
		s.commands[name] = c
	}
	s.mu.Unlock()
	c.Inc()
	s.set.GetOrCreateHistogram(fmt.Sprintf(`respkv_command_duration_seconds{cmd=%q}`, name)).Update(d.Seconds())
}

func (s *Stats) RecordGet(hit bool) {
	s.gets.Inc()
	if hit {
		s.hits.Inc()
	} else {
		s.misses.Inc()
	}
}

func (s *Stats) RecordSet() {
	s.sets.Inc()
}

func (s *Stats) RecordDel(n int) {
	s.dels.Add(n)
}

func (s *Stats) RecordError() {
	s.errors.Inc()
}

// RecordAOFError counts any failed log operation, rewrites included.
func (s *Stats) RecordAOFError() {
	s.aofErrs.Inc()
}

// RecordDegraded counts a mutation that was applied in memory but not
// persisted.
func (s *Stats) RecordDegraded() {
	s.degraded.Inc()
}

func (s *Stats) Snapshot() map[string]int64 {
	out := map[string]int64{
		"gets":            int64(s.gets.Get()),
		"hits":            int64(s.hits.Get()),
		"misses":          int64(s.misses.Get()),
		"sets":            int64(s.sets.Get()),
		"dels":            int64(s.dels.Get()),
		"errors":          int64(s.errors.Get()),
		"aof_errors":      int64(s.aofErrs.Get()),
		"degraded_writes": int64(s.degraded.Get()),
	}
	s.mu.Lock()
	for name, c := range s.commands {
		out["cmd_"+name] = int64(c.Get())
	}
	s.mu.Unlock()
	return out
}

// WritePrometheus writes every counter and histogram in text exposition
// format.
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}
