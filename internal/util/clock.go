package util

import (
	"sync/atomic"
	"time"
)

type Clock interface {
	NowMs() int64
}

type RealClock struct{}

func (RealClock) NowMs() int64 {
	return time.Now().UnixMilli()
}

// ManualClock only moves when told to.
type ManualClock struct {
	now atomic.Int64
}

func NewManualClock(nowMs int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(nowMs)
	return c
}

func (c *ManualClock) NowMs() int64 {
	return c.now.Load()
}

func (c *ManualClock) Set(nowMs int64) {
	c.now.Store(nowMs)
}

func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(d.Milliseconds())
}
