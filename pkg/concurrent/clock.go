package concurrent

import (
	"sync/atomic"
	"time"
)

// Clock supplies the cluster time in epoch milliseconds. The consensus module
// stamps log records and supervises session activity from a single clock so
// that a deterministic source can be substituted in tests.
type Clock interface {
	TimeMs() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) TimeMs() int64 { return time.Now().UnixMilli() }

// ManualClock is an explicitly advanced clock for deterministic tests.
type ManualClock struct {
	nowMs atomic.Int64
}

func NewManualClock(startMs int64) *ManualClock {
	c := &ManualClock{}
	c.nowMs.Store(startMs)
	return c
}

func (c *ManualClock) TimeMs() int64 { return c.nowMs.Load() }

// Update sets the absolute clock value.
func (c *ManualClock) Update(nowMs int64) { c.nowMs.Store(nowMs) }

// Advance moves the clock forward by the given delta.
func (c *ManualClock) Advance(deltaMs int64) { c.nowMs.Add(deltaMs) }
