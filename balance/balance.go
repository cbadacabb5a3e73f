// Package balance selects one of N replicas for an operation.
package balance

import (
	"sync/atomic"
	"time"
)

// Strategy picks an index in [0, n). n is always at least 1.
type Strategy interface {
	Next(n int) int
}

// StrategyFunc adapts a function to Strategy
type StrategyFunc func(n int) int

// Next implements Strategy
func (f StrategyFunc) Next(n int) int {
	return f(n)
}

// RoundRobin cycles through the replicas with a shared counter. Over k
// selections every replica is picked k/n times, ±1.
type RoundRobin struct {
	counter atomic.Uint64
}

// NewRoundRobin creates a round-robin strategy
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Next implements Strategy
func (r *RoundRobin) Next(n int) int {
	if n <= 1 {
		return 0
	}
	return int((r.counter.Add(1) - 1) % uint64(n))
}

// TimeModulo picks the current time in milliseconds modulo n. Bursts of
// selections within the same millisecond all land on one replica.
type TimeModulo struct {
	now func() time.Time
}

// NewTimeModulo creates a time based strategy
func NewTimeModulo() *TimeModulo {
	return &TimeModulo{now: time.Now}
}

// Next implements Strategy
func (t *TimeModulo) Next(n int) int {
	if n <= 1 {
		return 0
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	return int(now().UnixMilli() % int64(n))
}

// Parse returns the strategy for a configuration name: "round-robin" (the
// default for an empty name) or "time-modulo"
func Parse(name string) (Strategy, bool) {
	switch name {
	case "", "round-robin", "roundrobin":
		return NewRoundRobin(), true
	case "time-modulo", "time":
		return NewTimeModulo(), true
	default:
		return nil, false
	}
}
