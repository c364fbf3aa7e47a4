// Package pool spreads upstream calls over a fixed set of client handles.
package pool

import (
	"errors"
	"math/rand/v2"
	"sync/atomic"
)

// Strategy selects how Select picks a member.
type Strategy string

// Selection strategies
const (
	StrategyRandom     Strategy = "random"
	StrategyRoundRobin Strategy = "round_robin"
)

// ErrEmpty is returned when a pool is built without members.
var ErrEmpty = errors.New("pool has no members")

// Pool is a fixed-size set of handles. It tracks no health: a handle that
// fails surfaces the error to whoever used it.
type Pool[T any] struct {
	members  []T
	strategy Strategy
	next     atomic.Uint64
	pick     func(n int) int
}

// New creates a pool over members. Unknown strategies fall back to random.
func New[T any](members []T, strategy Strategy) (*Pool[T], error) {
	if len(members) == 0 {
		return nil, ErrEmpty
	}
	if strategy != StrategyRoundRobin {
		strategy = StrategyRandom
	}
	return &Pool[T]{
		members:  append([]T(nil), members...),
		strategy: strategy,
		pick:     rand.IntN,
	}, nil
}

// Select returns one member according to the pool's strategy.
func (p *Pool[T]) Select() T {
	if p.strategy == StrategyRoundRobin {
		i := p.next.Add(1) - 1
		return p.members[i%uint64(len(p.members))]
	}
	return p.members[p.pick(len(p.members))]
}

// Size returns the number of members.
func (p *Pool[T]) Size() int {
	return len(p.members)
}

// Members returns a copy of all members.
func (p *Pool[T]) Members() []T {
	return append([]T(nil), p.members...)
}

// Strategy returns the selection strategy in use.
func (p *Pool[T]) Strategy() Strategy {
	return p.strategy
}
