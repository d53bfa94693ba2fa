// Package unboundedchan provides a FIFO queue with channel ends, so that a
// producer never blocks on a slow consumer.
package unboundedchan

import "sync/atomic"

// UnboundedChannel represents an unbounded queue, but data are entered and removed via channels.
// Beware! You almost certainly want T to be a small value type; use pointers for large objects.
type UnboundedChannel[T any] struct {
	in      chan T
	out     chan T
	queue   []T
	pending atomic.Int64
}

// NewUnboundedChannel creates an UnboundedChannel and starts its pump goroutine.
// The goroutine exits after In() is closed and every queued value is delivered.
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:    make(chan T),
		out:   make(chan T),
		queue: make([]T, 0),
	}
	go uc.run()
	return uc
}

func (uc *UnboundedChannel[T]) run() {
	defer close(uc.out)
	in := uc.in
	for in != nil || len(uc.queue) > 0 {
		// Only offer a value on out when one is queued.
		var out chan T
		var next T
		if len(uc.queue) > 0 {
			out = uc.out
			next = uc.queue[0]
		}
		select {
		case out <- next:
			var zero T
			uc.queue[0] = zero
			uc.queue = uc.queue[1:]
			uc.pending.Add(-1)
		case val, ok := <-in:
			if !ok {
				in = nil // stop receiving, but keep delivering the backlog
				continue
			}
			uc.queue = append(uc.queue, val)
			uc.pending.Add(1)
		}
	}
}

// In returns the input channel for sending data
func (uc *UnboundedChannel[T]) In() chan<- T {
	return uc.in
}

// Out returns the output channel for receiving data
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}

// Len returns the number of values accepted but not yet delivered.
func (uc *UnboundedChannel[T]) Len() int {
	return int(uc.pending.Load())
}
