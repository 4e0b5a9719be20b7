// Package broadcast fans the latest frame and the latest recognition result
// out to any number of HTTP readers.
//
// A Slot holds one value. Publishing overwrites it and wakes every waiter;
// readers that fall behind skip intermediate values instead of queueing them.
package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Wait once the slot is closed and holds nothing newer.
var ErrClosed = errors.New("broadcast: slot closed")

// Slot is a latest-value-wins holder. Values must be treated as immutable
// once published; readers share them without copying.
type Slot[T any] struct {
	mu      sync.Mutex
	value   T
	seq     uint64        // 0 = nothing published yet
	changed chan struct{} // closed and replaced on every Publish
	closed  bool
}

// NewSlot returns an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{changed: make(chan struct{})}
}

// Publish stores v and wakes all waiters. Returns the new sequence number,
// or 0 if the slot is already closed.
func (s *Slot[T]) Publish(v T) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	s.value = v
	s.seq++
	close(s.changed)
	s.changed = make(chan struct{})
	return s.seq
}

// Load returns the current value and its sequence number. ok is false when
// nothing has been published yet.
func (s *Slot[T]) Load() (v T, seq uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.seq, s.seq > 0
}

// Wait blocks until a value newer than afterSeq is available, the slot is
// closed, or ctx ends.
func (s *Slot[T]) Wait(ctx context.Context, afterSeq uint64) (T, uint64, error) {
	for {
		s.mu.Lock()
		if s.seq > afterSeq {
			v, seq := s.value, s.seq
			s.mu.Unlock()
			return v, seq, nil
		}
		if s.closed {
			s.mu.Unlock()
			var zero T
			return zero, afterSeq, ErrClosed
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			var zero T
			return zero, afterSeq, ctx.Err()
		}
	}
}

// Close ends all current and future waits. The last value stays readable
// through Load. Close is idempotent.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.changed)
}

// Closed reports whether Close has been called.
func (s *Slot[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stream turns the slot into a channel. Every value delivered has a higher
// sequence number than the previous one; values published while the reader
// is busy are skipped. The channel is closed when the slot closes or ctx ends.
func (s *Slot[T]) Stream(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		var last uint64
		for {
			v, seq, err := s.Wait(ctx, last)
			if err != nil {
				return
			}
			last = seq
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
