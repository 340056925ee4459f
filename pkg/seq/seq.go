// Package seq provides a pull-based, cancellable asynchronous sequence
// abstraction over channel or generator sources, with lazy combinators.
package seq

import (
	"context"
	"errors"
)

// ErrExhausted is returned by Next when no element remains.
var ErrExhausted = errors.New("sequence exhausted")

// Sequence is a pull-based asynchronous sequence. HasNext and Next suspend
// on the calling context until the source produces or signals exhaustion.
type Sequence[T any] interface {
	// HasNext reports whether another element is available. It is
	// idempotent: repeated calls without Next return the same answer.
	HasNext(ctx context.Context) (bool, error)
	// Next returns the next element. Calling Next with no remaining
	// element returns ErrExhausted.
	Next(ctx context.Context) (T, error)
}

// channelSeq adapts a receive channel into a Sequence. The sequence is
// exhausted when the channel is closed and drained.
type channelSeq[T any] struct {
	ch      <-chan T
	peeked  bool
	peek    T
	done    bool
}

// FromChannel wraps ch as a Sequence. The producer signals exhaustion by
// closing the channel.
func FromChannel[T any](ch <-chan T) Sequence[T] {
	return &channelSeq[T]{ch: ch}
}

func (s *channelSeq[T]) HasNext(ctx context.Context) (bool, error) {
	if s.peeked {
		return true, nil
	}
	if s.done {
		return false, nil
	}
	select {
	case v, ok := <-s.ch:
		if !ok {
			s.done = true
			return false, nil
		}
		s.peek = v
		s.peeked = true
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *channelSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	ok, err := s.HasNext(ctx)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrExhausted
	}
	v := s.peek
	s.peek = zero
	s.peeked = false
	return v, nil
}

// sliceSeq is an in-memory Sequence.
type sliceSeq[T any] struct {
	items []T
	pos   int
}

// FromSlice wraps items as a Sequence.
func FromSlice[T any](items []T) Sequence[T] {
	return &sliceSeq[T]{items: items}
}

func (s *sliceSeq[T]) HasNext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.pos < len(s.items), nil
}

func (s *sliceSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if s.pos >= len(s.items) {
		return zero, ErrExhausted
	}
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

// generatorSeq pulls elements from a function. The generator returns
// (zero, false, nil) to signal exhaustion.
type generatorSeq[T any] struct {
	gen    func(ctx context.Context) (T, bool, error)
	peeked bool
	peek   T
	done   bool
	err    error
}

// FromGenerator wraps gen as a Sequence. gen is called lazily, once per
// pulled element, and never again after it reports exhaustion or an error.
func FromGenerator[T any](gen func(ctx context.Context) (T, bool, error)) Sequence[T] {
	return &generatorSeq[T]{gen: gen}
}

func (s *generatorSeq[T]) HasNext(ctx context.Context) (bool, error) {
	if s.peeked {
		return true, nil
	}
	if s.done {
		return false, s.err
	}
	v, ok, err := s.gen(ctx)
	if err != nil {
		s.done = true
		s.err = err
		return false, err
	}
	if !ok {
		s.done = true
		return false, nil
	}
	s.peek = v
	s.peeked = true
	return true, nil
}

func (s *generatorSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	ok, err := s.HasNext(ctx)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrExhausted
	}
	v := s.peek
	s.peek = zero
	s.peeked = false
	return v, nil
}

// Collect drains the sequence into a slice.
func Collect[T any](ctx context.Context, s Sequence[T]) ([]T, error) {
	var out []T
	for {
		ok, err := s.HasNext(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		v, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// ForEach applies fn to each element in order. A non-nil error from fn
// stops iteration and is returned.
func ForEach[T any](ctx context.Context, s Sequence[T], fn func(T) error) error {
	for {
		ok, err := s.HasNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		v, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
