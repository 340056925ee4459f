package seq

import "context"

// Map returns a sequence that applies f to each pulled element. Nothing is
// pre-fetched; f runs when the element is pulled.
func Map[T, U any](src Sequence[T], f func(T) U) Sequence[U] {
	return &mapSeq[T, U]{src: src, f: f}
}

type mapSeq[T, U any] struct {
	src Sequence[T]
	f   func(T) U
}

func (s *mapSeq[T, U]) HasNext(ctx context.Context) (bool, error) {
	return s.src.HasNext(ctx)
}

func (s *mapSeq[T, U]) Next(ctx context.Context) (U, error) {
	var zero U
	v, err := s.src.Next(ctx)
	if err != nil {
		return zero, err
	}
	return s.f(v), nil
}

// Filter returns a sequence of the elements satisfying p. At most one
// matched-but-unconsumed element is buffered so HasNext stays idempotent.
func Filter[T any](src Sequence[T], p func(T) bool) Sequence[T] {
	return &filterSeq[T]{src: src, p: p}
}

type filterSeq[T any] struct {
	src    Sequence[T]
	p      func(T) bool
	peeked bool
	peek   T
}

func (s *filterSeq[T]) HasNext(ctx context.Context) (bool, error) {
	if s.peeked {
		return true, nil
	}
	for {
		ok, err := s.src.HasNext(ctx)
		if err != nil || !ok {
			return false, err
		}
		v, err := s.src.Next(ctx)
		if err != nil {
			return false, err
		}
		if s.p(v) {
			s.peek = v
			s.peeked = true
			return true, nil
		}
	}
}

func (s *filterSeq[T]) Next(ctx context.Context) (T, error) {
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

// Limit returns a sequence exposing at most n elements of src. HasNext
// reports false once n elements have been delivered even if src has more.
func Limit[T any](src Sequence[T], n int) Sequence[T] {
	return &limitSeq[T]{src: src, remaining: n}
}

type limitSeq[T any] struct {
	src       Sequence[T]
	remaining int
}

func (s *limitSeq[T]) HasNext(ctx context.Context) (bool, error) {
	if s.remaining <= 0 {
		return false, nil
	}
	return s.src.HasNext(ctx)
}

func (s *limitSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if s.remaining <= 0 {
		return zero, ErrExhausted
	}
	v, err := s.src.Next(ctx)
	if err != nil {
		return zero, err
	}
	s.remaining--
	return v, nil
}

// Skip returns a sequence that discards the first n elements of src. The
// discard happens lazily on first access, not at construction.
func Skip[T any](src Sequence[T], n int) Sequence[T] {
	return &skipSeq[T]{src: src, toSkip: n}
}

type skipSeq[T any] struct {
	src    Sequence[T]
	toSkip int
}

func (s *skipSeq[T]) drain(ctx context.Context) error {
	for s.toSkip > 0 {
		ok, err := s.src.HasNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			s.toSkip = 0
			return nil
		}
		if _, err := s.src.Next(ctx); err != nil {
			return err
		}
		s.toSkip--
	}
	return nil
}

func (s *skipSeq[T]) HasNext(ctx context.Context) (bool, error) {
	if err := s.drain(ctx); err != nil {
		return false, err
	}
	return s.src.HasNext(ctx)
}

func (s *skipSeq[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := s.drain(ctx); err != nil {
		return zero, err
	}
	return s.src.Next(ctx)
}
