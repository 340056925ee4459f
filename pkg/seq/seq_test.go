package seq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlice_PullsInOrder(t *testing.T) {
	ctx := context.Background()
	s := FromSlice([]int{1, 2, 3})

	out, err := Collect(ctx, s)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestFromSlice_NextAfterExhaustion(t *testing.T) {
	ctx := context.Background()
	s := FromSlice([]int{1})

	_, err := s.Next(ctx)
	require.NoError(t, err)

	ok, err := s.HasNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestFromChannel_ExhaustsOnClose(t *testing.T) {
	ctx := context.Background()
	ch := make(chan string, 3)
	ch <- "a"
	ch <- "b"
	close(ch)

	s := FromChannel(ch)
	out, err := Collect(ctx, s)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)

	ok, err := s.HasNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFromChannel_HasNextIdempotent(t *testing.T) {
	ctx := context.Background()
	ch := make(chan int, 1)
	ch <- 42

	s := FromChannel(ch)

	for i := 0; i < 3; i++ {
		ok, err := s.HasNext(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	v, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFromChannel_SuspendsUntilProduced(t *testing.T) {
	ctx := context.Background()
	ch := make(chan int)
	s := FromChannel(ch)

	go func() {
		time.Sleep(20 * time.Millisecond)
		ch <- 7
		close(ch)
	}()

	v, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFromChannel_CancelUnblocks(t *testing.T) {
	ch := make(chan int)
	s := FromChannel(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.HasNext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFromGenerator_LazyAndFinite(t *testing.T) {
	ctx := context.Background()
	calls := 0
	s := FromGenerator(func(ctx context.Context) (int, bool, error) {
		calls++
		if calls > 3 {
			return 0, false, nil
		}
		return calls, true, nil
	})

	assert.Equal(t, 0, calls)

	out, err := Collect(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Equal(t, 4, calls)

	// Exhaustion is sticky; the generator is not called again.
	ok, err := s.HasNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4, calls)
}

func TestFromGenerator_ErrorIsSticky(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	calls := 0
	s := FromGenerator(func(ctx context.Context) (int, bool, error) {
		calls++
		return 0, false, boom
	})

	_, err := s.HasNext(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestForEach_StopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	stop := errors.New("stop")
	var seen []int

	err := ForEach(ctx, FromSlice([]int{1, 2, 3, 4}), func(v int) error {
		seen = append(seen, v)
		if v == 2 {
			return stop
		}
		return nil
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []int{1, 2}, seen)
}
