package streamstate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_Defaults(t *testing.T) {
	s := NewSweeper(NewTracker(), "", 0)

	assert.Equal(t, DefaultSweepSchedule, s.schedule)
	assert.Equal(t, DefaultMaxAge, s.maxAge)
}

func TestSweeper_StartStopIdempotent(t *testing.T) {
	s := NewSweeper(NewTracker(), "@every 1h", time.Hour)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	// Second Start is a no-op.
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	s := NewSweeper(NewTracker(), "not a schedule", time.Hour)

	err := s.Start()

	assert.Error(t, err)
	assert.False(t, s.IsRunning())
}

func TestSweeper_SweepNow(t *testing.T) {
	tr := NewTracker()
	done := tr.Create("done")
	tr.Complete(done)
	failed := tr.Create("failed")
	tr.Fail(failed, errors.New("boom"))

	tr.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	tr.streams[done].UpdatedAt = past
	tr.streams[failed].UpdatedAt = past
	tr.mu.Unlock()

	s := NewSweeper(tr, "@every 1h", time.Hour)

	assert.Equal(t, 2, s.SweepNow())
	assert.Equal(t, 0, tr.TotalCount())
}
