// Package streamstate tracks per-stream lifecycle for response streams:
// creation, running/paused transitions, terminal states, retry bookkeeping,
// and expiry of finished records.
package streamstate

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/corvid-agent/corvid/internal/observability"
)

// Status is a stream lifecycle state.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusError     Status = "ERROR"
	StatusCompleted Status = "COMPLETED"
	StatusClosed    Status = "CLOSED"
)

// StreamState is one stream's lifecycle record. Records are mutated only by
// the tracker's own transition methods; Get returns copies.
type StreamState struct {
	ID          string
	Name        string
	Status      Status
	UpdatedAt   time.Time
	PausedAt    *time.Time
	ErroredAt   *time.Time
	CompletedAt *time.Time
	LastErr     error
	Retries     int
}

// Tracker is a concurrent registry of stream lifecycle records.
type Tracker struct {
	mu      sync.RWMutex
	streams map[string]*StreamState
	counter atomic.Uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	observability.EnsureRegistered()
	return &Tracker{streams: make(map[string]*StreamState)}
}

// Create registers a new stream in CREATED state and returns its ID.
func (t *Tracker) Create(name string) string {
	suffix, err := gonanoid.New(8)
	if err != nil {
		// nanoid only fails when the OS entropy source does; fall back to
		// the counter alone.
		suffix = "0"
	}
	id := fmt.Sprintf("stream-%d-%d-%s", t.counter.Add(1), time.Now().UnixMilli(), suffix)

	t.mu.Lock()
	t.streams[id] = &StreamState{
		ID:        id,
		Name:      name,
		Status:    StatusCreated,
		UpdatedAt: time.Now(),
	}
	active := t.activeCountLocked()
	t.mu.Unlock()

	observability.SetActiveStreams(active)
	log.Debug().Str("stream_id", id).Str("name", name).Msg("Stream created")
	return id
}

// UpdateStatus transitions a stream to status. CLOSED removes the record.
// Transitions out of CLOSED are impossible because the record is gone.
func (t *Tracker) UpdateStatus(id string, status Status) bool {
	if status == StatusClosed {
		return t.Close(id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.streams[id]
	if !ok {
		return false
	}

	now := time.Now()
	s.Status = status
	s.UpdatedAt = now
	switch status {
	case StatusPaused:
		s.PausedAt = &now
	case StatusCompleted:
		s.CompletedAt = &now
	case StatusError:
		s.ErroredAt = &now
	}
	return true
}

// Pause transitions a stream to PAUSED.
func (t *Tracker) Pause(id string) bool { return t.UpdateStatus(id, StatusPaused) }

// Resume transitions a stream back to RUNNING.
func (t *Tracker) Resume(id string) bool { return t.UpdateStatus(id, StatusRunning) }

// Complete transitions a stream to COMPLETED.
func (t *Tracker) Complete(id string) bool { return t.UpdateStatus(id, StatusCompleted) }

// Fail transitions a stream to ERROR, recording the cause.
func (t *Tracker) Fail(id string, cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.streams[id]
	if !ok {
		return false
	}

	now := time.Now()
	s.Status = StatusError
	s.UpdatedAt = now
	s.ErroredAt = &now
	s.LastErr = cause
	return true
}

// Retry moves a stream from ERROR back to RUNNING, incrementing its retry
// count and clearing the stored error. It is the only ERROR -> RUNNING path.
func (t *Tracker) Retry(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.streams[id]
	if !ok || s.Status != StatusError {
		return false
	}

	s.Status = StatusRunning
	s.UpdatedAt = time.Now()
	s.LastErr = nil
	s.ErroredAt = nil
	s.Retries++

	log.Debug().Str("stream_id", id).Int("retries", s.Retries).Msg("Stream retried")
	return true
}

// Close removes the stream's record. CLOSED is terminal.
func (t *Tracker) Close(id string) bool {
	t.mu.Lock()
	_, ok := t.streams[id]
	delete(t.streams, id)
	active := t.activeCountLocked()
	t.mu.Unlock()

	if ok {
		observability.SetActiveStreams(active)
		log.Debug().Str("stream_id", id).Msg("Stream closed")
	}
	return ok
}

// Get returns a copy of the stream's record.
func (t *Tracker) Get(id string) (StreamState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.streams[id]
	if !ok {
		return StreamState{}, false
	}
	return *s, true
}

// ActiveCount reports streams not in a terminal or errored state.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeCountLocked()
}

// TotalCount reports all registered streams.
func (t *Tracker) TotalCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.streams)
}

func (t *Tracker) activeCountLocked() int {
	n := 0
	for _, s := range t.streams {
		switch s.Status {
		case StatusCompleted, StatusError, StatusClosed:
		default:
			n++
		}
	}
	return n
}

// CleanupExpired removes COMPLETED and ERROR records whose last update is
// older than maxAge. RUNNING and PAUSED streams are never swept. Returns
// the number of removed records.
func (t *Tracker) CleanupExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	removed := 0
	for id, s := range t.streams {
		if s.Status != StatusCompleted && s.Status != StatusError {
			continue
		}
		if s.UpdatedAt.Before(cutoff) {
			delete(t.streams, id)
			removed++
		}
	}
	active := t.activeCountLocked()
	t.mu.Unlock()

	if removed > 0 {
		observability.SetActiveStreams(active)
		observability.RecordSweptStreams(removed)
		log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("Expired streams cleaned up")
	}
	return removed
}
