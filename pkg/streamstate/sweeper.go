package streamstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSweepSchedule runs the expiry sweep every five minutes.
	DefaultSweepSchedule = "@every 5m"
	// DefaultMaxAge is how long finished records linger before removal.
	DefaultMaxAge = 30 * time.Minute
)

// Sweeper periodically removes expired stream records on a cron schedule.
type Sweeper struct {
	tracker  *Tracker
	schedule string
	maxAge   time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper for tracker. Empty schedule and zero maxAge
// take the defaults.
func NewSweeper(tracker *Tracker, schedule string, maxAge time.Duration) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Sweeper{
		tracker:  tracker,
		schedule: schedule,
		maxAge:   maxAge,
	}
}

// Start schedules the sweep. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron = c
	s.running = true

	log.Info().
		Str("schedule", s.schedule).
		Dur("max_age", s.maxAge).
		Msg("Stream sweeper started")
	return nil
}

// Stop halts scheduling. Running sweeps finish. Idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
	s.running = false

	log.Info().Msg("Stream sweeper stopped")
}

// IsRunning reports whether the sweeper is scheduled.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SweepNow runs one sweep immediately.
func (s *Sweeper) SweepNow() int {
	return s.tracker.CleanupExpired(s.maxAge)
}

func (s *Sweeper) sweep() {
	s.tracker.CleanupExpired(s.maxAge)
}
