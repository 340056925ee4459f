// Package backpressure bounds how many decoded-but-unconsumed messages may
// be in flight between the strategy layer and a consumer.
package backpressure

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/corvid-agent/corvid/internal/observability"
)

// Strategy selects what happens when the buffer is at or near capacity.
type Strategy string

const (
	// Block suspends the caller until a slot frees.
	Block Strategy = "block"
	// DropOldest refuses the incoming item when no slot is immediately
	// free. Permits are non-preemptive, so under this scheme the effect is
	// drop-newest-on-no-slot; the name is kept for config compatibility.
	DropOldest Strategy = "drop_oldest"
	// DropLatest refuses admission whenever occupancy is at or above
	// capacity.
	DropLatest Strategy = "drop_latest"
	// Buffer always admits, allowing occupancy to exceed capacity.
	Buffer Strategy = "buffer"
)

// Config holds controller configuration.
type Config struct {
	Capacity      int
	Strategy      Strategy
	HighWatermark float64 // fraction of capacity; default 0.8
	LowWatermark  float64 // fraction of capacity; default 0.3
}

// Stats is an immutable snapshot of controller state.
type Stats struct {
	Capacity  int
	Occupancy int
	Available int
	Processed uint64
	Dropped   uint64
	Active    bool
	Strategy  Strategy
}

// Controller caps concurrent in-flight items with watermark hysteresis.
type Controller struct {
	capacity int
	strategy Strategy
	high     int
	low      int

	mu        sync.Mutex
	occupancy int
	processed uint64
	dropped   uint64
	active    bool
	waiters   chan struct{} // slot tokens for Block admission
}

// New creates a Controller. Zero watermarks default to 80%/30% of capacity.
func New(cfg Config) *Controller {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.Strategy == "" {
		cfg.Strategy = Block
	}
	if cfg.HighWatermark <= 0 || cfg.HighWatermark > 1 {
		cfg.HighWatermark = 0.8
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark >= cfg.HighWatermark {
		cfg.LowWatermark = 0.3
	}

	high := int(float64(cfg.Capacity) * cfg.HighWatermark)
	if high < 1 {
		high = 1
	}
	low := int(float64(cfg.Capacity) * cfg.LowWatermark)

	c := &Controller{
		capacity: cfg.Capacity,
		strategy: cfg.Strategy,
		high:     high,
		low:      low,
		waiters:  make(chan struct{}, cfg.Capacity),
	}
	// Pre-fill slot tokens for blocking admission.
	for i := 0; i < cfg.Capacity; i++ {
		c.waiters <- struct{}{}
	}
	return c
}

// RequestPermit asks to admit one item. Under Block it suspends on ctx
// until a slot frees; cancellation degrades to "not admitted" rather than
// an error so producer loops keep running. All other strategies return
// immediately.
func (c *Controller) RequestPermit(ctx context.Context) bool {
	switch c.strategy {
	case Block:
		select {
		case <-c.waiters:
			c.admit()
			return true
		default:
		}
		select {
		case <-c.waiters:
			c.admit()
			return true
		case <-ctx.Done():
			c.drop()
			return false
		}

	case DropOldest:
		select {
		case <-c.waiters:
			c.admit()
			return true
		default:
			c.drop()
			return false
		}

	case DropLatest:
		c.mu.Lock()
		atCapacity := c.occupancy >= c.capacity
		c.mu.Unlock()
		if atCapacity {
			c.drop()
			return false
		}
		select {
		case <-c.waiters:
		default:
			// Occupancy raced past capacity between the check and the
			// token take; still admit per the pre-check decision.
		}
		c.admit()
		return true

	case Buffer:
		select {
		case <-c.waiters:
		default:
		}
		c.admit()
		c.mu.Lock()
		over := c.occupancy > c.capacity
		occupancy := c.occupancy
		c.mu.Unlock()
		if over {
			log.Warn().
				Int("occupancy", occupancy).
				Int("capacity", c.capacity).
				Msg("Buffer strategy exceeded capacity")
		}
		return true
	}

	return false
}

// ReleasePermit must be called exactly once per admitted item.
func (c *Controller) ReleasePermit() {
	c.mu.Lock()
	if c.occupancy > 0 {
		c.occupancy--
	}
	c.processed++
	if c.active && c.occupancy <= c.low {
		c.active = false
		log.Debug().
			Int("occupancy", c.occupancy).
			Int("low_watermark", c.low).
			Msg("Backpressure deactivated")
	}
	occupancy := c.occupancy
	active := c.active
	c.mu.Unlock()

	// Return the slot token unless occupancy had overrun capacity
	// (Buffer strategy admits without a token).
	select {
	case c.waiters <- struct{}{}:
	default:
	}

	observability.SetBackpressureOccupancy(string(c.strategy), occupancy)
	observability.SetBackpressureActive(string(c.strategy), active)
}

// Stats returns an immutable snapshot.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	available := c.capacity - c.occupancy
	if available < 0 {
		available = 0
	}
	return Stats{
		Capacity:  c.capacity,
		Occupancy: c.occupancy,
		Available: available,
		Processed: c.processed,
		Dropped:   c.dropped,
		Active:    c.active,
		Strategy:  c.strategy,
	}
}

func (c *Controller) admit() {
	c.mu.Lock()
	c.occupancy++
	if !c.active && c.occupancy >= c.high {
		c.active = true
		log.Debug().
			Int("occupancy", c.occupancy).
			Int("high_watermark", c.high).
			Msg("Backpressure activated")
	}
	occupancy := c.occupancy
	active := c.active
	c.mu.Unlock()

	observability.SetBackpressureOccupancy(string(c.strategy), occupancy)
	observability.SetBackpressureActive(string(c.strategy), active)
}

func (c *Controller) drop() {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
	observability.RecordBackpressureDrop(string(c.strategy))
}
