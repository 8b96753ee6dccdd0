package fence

import (
	"math"
	"sync"
	"time"
)

type cooldownKey struct {
	cameraID string
	fence    string
	class    string
	quantX   float64
	quantY   float64
}

// Cooldown suppresses repeated events for a near-stationary object. The key
// quantizes the detection center so small jitter maps onto the same slot.
type Cooldown struct {
	window time.Duration
	scale  float64

	mu   sync.Mutex
	last map[cooldownKey]time.Time

	now func() time.Time
}

// NewCooldown builds a cooldown table. digits controls how many decimal
// places of the normalized center survive quantization.
func NewCooldown(window time.Duration, digits int) *Cooldown {
	if digits < 0 {
		digits = 0
	}
	return &Cooldown{
		window: window,
		scale:  math.Pow(10, float64(digits)),
		last:   make(map[cooldownKey]time.Time),
		now:    time.Now,
	}
}

// Admit reports whether an event for this identity may be emitted now, and
// records the emission when it is. At most one admission per key per window.
func (c *Cooldown) Admit(cameraID, fence, class string, centerX, centerY float64) bool {
	key := cooldownKey{
		cameraID: cameraID,
		fence:    fence,
		class:    class,
		quantX:   math.Round(centerX*c.scale) / c.scale,
		quantY:   math.Round(centerY*c.scale) / c.scale,
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

// EvictStale drops keys that have not fired for ten cooldown windows and
// returns how many were removed. Keeps the table bounded over long runs.
func (c *Cooldown) EvictStale() int {
	cutoff := c.now().Add(-10 * c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, last := range c.last {
		if last.Before(cutoff) {
			delete(c.last, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live keys.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
