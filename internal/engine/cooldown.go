package engine

import (
	"sync"
	"time"
)

// Cooldown suppresses repeats of the same alert type for a machine.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time), now: func() time.Time { return time.Now().UTC() }}
}

func (c *Cooldown) Allow(machineID, alertType string, cooldown time.Duration) bool {
	return c.AllowKey(machineID+"|"+alertType, cooldown)
}

func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}

// Clear forgets every recorded alert time.
func (c *Cooldown) Clear() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}
