package alert

import (
	"sync"
	"time"
)

// CooldownTracker records the last successful notification per tenant and
// which tenants have a send in flight.
type CooldownTracker struct {
	mu       sync.Mutex
	lastSent map[int64]time.Time
	// cooldown is the window last requested for each tenant.
	cooldown map[int64]time.Duration
	inFlight map[int64]bool
	now      func() time.Time
}

// NewCooldownTracker returns an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{
		lastSent: make(map[int64]time.Time),
		cooldown: make(map[int64]time.Duration),
		inFlight: make(map[int64]bool),
		now:      time.Now,
	}
}

// Reserve claims the tenant for one send if the cooldown has elapsed and
// no other send is in flight. Every successful Reserve must be followed by
// Release.
func (c *CooldownTracker) Reserve(tenantID int64, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cooldown[tenantID] = cooldown
	if c.inFlight[tenantID] {
		return false
	}
	if last, ok := c.lastSent[tenantID]; ok && c.now().Sub(last) < cooldown {
		return false
	}
	c.inFlight[tenantID] = true
	return true
}

// Release ends a reservation. lastSent only moves on success.
func (c *CooldownTracker) Release(tenantID int64, sent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, tenantID)
	if sent {
		c.lastSent[tenantID] = c.now()
	}
}

// LastSent returns the last successful send for the tenant.
func (c *CooldownTracker) LastSent(tenantID int64) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastSent[tenantID]
	return t, ok
}

// Cleanup drops entries older than maxAge. An entry whose tenant cooldown
// is longer than maxAge is kept until that cooldown has elapsed.
func (c *CooldownTracker) Cleanup(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for tenant, last := range c.lastSent {
		age := now.Sub(last)
		if age <= maxAge || age < c.cooldown[tenant] || c.inFlight[tenant] {
			continue
		}
		delete(c.lastSent, tenant)
		delete(c.cooldown, tenant)
	}
}

// InFlight reports whether a send for the tenant is in progress.
func (c *CooldownTracker) InFlight(tenantID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[tenantID]
}
