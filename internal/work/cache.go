package work

import (
	"sync"
	"time"
)

// Cache is the single shared current-work slot. Protocol goroutines
// replace the item wholesale under the lock and workers copy it out.
type Cache struct {
	mu   sync.Mutex
	item Item
	at   time.Time
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{}
}

// Snapshot returns a copy of the current item and its fetch time
func (c *Cache) Snapshot() (Item, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.item.Clone(), c.at
}

// Store replaces the current item
func (c *Cache) Store(item Item, at time.Time) {
	item = item.Clone()
	c.mu.Lock()
	c.item = item
	c.at = at
	c.mu.Unlock()
}

// Update runs fn with the lock held. fn must not block on I/O.
func (c *Cache) Update(fn func(item *Item, at *time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.item, &c.at)
}

// Invalidate zeroes the fetch time so the next worker pass refreshes
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.at = time.Time{}
	c.mu.Unlock()
}

// Clear drops the item entirely, used on pool switches
func (c *Cache) Clear() {
	c.mu.Lock()
	c.item = Item{}
	c.at = time.Time{}
	c.mu.Unlock()
}

// Time returns the fetch time of the current item
func (c *Cache) Time() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

// Expired reports whether the item is older than scanTime
func (c *Cache) Expired(now time.Time, scanTime time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at.IsZero() || now.Sub(c.at) >= scanTime
}
