// Package dedup suppresses redundant page-activity reports.
//
// The cache remembers, per tab, the last URL that was reported. A report is
// due only when the URL is non-empty and differs from that last value; the
// previous values before it do not matter, so revisiting an older URL is
// reported again. Entries are bounded by concurrently open tabs — no
// capacity limit is needed.
package dedup

import "sync"

// Cache is a per-tab last-reported-URL map. The zero value is not usable;
// call New.
type Cache struct {
	mu   sync.Mutex
	last map[string]string // tab id -> last reported URL
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{last: make(map[string]string)}
}

// ShouldReport reports whether (tabID, url) is worth sending: url must be
// non-empty and differ from the last recorded URL for that tab. An absent
// entry differs from anything.
func (c *Cache) ShouldReport(tabID, url string) bool {
	if url == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[tabID] != url
}

// Record stores url as the last reported value for tabID.
func (c *Cache) Record(tabID, url string) {
	c.mu.Lock()
	c.last[tabID] = url
	c.mu.Unlock()
}

// Remove forgets a tab. Called when the tab closes.
func (c *Cache) Remove(tabID string) {
	c.mu.Lock()
	delete(c.last, tabID)
	c.mu.Unlock()
}

// Clear wipes all entries. Called on logout and on agent reset.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.last = make(map[string]string)
	c.mu.Unlock()
}

// Len returns the number of tracked tabs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
