package geocode

import (
	"fmt"
	"sync"
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

// labelEntry holds a label with its expiration time
type labelEntry struct {
	label     string
	expiresAt time.Time
}

// LabelCache keeps recent reverse geocode labels keyed by coordinates rounded
// to two decimal places (roughly 1 km).
type LabelCache struct {
	mu       sync.RWMutex
	labels   map[string]labelEntry
	ttl      time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewLabelCache creates a cache whose entries live for ttl. Expired entries
// are swept every cleanupInterval.
func NewLabelCache(ttl, cleanupInterval time.Duration) *LabelCache {
	c := &LabelCache{
		labels:   make(map[string]labelEntry),
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}

	return c
}

// CacheKey returns the key a coordinate is stored under.
func CacheKey(coord geodesy.GeoCoordinate) string {
	return fmt.Sprintf("%.2f,%.2f", coord.LatitudeDeg, coord.LongitudeDeg)
}

// Get returns the cached label for a coordinate.
func (c *LabelCache) Get(coord geodesy.GeoCoordinate) (string, bool) {
	if c == nil {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.labels[CacheKey(coord)]
	if !exists || c.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.label, true
}

// Put stores a label for a coordinate.
func (c *LabelCache) Put(coord geodesy.GeoCoordinate, label string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.labels[CacheKey(coord)] = labelEntry{
		label:     label,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *LabelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.labels)
}

// Stop stops the background cleanup goroutine.
func (c *LabelCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// cleanupLoop periodically removes expired labels.
func (c *LabelCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			return
		}
	}
}

// cleanup removes all expired labels.
func (c *LabelCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.labels {
		if now.After(entry.expiresAt) {
			delete(c.labels, key)
		}
	}
}
