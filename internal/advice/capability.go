// Package advice implements the single-shot advice engine: capability
// probing, structured/text fallback, per-class timeouts, and retry over
// the provider clients.
package advice

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
)

// capabilityTTL bounds how long a probed structured-output answer is
// trusted before the next caller re-probes.
const capabilityTTL = time.Hour

// capabilityCache answers "does runtime probing show this model emit
// valid schema-constrained JSON". Concurrent first-time lookups share a
// single probe via singleflight.
type capabilityCache struct {
	mu      sync.RWMutex
	entries map[string]capabilityEntry
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
}

type capabilityEntry struct {
	supported bool
	expires   time.Time
}

func newCapabilityCache() *capabilityCache {
	return &capabilityCache{
		entries: make(map[string]capabilityEntry),
		ttl:     capabilityTTL,
		now:     time.Now,
	}
}

// lookup returns the cached answer for modelID, if fresh.
func (c *capabilityCache) lookup(modelID string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[modelID]
	if !ok || c.now().After(e.expires) {
		return false, false
	}
	return e.supported, true
}

// set records an answer for modelID with a fresh TTL.
func (c *capabilityCache) set(modelID string, supported bool) {
	c.mu.Lock()
	c.entries[modelID] = capabilityEntry{supported: supported, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	L_debug("capability cached", "model", modelID, "structured", supported)
}

// invalidate flips modelID to unsupported, used when a live structured
// call comes back with a format error.
func (c *capabilityCache) invalidate(modelID string) {
	c.set(modelID, false)
}

// resolve returns the cached answer or runs probe once, shared across
// concurrent callers for the same model id. probe reports (supported,
// cacheable); uncacheable outcomes are returned but not stored.
func (c *capabilityCache) resolve(ctx context.Context, modelID string, probe func(context.Context) (bool, bool)) bool {
	if supported, ok := c.lookup(modelID); ok {
		return supported
	}

	v, _, _ := c.group.Do(modelID, func() (interface{}, error) {
		// Re-check under the flight: a racing caller may have finished.
		if supported, ok := c.lookup(modelID); ok {
			return supported, nil
		}
		supported, cacheable := probe(ctx)
		if cacheable {
			c.set(modelID, supported)
		}
		return supported, nil
	})
	return v.(bool)
}
