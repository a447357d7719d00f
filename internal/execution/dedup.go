package execution

import (
	"sync"
	"time"
)

type dedupEntry struct {
	id   string
	seen time.Time
}

// Dedup maps idempotency keys to the execution they started, so a retried
// start within the TTL returns the original execution. It is safe for
// concurrent use.
type Dedup struct {
	seen map[string]dedupEntry
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup remembering keys for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]dedupEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Lookup returns the execution id recorded for key, if still within the TTL.
func (d *Dedup) Lookup(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ent, ok := d.seen[key]
	if !ok || d.now().Sub(ent.seen) >= d.ttl {
		return "", false
	}
	return ent.id, true
}

// Remember records key as having started execution id.
func (d *Dedup) Remember(key, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = dedupEntry{id: id, seen: d.now()}
}

// Cleanup removes expired keys. Call it periodically.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ent := range d.seen {
		if now.Sub(ent.seen) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
