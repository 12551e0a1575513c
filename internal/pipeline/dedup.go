package pipeline

import (
	"sync"
	"time"

	"silexa/triagebot/internal/issue"
)

// messageIDSet is the per-message-id idempotency registry from §4.7: a
// TTL set keyed on "channel_id\x00message_id" that rejects chat retries.
// The mutex-guarded-map-with-stored-at-timestamp shape mirrors
// issuematch.Matcher's searchCached TTL cache, narrowed to set semantics.
type messageIDSet struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
}

func newMessageIDSet(ttl time.Duration) *messageIDSet {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &messageIDSet{seen: map[string]time.Time{}, ttl: ttl}
}

// claim reports whether key was already claimed within the TTL window
// (a replay); otherwise it records key as claimed and returns false.
func (s *messageIDSet) claim(key string) (alreadySeen bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if storedAt, ok := s.seen[key]; ok && now.Sub(storedAt) < s.ttl {
		return true
	}
	s.seen[key] = now
	s.sweepLocked(now)
	return false
}

// sweepLocked drops expired entries opportunistically on each claim,
// avoiding an unbounded map without a dedicated background goroutine —
// contention here is trivial per §5's shared-mutable-state note.
func (s *messageIDSet) sweepLocked(now time.Time) {
	for k, storedAt := range s.seen {
		if now.Sub(storedAt) >= s.ttl {
			delete(s.seen, k)
		}
	}
}

// fingerprintCache is the per-fingerprint create-dedup registry from §4.7:
// a TTL map from "(repo, signature)" to the issue created for it, consulted
// before CREATING so a retry after the matcher's confidence miss still
// converges on the same issue rather than creating a duplicate.
type fingerprintCache struct {
	mu      sync.Mutex
	entries map[string]fingerprintEntry
	ttl     time.Duration
}

type fingerprintEntry struct {
	issue    issue.Issue
	storedAt time.Time
}

func newFingerprintCache(ttl time.Duration) *fingerprintCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &fingerprintCache{entries: map[string]fingerprintEntry{}, ttl: ttl}
}

func (c *fingerprintCache) get(key string) (issue.Issue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.storedAt) >= c.ttl {
		return issue.Issue{}, false
	}
	return e.issue, true
}

func (c *fingerprintCache) remember(key string, iss issue.Issue) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = fingerprintEntry{issue: iss, storedAt: now}
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

// fingerprintKey builds the "(repo, signature)" dedup key from §9's
// glossary definition.
func fingerprintKey(repo, signature string) string {
	return repo + "\x00" + signature
}
