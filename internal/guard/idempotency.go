package guard

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultIdempotencyTTL     = 24 * time.Hour
	DefaultIdempotencyEntries = 10_000
)

// IdempotencyGuard deduplicates requests by idempotency key. Keys are
// remembered for a bounded time and count.
type IdempotencyGuard struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewIdempotencyGuard creates a new in-memory idempotency guard.
func NewIdempotencyGuard(size int, ttl time.Duration) *IdempotencyGuard {
	if size <= 0 {
		size = DefaultIdempotencyEntries
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyGuard{
		seen: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

// Check returns whether the given key has already been processed.
func (ig *IdempotencyGuard) Check(key string) Result {
	if key == "" {
		return allow()
	}

	ig.mu.Lock()
	defer ig.mu.Unlock()

	if ig.seen.Contains(key) {
		return Result{
			Allowed: false,
			Reason:  "duplicate request: idempotency key already processed",
			Guard:   "idempotency",
		}
	}
	ig.seen.Add(key, struct{}{})
	return allow()
}

// Remove deletes a key from the seen set (for retry scenarios).
func (ig *IdempotencyGuard) Remove(key string) {
	ig.seen.Remove(key)
}
