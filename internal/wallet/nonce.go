package wallet

import (
	"sync"
	"time"
)

// NonceStore is the anti-replay window for signed HTTP requests, keyed
// by (kid, nonce). It is the one piece of cross-request in-process state
// the system carries; entries expire after the configured TTL.
type NonceStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[nonceKey]time.Time

	// Now is the time source, overridable for tests.
	Now func() time.Time
}

type nonceKey struct {
	kid   string
	nonce string
}

// DefaultNonceTTL is the replay rejection window.
const DefaultNonceTTL = 5 * time.Minute

// NewNonceStore returns a store with the given TTL (DefaultNonceTTL if
// zero).
func NewNonceStore(ttl time.Duration) *NonceStore {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &NonceStore{
		ttl:  ttl,
		seen: make(map[nonceKey]time.Time),
		Now:  time.Now,
	}
}

// Remember records (kid, nonce) and reports whether it was fresh. A
// false return means the nonce was already seen inside the TTL window
// and the request must be rejected as a replay.
func (n *NonceStore) Remember(kid, nonce string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.Now()
	n.sweep(now)

	key := nonceKey{kid: kid, nonce: nonce}
	if at, ok := n.seen[key]; ok && now.Sub(at) < n.ttl {
		return false
	}
	n.seen[key] = now
	return true
}

// sweep drops expired entries. Called under the lock; the map stays
// bounded by the request rate times the TTL.
func (n *NonceStore) sweep(now time.Time) {
	for key, at := range n.seen {
		if now.Sub(at) >= n.ttl {
			delete(n.seen, key)
		}
	}
}
