package moderation

import (
	"context"
	"sync"
	"time"
)

type oracleKey struct {
	chatID int64
	userID int64
}

type oracleEntry struct {
	isAdmin   bool
	expiresAt time.Time
}

// CachedOracle memoizes administrator lookups for a TTL so every message
// does not cost a Telegram API round trip. Errors are never cached.
type CachedOracle struct {
	inner MembershipOracle
	ttl   time.Duration

	mu      sync.Mutex
	entries map[oracleKey]oracleEntry
}

func NewCachedOracle(inner MembershipOracle, ttl time.Duration) *CachedOracle {
	return &CachedOracle{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[oracleKey]oracleEntry),
	}
}

func (c *CachedOracle) IsAdministrator(ctx context.Context, chatID, userID int64) (bool, error) {
	key := oracleKey{chatID, userID}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.isAdmin, nil
	}
	c.mu.Unlock()

	isAdmin, err := c.inner.IsAdministrator(ctx, chatID, userID)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.entries[key] = oracleEntry{isAdmin: isAdmin, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return isAdmin, nil
}
