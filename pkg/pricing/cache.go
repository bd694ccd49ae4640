package pricing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TokenPriceCache keeps fetched USD prices for a fixed TTL so repeated
// evaluations of the same chain do not hit the price API
type TokenPriceCache struct {
	mu       sync.RWMutex
	cache    map[string]cachedPrice
	cacheTTL time.Duration
	now      func() time.Time
}

type cachedPrice struct {
	price     decimal.Decimal
	timestamp time.Time
}

// NewTokenPriceCache creates a cache whose entries expire after cacheTTL
func NewTokenPriceCache(cacheTTL time.Duration) *TokenPriceCache {
	return &TokenPriceCache{
		cache:    make(map[string]cachedPrice),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Get returns the cached price for coinID if it has not expired
func (c *TokenPriceCache) Get(coinID string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[coinID]
	if !exists || c.now().Sub(cached.timestamp) > c.cacheTTL {
		return decimal.Zero, false
	}
	return cached.price, true
}

// Set stores a price stamped with the current time
func (c *TokenPriceCache) Set(coinID string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[coinID] = cachedPrice{price: price, timestamp: c.now()}
}

// Clear removes all cached entries
func (c *TokenPriceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]cachedPrice)
}

// Len returns the number of cached entries, expired or not
func (c *TokenPriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
