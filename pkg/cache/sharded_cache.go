package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const numShards = 16

// PriceCache holds the latest mark price per symbol, sharded to keep
// mark-price writers off each other's locks.
type PriceCache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     decimal.Decimal
	eventTime int64
	updatedAt time.Time
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{
			items: make(map[string]priceEntry),
		}
	}
	return c
}

func (c *PriceCache) shard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price for a symbol. Updates carrying an older event time than the
// stored one are ignored; eventTime 0 always wins.
func (c *PriceCache) Set(symbol string, price decimal.Decimal, eventTime int64) bool {
	s := c.shard(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[symbol]; ok && eventTime != 0 && eventTime < cur.eventTime {
		return false
	}
	s.items[symbol] = priceEntry{
		price:     price,
		eventTime: eventTime,
		updatedAt: time.Now(),
	}
	return true
}

// Get retrieves a price for a symbol.
func (c *PriceCache) Get(symbol string) (decimal.Decimal, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	entry, ok := s.items[symbol]
	s.mu.RUnlock()
	return entry.price, ok
}

// GetWithAge retrieves price and the time since it was stored.
func (c *PriceCache) GetWithAge(symbol string) (decimal.Decimal, time.Duration, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	entry, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, 0, false
	}
	return entry.price, time.Since(entry.updatedAt), true
}

// Delete removes a symbol from the cache.
func (c *PriceCache) Delete(symbol string) {
	s := c.shard(symbol)
	s.mu.Lock()
	delete(s.items, symbol)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge.
func (c *PriceCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, s := range c.shards {
		s.mu.Lock()
		for sym, entry := range s.items {
			if entry.updatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// All returns a copy of every cached price.
func (c *PriceCache) All() map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, entry := range s.items {
			result[sym] = entry.price
		}
		s.mu.RUnlock()
	}
	return result
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems int           `json:"total_items"`
	OldestAge  time.Duration `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *PriceCache) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for _, s := range c.shards {
		s.mu.RLock()
		stats.TotalItems += len(s.items)
		for _, entry := range s.items {
			if oldest.IsZero() || entry.updatedAt.Before(oldest) {
				oldest = entry.updatedAt
			}
		}
		s.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}
