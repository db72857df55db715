package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedPairCache caches resolved symbol→pair mappings with sharding so
// concurrent sessions resolving different symbols do not contend on one lock.
type ShardedPairCache struct {
	shards [numShards]*pairShard
}

type pairShard struct {
	mu    sync.RWMutex
	items map[string]pairEntry
}

type pairEntry struct {
	pair       string
	resolvedAt time.Time
}

// NewShardedPairCache creates a new sharded cache.
func NewShardedPairCache() *ShardedPairCache {
	c := &ShardedPairCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &pairShard{
			items: make(map[string]pairEntry),
		}
	}
	return c
}

func (c *ShardedPairCache) getShard(key string) *pairShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the resolved pair for a symbol.
func (c *ShardedPairCache) Set(symbol, pair string) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = pairEntry{pair: pair, resolvedAt: time.Now()}
	shard.mu.Unlock()
}

// Get retrieves the resolved pair for a symbol.
func (c *ShardedPairCache) Get(symbol string) (string, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.pair, ok
}

// GetWithAge retrieves the pair and how long ago it was resolved.
func (c *ShardedPairCache) GetWithAge(symbol string) (string, time.Duration, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return "", 0, false
	}
	return entry.pair, time.Since(entry.resolvedAt), true
}

// Delete removes a symbol from the cache.
func (c *ShardedPairCache) Delete(symbol string) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	delete(shard.items, symbol)
	shard.mu.Unlock()
}

// Len returns the total number of cached entries.
func (c *ShardedPairCache) Len() int {
	total := 0
	for i := 0; i < numShards; i++ {
		c.shards[i].mu.RLock()
		total += len(c.shards[i].items)
		c.shards[i].mu.RUnlock()
	}
	return total
}
