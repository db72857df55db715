// Package symbols resolves user-facing trading symbols to feed pair identifiers.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"papertrade/pkg/cache"
	"papertrade/pkg/market/coindcx"
)

// ErrSymbolNotFound is returned when a symbol is unknown or not active.
var ErrSymbolNotFound = errors.New("symbol not found in active markets")

// defaultPairTTL bounds how long a cached mapping is trusted. Listings do
// change; a delisted market must eventually stop resolving.
const defaultPairTTL = 12 * time.Hour

// MarketsAPI is the REST surface the resolver needs.
type MarketsAPI interface {
	MarketsDetails(ctx context.Context) ([]coindcx.MarketDetail, error)
}

// Resolver maps symbols to pairs, caching results and throttling REST lookups.
type Resolver struct {
	client  MarketsAPI
	cache   *cache.ShardedPairCache
	limiter *rate.Limiter
	ttl     time.Duration
}

// NewResolver builds a resolver over the given markets API.
func NewResolver(client MarketsAPI) *Resolver {
	return &Resolver{
		client: client,
		cache:  cache.NewShardedPairCache(),
		// markets_details is a heavy endpoint; one lookup per second is plenty
		limiter: rate.NewLimiter(rate.Limit(1), 2),
		ttl:     defaultPairTTL,
	}
}

// Pair returns the feed pair for a symbol. Fresh cache hits are free; misses
// and expired entries fetch the markets list and cache every active market
// seen along the way.
func (r *Resolver) Pair(ctx context.Context, symbol string) (string, error) {
	if pair, age, ok := r.cache.GetWithAge(symbol); ok {
		if age < r.ttl {
			return pair, nil
		}
		r.cache.Delete(symbol)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	markets, err := r.client.MarketsDetails(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch markets: %w", err)
	}

	resolved := ""
	for _, m := range markets {
		if m.Status != "active" {
			continue
		}
		r.cache.Set(m.Symbol, m.Pair)
		if m.Symbol == symbol {
			resolved = m.Pair
		}
	}

	if resolved == "" {
		return "", fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	log.Printf("📡 Resolved symbol %s -> %s (%d pairs cached)", symbol, resolved, r.cache.Len())
	return resolved, nil
}
