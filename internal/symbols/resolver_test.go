package symbols

import (
	"context"
	"errors"
	"testing"
	"time"

	"papertrade/pkg/market/coindcx"
)

type fakeMarketsAPI struct {
	markets []coindcx.MarketDetail
	calls   int
	err     error
}

func (f *fakeMarketsAPI) MarketsDetails(ctx context.Context) ([]coindcx.MarketDetail, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.markets, nil
}

func TestResolverCachesLookups(t *testing.T) {
	api := &fakeMarketsAPI{markets: []coindcx.MarketDetail{
		{Symbol: "BTCINR", Pair: "B-BTC_INR", Status: "active"},
		{Symbol: "ETHINR", Pair: "B-ETH_INR", Status: "active"},
		{Symbol: "OLDINR", Pair: "B-OLD_INR", Status: "inactive"},
	}}
	r := NewResolver(api)
	ctx := context.Background()

	pair, err := r.Pair(ctx, "BTCINR")
	if err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	if pair != "B-BTC_INR" {
		t.Fatalf("pair=%q, expected B-BTC_INR", pair)
	}
	if api.calls != 1 {
		t.Fatalf("calls=%d, expected 1", api.calls)
	}

	// Second symbol was cached opportunistically by the first fetch.
	pair, err = r.Pair(ctx, "ETHINR")
	if err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	if pair != "B-ETH_INR" {
		t.Fatalf("pair=%q, expected B-ETH_INR", pair)
	}
	if api.calls != 1 {
		t.Fatalf("calls=%d, expected cache hit without refetch", api.calls)
	}
}

func TestResolverRejectsInactiveAndUnknown(t *testing.T) {
	api := &fakeMarketsAPI{markets: []coindcx.MarketDetail{
		{Symbol: "OLDINR", Pair: "B-OLD_INR", Status: "inactive"},
	}}
	r := NewResolver(api)
	ctx := context.Background()

	for _, symbol := range []string{"OLDINR", "NOPEINR"} {
		if _, err := r.Pair(ctx, symbol); !errors.Is(err, ErrSymbolNotFound) {
			t.Fatalf("Pair(%s): expected ErrSymbolNotFound, got %v", symbol, err)
		}
	}
}

func TestResolverRefetchesExpiredEntries(t *testing.T) {
	api := &fakeMarketsAPI{markets: []coindcx.MarketDetail{
		{Symbol: "BTCINR", Pair: "B-BTC_INR", Status: "active"},
	}}
	r := NewResolver(api)
	r.ttl = time.Millisecond
	ctx := context.Background()

	if _, err := r.Pair(ctx, "BTCINR"); err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	pair, err := r.Pair(ctx, "BTCINR")
	if err != nil {
		t.Fatalf("Pair after expiry failed: %v", err)
	}
	if pair != "B-BTC_INR" {
		t.Fatalf("pair=%q after refetch", pair)
	}
	if api.calls != 2 {
		t.Fatalf("calls=%d, expected an expired entry to refetch", api.calls)
	}
}

func TestResolverPropagatesFetchErrors(t *testing.T) {
	api := &fakeMarketsAPI{err: errors.New("boom")}
	r := NewResolver(api)

	if _, err := r.Pair(context.Background(), "BTCINR"); err == nil {
		t.Fatal("expected fetch error")
	}
}
