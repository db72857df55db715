package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"papertrade/pkg/market/coindcx"
)

// scriptedStreamer replays a fixed candle sequence.
type scriptedStreamer struct {
	candles []coindcx.Candle
}

func (s *scriptedStreamer) SubscribeCandles(ctx context.Context, pair, timeframe string) (<-chan coindcx.Candle, func(), error) {
	out := make(chan coindcx.Candle, len(s.candles))
	for _, c := range s.candles {
		out <- c
	}
	close(out)
	return out, func() {}, nil
}

func (s *scriptedStreamer) SubscribePrices(ctx context.Context, pair string) (<-chan coindcx.PriceUpdate, func(), error) {
	out := make(chan coindcx.PriceUpdate)
	close(out)
	return out, func() {}, nil
}

func collectEvents(t *testing.T, candles ...coindcx.Candle) []BarEvent {
	t.Helper()

	f := NewCandleFeed(&scriptedStreamer{candles: candles}, "B-BTC_INR", "1m")
	var mu sync.Mutex
	var events []BarEvent
	f.Register(func(ev BarEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return events
}

func TestCandleFeedEmitsSyntheticCompletion(t *testing.T) {
	events := collectEvents(t,
		coindcx.Candle{OpenTime: 1000, Close: 10},
		coindcx.Candle{OpenTime: 1000, Close: 11}, // same bar updating
		coindcx.Candle{OpenTime: 2000, Close: 12}, // new bar: finalizes 1000
	)

	// forming(1000), forming(1000), complete(1000), forming(2000)
	if len(events) != 4 {
		t.Fatalf("got %d events, expected 4: %+v", len(events), events)
	}

	if events[0].Complete || !events[0].NewBar {
		t.Fatalf("event 0 = %+v, expected new forming bar", events[0])
	}
	if events[1].Complete || events[1].NewBar {
		t.Fatalf("event 1 = %+v, expected same-bar update", events[1])
	}

	// The completion carries the LAST observed state of the finalized bar.
	if !events[2].Complete || events[2].Candle.OpenTime != 1000 || events[2].Candle.Close != 11 {
		t.Fatalf("event 2 = %+v, expected completion of bar 1000 at close 11", events[2])
	}
	if events[3].Complete || !events[3].NewBar || events[3].Candle.OpenTime != 2000 {
		t.Fatalf("event 3 = %+v, expected new forming bar 2000", events[3])
	}
}

func TestCandleFeedFirstBarHasNoCompletion(t *testing.T) {
	events := collectEvents(t, coindcx.Candle{OpenTime: 1000, Close: 10})

	if len(events) != 1 || events[0].Complete {
		t.Fatalf("events=%+v, expected single forming event", events)
	}
}

func TestCandleFeedSurvivesPanickingListener(t *testing.T) {
	f := NewCandleFeed(&scriptedStreamer{candles: []coindcx.Candle{
		{OpenTime: 1000, Close: 10},
		{OpenTime: 2000, Close: 11},
	}}, "B-BTC_INR", "1m")

	f.Register(func(BarEvent) { panic("listener bug") })

	var delivered int
	f.Register(func(BarEvent) { delivered++ })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// forming, complete, forming — all must reach the healthy listener.
	if delivered != 3 {
		t.Fatalf("healthy listener received %d events, expected 3", delivered)
	}
}

func TestCandleFeedStopsOnContextCancel(t *testing.T) {
	blocking := make(chan coindcx.Candle)
	f := NewCandleFeed(streamFunc(func() (<-chan coindcx.Candle, func(), error) {
		return blocking, func() {}, nil
	}), "B-BTC_INR", "1m")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancellation surfaced as error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop after cancellation")
	}
}

// streamFunc adapts a candle-channel factory into a Streamer.
type streamFunc func() (<-chan coindcx.Candle, func(), error)

func (fn streamFunc) SubscribeCandles(context.Context, string, string) (<-chan coindcx.Candle, func(), error) {
	return fn()
}

func (fn streamFunc) SubscribePrices(context.Context, string) (<-chan coindcx.PriceUpdate, func(), error) {
	out := make(chan coindcx.PriceUpdate)
	close(out)
	return out, func() {}, nil
}
