// Package feed turns raw market-data streams into listener callbacks with
// client-side bar lifecycle detection.
package feed

import (
	"context"
	"log"

	"papertrade/pkg/market/coindcx"
)

// BarEvent is one candle message plus lifecycle flags. Complete is derived
// client-side: the first message carrying a new open timestamp finalizes the
// previously forming bar.
type BarEvent struct {
	Candle   coindcx.Candle
	Complete bool
	NewBar   bool
}

// BarListener receives bar events. Failures are recovered per-listener.
type BarListener func(BarEvent)

// TickListener receives intra-bar price updates.
type TickListener func(price float64)

// Streamer is the subscription surface of the stream client.
type Streamer interface {
	SubscribeCandles(ctx context.Context, pair, timeframe string) (<-chan coindcx.Candle, func(), error)
	SubscribePrices(ctx context.Context, pair string) (<-chan coindcx.PriceUpdate, func(), error)
}

// CandleFeed subscribes to a pair's candlestick channel and fans events out to
// registered listeners. The feed detects bar completion purely from arrival
// order: a new open timestamp implies the previous bar closed.
type CandleFeed struct {
	stream    Streamer
	pair      string
	timeframe string
	listeners []BarListener

	currentOpenTime int64
	lastCandle      *coindcx.Candle
}

// NewCandleFeed builds a candle feed for pair/timeframe.
func NewCandleFeed(stream Streamer, pair, timeframe string) *CandleFeed {
	return &CandleFeed{stream: stream, pair: pair, timeframe: timeframe}
}

// Register adds a listener. Must be called before Start.
func (f *CandleFeed) Register(cb BarListener) {
	f.listeners = append(f.listeners, cb)
}

// Start connects and pumps events until the context is cancelled or the
// stream closes. Cancellation is a normal return, not an error.
func (f *CandleFeed) Start(ctx context.Context) error {
	ch, stop, err := f.stream.SubscribeCandles(ctx, f.pair, f.timeframe)
	if err != nil {
		return err
	}
	defer stop()

	log.Printf("📡 Candle feed started: %s_%s", f.pair, f.timeframe)
	for {
		select {
		case <-ctx.Done():
			return nil
		case candle, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle(candle)
		}
	}
}

func (f *CandleFeed) handle(candle coindcx.Candle) {
	isNew := candle.OpenTime != f.currentOpenTime

	if isNew {
		// A fresh open timestamp finalizes the bar we were tracking.
		if f.lastCandle != nil {
			f.emit(BarEvent{Candle: *f.lastCandle, Complete: true})
		}
		f.currentOpenTime = candle.OpenTime
	}

	c := candle
	f.lastCandle = &c
	f.emit(BarEvent{Candle: candle, NewBar: isNew})
}

// emit delivers to every listener; one listener's panic must not block the
// others or kill the connection loop.
func (f *CandleFeed) emit(ev BarEvent) {
	for _, cb := range f.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("❌ candle listener error (%s): %v", f.pair, r)
				}
			}()
			cb(ev)
		}()
	}
}

// PriceFeed subscribes to the current-prices channel for one pair.
type PriceFeed struct {
	stream    Streamer
	pair      string
	listeners []TickListener
}

// NewPriceFeed builds a tick feed for pair.
func NewPriceFeed(stream Streamer, pair string) *PriceFeed {
	return &PriceFeed{stream: stream, pair: pair}
}

// Register adds a listener. Must be called before Start.
func (f *PriceFeed) Register(cb TickListener) {
	f.listeners = append(f.listeners, cb)
}

// Start connects and pumps ticks until cancelled or disconnected.
func (f *PriceFeed) Start(ctx context.Context) error {
	ch, stop, err := f.stream.SubscribePrices(ctx, f.pair)
	if err != nil {
		return err
	}
	defer stop()

	log.Printf("📡 Price feed started: %s", f.pair)
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ch:
			if !ok {
				return nil
			}
			for _, cb := range f.listeners {
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("❌ price listener error (%s): %v", f.pair, r)
						}
					}()
					cb(tick.Price)
				}()
			}
		}
	}
}
