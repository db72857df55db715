package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"papertrade/pkg/market/coindcx"
)

// MockStreamer generates synthetic candles and ticks for local development.
// It satisfies Streamer so a session can run without any exchange connection.
type MockStreamer struct {
	StartPrice float64
	Step       float64
	Interval   time.Duration // bar width; ticks arrive at Interval/5
}

func (m *MockStreamer) defaults() (price, step float64, interval time.Duration) {
	price = m.StartPrice
	if price == 0 {
		price = 100.0
	}
	step = m.Step
	if step == 0 {
		step = 0.5
	}
	interval = m.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	return
}

// SubscribeCandles emits a random-walk candle update stream: several forming
// updates per bar, with the open timestamp advancing every interval.
func (m *MockStreamer) SubscribeCandles(ctx context.Context, pair, timeframe string) (<-chan coindcx.Candle, func(), error) {
	price, step, interval := m.defaults()

	out := make(chan coindcx.Candle, 100)
	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopCh) })
	}

	go func() {
		defer close(out)
		t := time.NewTicker(interval / 5)
		defer t.Stop()

		openTime := time.Now().Truncate(interval).UnixMilli()
		candle := coindcx.Candle{OpenTime: openTime, Open: price, High: price, Low: price, Close: price, Pair: pair}

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case now := <-t.C:
				price += (rand.Float64()*2 - 1) * step
				if bar := now.Truncate(interval).UnixMilli(); bar != candle.OpenTime {
					candle = coindcx.Candle{OpenTime: bar, Open: price, High: price, Low: price, Pair: pair}
				}
				candle.Close = price
				if price > candle.High {
					candle.High = price
				}
				if price < candle.Low {
					candle.Low = price
				}
				candle.Volume += rand.Float64()

				select {
				case out <- candle:
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				}
			}
		}
	}()

	return out, stop, nil
}

// SubscribePrices emits a random-walk tick stream.
func (m *MockStreamer) SubscribePrices(ctx context.Context, pair string) (<-chan coindcx.PriceUpdate, func(), error) {
	price, step, interval := m.defaults()

	out := make(chan coindcx.PriceUpdate, 100)
	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopCh) })
	}

	go func() {
		defer close(out)
		t := time.NewTicker(interval / 5)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-t.C:
				price += (rand.Float64()*2 - 1) * step
				select {
				case out <- coindcx.PriceUpdate{Pair: pair, Price: price}:
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				}
			}
		}
	}()

	return out, stop, nil
}
