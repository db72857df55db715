// Package session owns the per-user paper-trading sessions: their lifecycle,
// their event loops, and the registry that keys them by user.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"papertrade/internal/push"
	"papertrade/internal/strategy"
	"papertrade/internal/wallet"
	"papertrade/pkg/market/coindcx"
)

// eventBuffer bounds each session's private event queue. The feed goroutines
// never block on a slow session: overflow drops the event and counts it.
const eventBuffer = 256

// event is one unit of work for the session loop: a tick or a bar, never both.
type event struct {
	tick *float64
	bar  *feedBar
}

// feedBar mirrors feed.BarEvent without importing it here; the registry
// adapts between the two when wiring listeners.
type feedBar struct {
	candle   coindcx.Candle
	complete bool
}

// session is one user's running paper-trading loop. All trading state is
// mutated only by the run goroutine; snapshot fields are guarded separately
// so registry reads never touch the event loop.
type session struct {
	userID       string
	symbol       string
	pair         string
	timeframe    string
	strategyName string
	reqQty       float64 // explicit per-trade quantity; 0 means auto-size

	strat  strategy.Strategy
	ledger *wallet.Wallet
	reg    *Registry

	events   chan event
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	startedAt time.Time

	// Market-view snapshot, readable while the loop runs.
	stateMu    sync.RWMutex
	price      float64
	hasPrice   bool
	candle     *coindcx.Candle
	lastUpdate time.Time

	// Owned by the run goroutine only.
	lastEvalOpen int64
}

// enqueue hands an event to the session loop without ever blocking the
// producer. The channel is the per-user ordering guarantee: everything the
// loop consumes arrives in arrival order.
func (s *session) enqueue(ev event) {
	select {
	case s.events <- ev:
	default:
		s.reg.metrics.EventDropped()
		log.Printf("⚠️ Event dropped for user %s (%s): queue full", s.userID, s.symbol)
	}
}

// run is the single writer for all trading state. It exits when the session
// context is cancelled.
func (s *session) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch {
			case ev.tick != nil:
				s.onTick(*ev.tick)
			case ev.bar != nil:
				s.onBar(ctx, *ev.bar)
			}
		}
	}
}

func (s *session) onTick(price float64) {
	s.reg.metrics.TickProcessed()

	s.stateMu.Lock()
	s.price = price
	s.hasPrice = true
	s.lastUpdate = s.reg.now()
	s.stateMu.Unlock()

	n := push.New("price_update", s.symbol)
	n["price"] = price
	s.reg.hub.Publish(s.userID, n)
}

// onBar routes one bar event. Forming updates refresh the snapshot and are
// pushed out; the strategy is consulted at most once per open timestamp, on
// the event that finalizes the bar.
func (s *session) onBar(ctx context.Context, ev feedBar) {
	s.reg.metrics.BarProcessed()

	if !ev.complete {
		c := ev.candle
		s.stateMu.Lock()
		s.candle = &c
		s.lastUpdate = s.reg.now()
		s.stateMu.Unlock()

		n := push.New("candle_update", s.symbol)
		n["candle"] = candlePayload(ev.candle)
		n["timestamp"] = ev.candle.OpenTime
		s.reg.hub.Publish(s.userID, n)
		return
	}

	// Duplicate completions for the same bar are possible after a
	// reconnect; only the first one reaches the strategy.
	if ev.candle.OpenTime == s.lastEvalOpen {
		return
	}
	s.lastEvalOpen = ev.candle.OpenTime
	s.evaluate(ctx, ev.candle)
}

func (s *session) evaluate(ctx context.Context, c coindcx.Candle) {
	s.reg.metrics.BarEvaluated()

	action := s.strat.OnBar(strategy.Bar{
		OpenTime: c.OpenTime,
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
	})

	price := c.Close
	if s.reg.tickGated {
		s.stateMu.RLock()
		if s.hasPrice {
			price = s.price
		}
		s.stateMu.RUnlock()
	}

	n := push.New("signal_update", s.symbol)
	n["side"] = action.String()
	n["price"] = price
	s.reg.hub.Publish(s.userID, n)

	switch action {
	case strategy.Buy:
		s.executeBuy(ctx, price)
	case strategy.Sell:
		s.executeSell(ctx, price)
	}
}

func (s *session) executeBuy(ctx context.Context, price float64) {
	if price <= 0 {
		s.tradeFailed("BUY", "invalid execution price")
		return
	}

	qty := s.reqQty
	if qty <= 0 {
		_, available := s.ledger.Balances()
		qty = available * s.reg.buyFraction / price
	}
	if qty <= 0 {
		s.tradeFailed("BUY", "insufficient available balance")
		return
	}

	fee := qty * price * s.reg.feeRate
	if err := s.ledger.Buy(ctx, s.symbol, price, qty, fee); err != nil {
		s.tradeFailed("BUY", err.Error())
		return
	}

	s.reg.metrics.TradeExecuted()
	log.Printf("💰 BUY filled: user=%s %s qty=%.8f price=%.2f fee=%.4f",
		s.userID, s.symbol, qty, price, fee)
	s.tradeExecuted("BUY", price, qty, fee, 0)
}

func (s *session) executeSell(ctx context.Context, price float64) {
	held := s.ledger.Position(s.symbol)
	if held <= 0 {
		// Nothing to close; the signal was already published.
		return
	}

	qty := held
	if s.reqQty > 0 && s.reqQty < held {
		qty = s.reqQty
	}

	fee := qty * price * s.reg.feeRate
	pnl, err := s.ledger.Sell(ctx, s.symbol, price, qty, fee)
	if err != nil {
		s.tradeFailed("SELL", err.Error())
		return
	}

	s.reg.metrics.TradeExecuted()
	log.Printf("💰 SELL filled: user=%s %s qty=%.8f price=%.2f pnl=%.4f",
		s.userID, s.symbol, qty, price, pnl)
	s.tradeExecuted("SELL", price, qty, fee, pnl)
}

func (s *session) tradeExecuted(side string, price, qty, fee, pnl float64) {
	total, available := s.ledger.Balances()
	n := push.New("trade_executed", s.symbol)
	n["side"] = side
	n["execution_price"] = price
	n["quantity"] = qty
	n["fee"] = fee
	n["available_balance"] = available
	n["total_balance"] = total
	n["position_size"] = s.ledger.Position(s.symbol)
	if side == "SELL" {
		n["realized_pnl"] = pnl
	}
	s.reg.hub.Publish(s.userID, n)
}

func (s *session) tradeFailed(side, reason string) {
	s.reg.metrics.TradeFailed()
	log.Printf("❌ %s failed: user=%s %s: %s", side, s.userID, s.symbol, reason)

	n := push.New("trade_failed", s.symbol)
	n["side"] = side
	n["reason"] = reason
	s.reg.hub.Publish(s.userID, n)
}

// shutdown cancels the session and waits for the run loop and feed tasks to
// exit. Safe to call from multiple goroutines; all callers return only after
// teardown finished.
func (s *session) shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done

		s.reg.metrics.SessionStopped()
		n := push.New("trading_stopped", s.symbol)
		n["message"] = "Paper trading stopped"
		s.reg.hub.Publish(s.userID, n)
		log.Printf("🛑 Paper trading stopped: user=%s symbol=%s", s.userID, s.symbol)
	})
}

// snapshot returns the current market view.
func (s *session) snapshot() TradingState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	st := TradingState{
		Symbol:     s.symbol,
		Price:      s.price,
		HasPrice:   s.hasPrice,
		LastUpdate: s.lastUpdate,
	}
	if s.candle != nil {
		c := *s.candle
		st.Candle = &c
	}
	return st
}

// lastActivity is the timestamp the sweeper judges staleness by.
func (s *session) lastActivity() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.lastUpdate.IsZero() {
		return s.startedAt
	}
	return s.lastUpdate
}

// candlePayload is the chart-friendly shape pushed to subscribers: seconds
// for the time axis, the raw open timestamp kept in ms.
func candlePayload(c coindcx.Candle) map[string]any {
	return map[string]any{
		"time":   c.OpenTime / 1000,
		"open":   c.Open,
		"high":   c.High,
		"low":    c.Low,
		"close":  c.Close,
		"volume": c.Volume,
	}
}
