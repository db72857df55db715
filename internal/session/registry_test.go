package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"papertrade/internal/push"
	"papertrade/internal/strategy"
	"papertrade/internal/wallet"
	"papertrade/pkg/config"
	"papertrade/pkg/db"
	"papertrade/pkg/market/coindcx"
)

// fakeStore keeps wallets and trade commits in memory.
type fakeStore struct {
	mu      sync.Mutex
	wallets map[string]db.Wallet
	commits []db.TradeCommit
}

func newFakeStore() *fakeStore {
	return &fakeStore{wallets: make(map[string]db.Wallet)}
}

func (s *fakeStore) seed(userID string, balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[userID] = db.Wallet{
		UserID:           userID,
		TotalBalance:     balance,
		AvailableBalance: balance,
	}
}

func (s *fakeStore) GetWallet(ctx context.Context, userID string) (db.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return db.Wallet{}, db.ErrNotFound
	}
	return w, nil
}

func (s *fakeStore) ApplyTrade(ctx context.Context, c db.TradeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, c)
	s.wallets[c.Wallet.UserID] = c.Wallet
	return nil
}

func (s *fakeStore) UpsertWallet(ctx context.Context, w db.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.UserID] = w
	return nil
}

func (s *fakeStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commits)
}

// fakeResolver maps SYMBOL -> B-SYMBOL without any network.
type fakeResolver struct{ err error }

func (f fakeResolver) Pair(ctx context.Context, symbol string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "B-" + symbol, nil
}

// scriptedStream hands out channels the test writes to directly.
type scriptedStream struct {
	candles chan coindcx.Candle
	prices  chan coindcx.PriceUpdate
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{
		candles: make(chan coindcx.Candle, 32),
		prices:  make(chan coindcx.PriceUpdate, 32),
	}
}

func (s *scriptedStream) SubscribeCandles(ctx context.Context, pair, timeframe string) (<-chan coindcx.Candle, func(), error) {
	return s.candles, func() {}, nil
}

func (s *scriptedStream) SubscribePrices(ctx context.Context, pair string) (<-chan coindcx.PriceUpdate, func(), error) {
	return s.prices, func() {}, nil
}

// hoursStub is a market-hours policy pinned open or closed.
type hoursStub bool

func (h hoursStub) Within(time.Time) bool { return bool(h) }

func candle(openTime int64, close float64) coindcx.Candle {
	return coindcx.Candle{
		OpenTime: openTime,
		Open:     close,
		High:     close,
		Low:      close,
		Close:    close,
		Volume:   1,
	}
}

func awaitType(t *testing.T, ch <-chan push.Notification, msgType string) push.Notification {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("subscriber channel closed waiting for %s", msgType)
			}
			if n["type"] == msgType {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

func startRequest(userID string) StartRequest {
	return StartRequest{
		UserID:   userID,
		Symbol:   "BTCINR",
		Strategy: strategy.TypeSMACrossover,
		Params:   map[string]any{"short": 1, "long": 2},
	}
}

func TestStartTwiceFailsWithAlreadyRunning(t *testing.T) {
	store := newFakeStore()
	store.seed("alice", 1000)
	reg := NewRegistry(Config{
		Store:    store,
		Resolver: fakeResolver{},
		Stream:   newScriptedStream(),
		Hours:    hoursStub(false),
	})
	defer reg.StopAll()

	info, err := reg.Start(context.Background(), startRequest("alice"))
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if info.Pair != "B-BTCINR" {
		t.Fatalf("pair=%s, expected resolver output", info.Pair)
	}
	if info.Timeframe != "1m" {
		t.Fatalf("timeframe=%s, expected 1m default", info.Timeframe)
	}

	if _, err := reg.Start(context.Background(), startRequest("alice")); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err=%v, expected ErrAlreadyRunning", err)
	}
	if len(reg.ActiveSessions()) != 1 {
		t.Fatalf("active sessions=%d, expected 1", len(reg.ActiveSessions()))
	}
}

func TestStartValidationFailures(t *testing.T) {
	store := newFakeStore()
	store.seed("broke", 0)
	reg := NewRegistry(Config{
		Store:    store,
		Resolver: fakeResolver{},
		Stream:   newScriptedStream(),
		Hours:    hoursStub(false),
	})

	t.Run("missing wallet", func(t *testing.T) {
		_, err := reg.Start(context.Background(), startRequest("nobody"))
		if !errors.Is(err, ErrWalletNotFound) {
			t.Fatalf("err=%v, expected ErrWalletNotFound", err)
		}
	})

	t.Run("zero balance", func(t *testing.T) {
		_, err := reg.Start(context.Background(), startRequest("broke"))
		if !errors.Is(err, ErrNoBalance) {
			t.Fatalf("err=%v, expected ErrNoBalance", err)
		}
	})

	t.Run("unknown strategy", func(t *testing.T) {
		store.seed("alice", 1000)
		req := startRequest("alice")
		req.Strategy = "martingale"
		if _, err := reg.Start(context.Background(), req); err == nil {
			t.Fatal("unknown strategy accepted")
		}
	})

	t.Run("resolver failure", func(t *testing.T) {
		store.seed("bob", 1000)
		failing := NewRegistry(Config{
			Store:    store,
			Resolver: fakeResolver{err: errors.New("markets down")},
			Stream:   newScriptedStream(),
			Hours:    hoursStub(false),
		})
		if _, err := failing.Start(context.Background(), startRequest("bob")); err == nil {
			t.Fatal("resolver failure not propagated")
		}
	})

	// None of the failures may leave a session behind.
	if n := len(reg.ActiveSessions()); n != 0 {
		t.Fatalf("active sessions=%d after failed starts", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.seed("alice", 1000)
	reg := NewRegistry(Config{
		Store:    store,
		Resolver: fakeResolver{},
		Stream:   newScriptedStream(),
		Hours:    hoursStub(false),
	})

	if reg.Stop("alice") {
		t.Fatal("Stop reported success with nothing running")
	}

	if _, err := reg.Start(context.Background(), startRequest("alice")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !reg.Stop("alice") {
		t.Fatal("Stop failed on a live session")
	}
	if reg.IsActive("alice") {
		t.Fatal("session still active after Stop")
	}
	if reg.Stop("alice") {
		t.Fatal("second Stop reported success")
	}
}

func TestBarEvaluatedOncePerOpenTimestamp(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(Config{
		Store:    store,
		Resolver: fakeResolver{},
		Stream:   newScriptedStream(),
		Hours:    hoursStub(false),
	})

	s := &session{
		userID: "alice",
		symbol: "BTCINR",
		strat:  strategy.NewSMACross(1, 2),
		ledger: wallet.New("alice", 1000, 1000, store),
		reg:    reg,
		events: make(chan event, 8),
	}
	ctx := context.Background()

	evaluated := func() uint64 {
		return reg.Metrics().Snapshot()["bars_evaluated"].(uint64)
	}

	// Forming updates never reach the strategy.
	s.onBar(ctx, feedBar{candle: candle(1000, 10)})
	s.onBar(ctx, feedBar{candle: candle(1000, 11)})
	if evaluated() != 0 {
		t.Fatalf("forming updates evaluated the strategy %d times", evaluated())
	}

	// First completion evaluates; a replayed completion of the same bar
	// must not.
	s.onBar(ctx, feedBar{candle: candle(1000, 11), complete: true})
	s.onBar(ctx, feedBar{candle: candle(1000, 11), complete: true})
	if evaluated() != 1 {
		t.Fatalf("evaluations=%d, expected exactly 1 for one open timestamp", evaluated())
	}

	s.onBar(ctx, feedBar{candle: candle(2000, 12), complete: true})
	if evaluated() != 2 {
		t.Fatalf("evaluations=%d after second bar, expected 2", evaluated())
	}
}

func TestEndToEndBuyAndSellThroughFeed(t *testing.T) {
	store := newFakeStore()
	store.seed("alice", 1000)
	stream := newScriptedStream()
	reg := NewRegistry(Config{
		Store:       store,
		Resolver:    fakeResolver{},
		Stream:      stream,
		FeeRate:     0.001,
		BuyFraction: 0.1,
		Hours:       hoursStub(false),
	})
	defer reg.StopAll()

	if _, err := reg.Start(context.Background(), startRequest("alice")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sub := reg.AttachSubscriber("alice")
	greeting := awaitType(t, sub, "connection_established")
	if greeting["is_running"] != true {
		t.Fatalf("greeting is_running=%v, want true", greeting["is_running"])
	}

	// Closes 10, 9, 12 produce an upward cross on the third completed bar
	// for SMA 1/2; close 5 then crosses back down. Each candle finalizes
	// the previous one.
	for i, c := range []coindcx.Candle{
		candle(1000, 10),
		candle(2000, 9),
		candle(3000, 12),
		candle(4000, 5),
		candle(5000, 7),
	} {
		select {
		case stream.candles <- c:
		default:
			t.Fatalf("candle %d not accepted", i)
		}
	}

	buy := awaitType(t, sub, "trade_executed")
	if buy["side"] != "BUY" {
		t.Fatalf("first fill side=%v, expected BUY", buy["side"])
	}
	wantQty := 1000 * 0.1 / 12.0
	if got := buy["quantity"].(float64); math.Abs(got-wantQty) > 1e-9 {
		t.Fatalf("buy qty=%v, want %v", got, wantQty)
	}
	if got := buy["fee"].(float64); math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("buy fee=%v, want 0.1", got)
	}
	if got := buy["available_balance"].(float64); math.Abs(got-899.9) > 1e-9 {
		t.Fatalf("available after buy=%v, want 899.9", got)
	}
	if got := buy["total_balance"].(float64); got != 1000 {
		t.Fatalf("total after buy=%v, trading must not touch it", got)
	}

	sell := awaitType(t, sub, "trade_executed")
	if sell["side"] != "SELL" {
		t.Fatalf("second fill side=%v, expected SELL", sell["side"])
	}
	wantPnL := (5.0 - 12.0) * wantQty
	if got := sell["realized_pnl"].(float64); math.Abs(got-wantPnL) > 1e-6 {
		t.Fatalf("realized pnl=%v, want %v", got, wantPnL)
	}
	if got := sell["position_size"].(float64); got != 0 {
		t.Fatalf("position after full close=%v, want 0", got)
	}
	wantAvailable := 899.9 + wantQty*5 - wantQty*5*0.001
	if got := sell["available_balance"].(float64); math.Abs(got-wantAvailable) > 1e-6 {
		t.Fatalf("available after sell=%v, want %v", got, wantAvailable)
	}

	if store.commitCount() != 2 {
		t.Fatalf("durable commits=%d, expected exactly 2", store.commitCount())
	}

	state, ok := reg.State("alice")
	if !ok {
		t.Fatal("State reported no session")
	}
	if state.Candle == nil {
		t.Fatal("state has no candle after feed activity")
	}
}

func TestTickGatedFillUsesLatestTickPrice(t *testing.T) {
	store := newFakeStore()
	store.seed("alice", 1000)
	stream := newScriptedStream()
	reg := NewRegistry(Config{
		Store:       store,
		Resolver:    fakeResolver{},
		Stream:      stream,
		FeeRate:     0.001,
		BuyFraction: 0.1,
		EvalMode:    config.EvalTickGated,
		Hours:       hoursStub(false),
	})
	defer reg.StopAll()

	if _, err := reg.Start(context.Background(), startRequest("alice")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sub := reg.AttachSubscriber("alice")
	awaitType(t, sub, "connection_established")

	// Land the tick before any bar so the fill has a price to gate on.
	stream.prices <- coindcx.PriceUpdate{Pair: "B-BTCINR", Price: 11.5}
	tick := awaitType(t, sub, "price_update")
	if got := tick["price"].(float64); got != 11.5 {
		t.Fatalf("price_update price=%v, want 11.5", got)
	}

	// Closes 10, 9, 12 cross upward on the third completed bar for SMA 1/2;
	// the fourth candle finalizes it.
	for _, c := range []coindcx.Candle{
		candle(1000, 10),
		candle(2000, 9),
		candle(3000, 12),
		candle(4000, 12),
	} {
		stream.candles <- c
	}

	buy := awaitType(t, sub, "trade_executed")
	if buy["side"] != "BUY" {
		t.Fatalf("side=%v, expected BUY", buy["side"])
	}
	if got := buy["execution_price"].(float64); got != 11.5 {
		t.Fatalf("execution_price=%v, want the latest tick 11.5 over bar close 12", got)
	}
	wantQty := 1000 * 0.1 / 11.5
	if got := buy["quantity"].(float64); math.Abs(got-wantQty) > 1e-9 {
		t.Fatalf("qty=%v, want %v", got, wantQty)
	}
	if got := buy["fee"].(float64); math.Abs(got-wantQty*11.5*0.001) > 1e-9 {
		t.Fatalf("fee=%v, want %v", got, wantQty*11.5*0.001)
	}
}

func TestAttachGreetsOnlyWhenSessionActive(t *testing.T) {
	store := newFakeStore()
	store.seed("alice", 1000)
	reg := NewRegistry(Config{
		Store:    store,
		Resolver: fakeResolver{},
		Stream:   newScriptedStream(),
		Hours:    hoursStub(false),
	})
	defer reg.StopAll()

	idle := reg.AttachSubscriber("alice")
	select {
	case n := <-idle:
		t.Fatalf("greeted with %v while nothing is running", n["type"])
	case <-time.After(50 * time.Millisecond):
	}
	reg.DetachSubscriber("alice", idle)

	if _, err := reg.Start(context.Background(), startRequest("alice")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sub := reg.AttachSubscriber("alice")
	n := awaitType(t, sub, "connection_established")
	if n["is_running"] != true {
		t.Fatalf("greeting is_running=%v, want true", n["is_running"])
	}
}

func TestManyUsersStartAndStopConcurrently(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(Config{
		Store:    store,
		Resolver: fakeResolver{},
		Stream:   newScriptedStream(),
		Hours:    hoursStub(false),
	})
	defer reg.StopAll()

	const users = 40
	for i := 0; i < users; i++ {
		store.seed(userN(i), 1000)
	}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := reg.Start(context.Background(), startRequest(id)); err != nil {
				t.Errorf("Start %s: %v", id, err)
			}
		}(userN(i))
	}
	wg.Wait()

	if got := len(reg.ActiveSessions()); got != users {
		t.Fatalf("active sessions=%d, expected %d", got, users)
	}

	// Racing duplicate starts: every one must lose with ErrAlreadyRunning.
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := reg.Start(context.Background(), startRequest(id)); !errors.Is(err, ErrAlreadyRunning) {
				t.Errorf("duplicate Start %s err=%v", id, err)
			}
		}(userN(i))
	}
	wg.Wait()

	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if !reg.Stop(id) {
				t.Errorf("Stop %s found nothing running", id)
			}
		}(userN(i))
	}
	wg.Wait()

	if got := len(reg.ActiveSessions()); got != 0 {
		t.Fatalf("active sessions=%d after stop-all, expected 0", got)
	}
}

func userN(i int) string {
	return "user-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestSweepStopsOnlyStaleSessionsOutsideMarketHours(t *testing.T) {
	store := newFakeStore()
	store.seed("alice", 1000)
	store.seed("bob", 1000)

	base := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := base
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		now = now.Add(d)
		clockMu.Unlock()
	}

	open := hoursStub(true)
	closed := hoursStub(false)

	reg := NewRegistry(Config{
		Store:    store,
		Resolver: fakeResolver{},
		Stream:   newScriptedStream(),
		IdleTTL:  24 * time.Hour,
		Hours:    closed,
		Now:      clock,
	})
	defer reg.StopAll()

	if _, err := reg.Start(context.Background(), startRequest("alice")); err != nil {
		t.Fatalf("Start alice failed: %v", err)
	}

	// Fresh session survives a sweep.
	if n := reg.SweepIdle(); n != 0 {
		t.Fatalf("sweep stopped %d fresh sessions", n)
	}

	// Past the TTL but during market hours: the sweeper must not touch it.
	advance(25 * time.Hour)
	reg.hours = open
	if n := reg.SweepIdle(); n != 0 {
		t.Fatalf("sweep stopped %d sessions inside market hours", n)
	}
	if !reg.IsActive("alice") {
		t.Fatal("stale session reaped inside market hours")
	}

	// Same staleness outside hours: reaped. A fresh second session is not.
	if _, err := reg.Start(context.Background(), startRequest("bob")); err != nil {
		t.Fatalf("Start bob failed: %v", err)
	}
	reg.hours = closed
	if n := reg.SweepIdle(); n != 1 {
		t.Fatalf("sweep stopped %d sessions, expected 1", n)
	}
	if reg.IsActive("alice") {
		t.Fatal("stale session still active after sweep")
	}
	if !reg.IsActive("bob") {
		t.Fatal("fresh session reaped by sweep")
	}
}
