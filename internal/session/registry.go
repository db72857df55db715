package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"papertrade/internal/feed"
	"papertrade/internal/monitor"
	"papertrade/internal/push"
	"papertrade/internal/strategy"
	"papertrade/internal/wallet"
	"papertrade/pkg/config"
	"papertrade/pkg/db"
	"papertrade/pkg/market/coindcx"
)

var (
	// ErrAlreadyRunning is returned when a user who already has a live
	// session asks to start another one.
	ErrAlreadyRunning = errors.New("paper trading already running for user")
	// ErrWalletNotFound is returned when no durable wallet exists for the user.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrNoBalance is returned when the wallet has nothing available to trade.
	ErrNoBalance = errors.New("no available balance to trade")
)

// Store is the durable surface the registry needs: wallet lookup at start,
// write-through commits while trading.
type Store interface {
	GetWallet(ctx context.Context, userID string) (db.Wallet, error)
	ApplyTrade(ctx context.Context, c db.TradeCommit) error
	UpsertWallet(ctx context.Context, w db.Wallet) error
}

// Resolver maps a user-facing symbol to the exchange stream pair.
type Resolver interface {
	Pair(ctx context.Context, symbol string) (string, error)
}

// Config wires the registry's collaborators and trading parameters.
type Config struct {
	Store    Store
	Resolver Resolver
	Stream   feed.Streamer
	Hub      *push.Hub
	Metrics  *monitor.SystemMetrics

	FeeRate     float64 // decimal fee applied to every fill's notional
	BuyFraction float64 // share of available balance per auto-sized BUY
	EvalMode    string  // config.EvalBarOnly or config.EvalTickGated

	IdleTTL       time.Duration
	SweepInterval time.Duration
	Hours         HoursPolicy

	// Now is the registry clock; tests inject a fake one.
	Now func() time.Time
}

// StartRequest describes one start call.
type StartRequest struct {
	UserID    string
	Symbol    string
	Timeframe string
	Strategy  string
	Params    map[string]any
	Qty       float64 // optional fixed per-trade quantity
}

// TradingState is the public market-view snapshot of a session.
type TradingState struct {
	Symbol     string          `json:"symbol"`
	Price      float64         `json:"price"`
	HasPrice   bool            `json:"has_price"`
	Candle     *coindcx.Candle `json:"candle,omitempty"`
	LastUpdate time.Time       `json:"last_update"`
}

// Status summarizes one user's session for polling clients.
type Status struct {
	Running    bool   `json:"is_running"`
	Symbol     string `json:"symbol,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	HasPrice   bool   `json:"has_price"`
	HasCandle  bool   `json:"has_candle"`
	LastUpdate int64  `json:"last_update,omitempty"` // ms epoch, 0 when never updated
	MarketOpen bool   `json:"market_hours"`
}

// Info is one row of the active-sessions listing.
type Info struct {
	UserID        string    `json:"user_id"`
	Symbol        string    `json:"symbol"`
	Pair          string    `json:"pair"`
	Strategy      string    `json:"strategy"`
	Timeframe     string    `json:"timeframe"`
	StartedAt     time.Time `json:"started_at"`
	RunningFor    string    `json:"running_for"`
	HasSubscriber bool      `json:"has_subscriber"`
}

// Registry owns the user -> session map. It is the only component that
// creates or destroys sessions, so lifecycle races reduce to map operations
// under one mutex.
type Registry struct {
	store    Store
	resolver Resolver
	stream   feed.Streamer
	hub      *push.Hub
	metrics  *monitor.SystemMetrics

	feeRate     float64
	buyFraction float64
	tickGated   bool

	idleTTL       time.Duration
	sweepInterval time.Duration
	hours         HoursPolicy
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewRegistry builds a registry. Zero-valued optional fields fall back to
// production defaults.
func NewRegistry(cfg Config) *Registry {
	if cfg.Hub == nil {
		cfg.Hub = push.NewHub()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BuyFraction <= 0 {
		cfg.BuyFraction = 0.1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.Hours == nil {
		cfg.Hours = FixedOffsetHours{
			Open:      9*time.Hour + 15*time.Minute,
			Close:     15*time.Hour + 30*time.Minute,
			UTCOffset: 5*time.Hour + 30*time.Minute,
		}
	}

	return &Registry{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		stream:        cfg.Stream,
		hub:           cfg.Hub,
		metrics:       cfg.Metrics,
		feeRate:       cfg.FeeRate,
		buyFraction:   cfg.BuyFraction,
		tickGated:     cfg.EvalMode == config.EvalTickGated,
		idleTTL:       cfg.IdleTTL,
		sweepInterval: cfg.SweepInterval,
		hours:         cfg.Hours,
		now:           cfg.Now,
		sessions:      make(map[string]*session),
	}
}

// Start creates and launches a session for the user. The durable wallet is
// read once to seed the ledger; validation failures leave no trace in the
// registry.
func (r *Registry) Start(ctx context.Context, req StartRequest) (Info, error) {
	r.mu.RLock()
	_, exists := r.sessions[req.UserID]
	r.mu.RUnlock()
	if exists {
		return Info{}, ErrAlreadyRunning
	}

	walletDoc, err := r.store.GetWallet(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Info{}, ErrWalletNotFound
		}
		return Info{}, fmt.Errorf("load wallet: %w", err)
	}
	if walletDoc.AvailableBalance <= 0 {
		return Info{}, ErrNoBalance
	}

	pair, err := r.resolver.Pair(ctx, req.Symbol)
	if err != nil {
		return Info{}, fmt.Errorf("resolve symbol %s: %w", req.Symbol, err)
	}

	strat, err := strategy.New(req.Strategy, req.Params)
	if err != nil {
		return Info{}, err
	}
	strat.OnStart()

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "1m"
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		userID:       req.UserID,
		symbol:       req.Symbol,
		pair:         pair,
		timeframe:    timeframe,
		strategyName: strat.Name(),
		reqQty:       req.Qty,
		strat:        strat,
		ledger:       wallet.New(req.UserID, walletDoc.TotalBalance, walletDoc.AvailableBalance, r.store),
		reg:          r,
		events:       make(chan event, eventBuffer),
		cancel:       cancel,
		done:         make(chan struct{}),
		startedAt:    r.now(),
	}

	candles := feed.NewCandleFeed(r.stream, pair, timeframe)
	candles.Register(func(ev feed.BarEvent) {
		s.enqueue(event{bar: &feedBar{candle: ev.Candle, complete: ev.Complete}})
	})

	var prices *feed.PriceFeed
	if r.tickGated {
		prices = feed.NewPriceFeed(r.stream, pair)
		prices.Register(func(price float64) {
			p := price
			s.enqueue(event{tick: &p})
		})
	}

	// Claim the slot before launching anything; a concurrent Start for the
	// same user must lose cleanly.
	r.mu.Lock()
	if _, taken := r.sessions[req.UserID]; taken {
		r.mu.Unlock()
		cancel()
		return Info{}, ErrAlreadyRunning
	}
	r.sessions[req.UserID] = s
	r.mu.Unlock()

	go func() {
		defer close(s.done)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(sctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := candles.Start(sctx); err != nil {
				log.Printf("❌ Candle feed for user %s (%s): %v", s.userID, pair, err)
			}
		}()
		if prices != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := prices.Start(sctx); err != nil {
					log.Printf("❌ Price feed for user %s (%s): %v", s.userID, pair, err)
				}
			}()
		}
		wg.Wait()
	}()

	r.metrics.SessionStarted()
	log.Printf("🚀 Paper trading started: user=%s symbol=%s pair=%s strategy=%s tf=%s",
		req.UserID, req.Symbol, pair, strat.Name(), timeframe)

	n := push.New("trading_started", req.Symbol)
	n["strategy"] = strat.Name()
	n["message"] = fmt.Sprintf("Paper trading started on %s", req.Symbol)
	r.hub.Publish(req.UserID, n)

	return r.info(s), nil
}

// Stop tears down the user's session. Returns false when nothing was
// running; stopping twice is a no-op, not an error.
func (r *Registry) Stop(userID string) bool {
	r.mu.RLock()
	s := r.sessions[userID]
	r.mu.RUnlock()
	if s == nil {
		return false
	}

	s.shutdown()

	r.mu.Lock()
	if r.sessions[userID] == s {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
	return true
}

// StopAll shuts every session down; used on process shutdown.
func (r *Registry) StopAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Stop(id)
	}
}

// IsActive reports whether the user has a live session.
func (r *Registry) IsActive(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// State returns the user's market-view snapshot, if a session exists.
func (r *Registry) State(userID string) (TradingState, bool) {
	r.mu.RLock()
	s := r.sessions[userID]
	r.mu.RUnlock()
	if s == nil {
		return TradingState{}, false
	}
	return s.snapshot(), true
}

// Status summarizes the user's session for polling clients.
func (r *Registry) Status(userID string) Status {
	st := Status{MarketOpen: r.hours.Within(r.now())}

	r.mu.RLock()
	s := r.sessions[userID]
	r.mu.RUnlock()
	if s == nil {
		return st
	}

	snap := s.snapshot()
	st.Running = true
	st.Symbol = s.symbol
	st.Strategy = s.strategyName
	st.HasPrice = snap.HasPrice
	st.HasCandle = snap.Candle != nil
	if !snap.LastUpdate.IsZero() {
		st.LastUpdate = snap.LastUpdate.UnixMilli()
	}
	return st
}

// ActiveSessions lists every live session.
func (r *Registry) ActiveSessions() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, r.info(s))
	}
	return out
}

func (r *Registry) info(s *session) Info {
	return Info{
		UserID:        s.userID,
		Symbol:        s.symbol,
		Pair:          s.pair,
		Strategy:      s.strategyName,
		Timeframe:     s.timeframe,
		StartedAt:     s.startedAt,
		RunningFor:    r.now().Sub(s.startedAt).Round(time.Second).String(),
		HasSubscriber: r.hub.HasSubscriber(s.userID),
	}
}

// AttachSubscriber registers a push channel for the user. When a session is
// active the new subscriber is greeted with a connection-established snapshot;
// an idle user's channel stays silent until trading starts.
func (r *Registry) AttachSubscriber(userID string) <-chan push.Notification {
	ch := r.hub.Attach(userID)

	st := r.Status(userID)
	if st.Running {
		n := push.New("connection_established", st.Symbol)
		n["message"] = "Connected to paper trading stream"
		n["is_running"] = true
		n["has_price"] = st.HasPrice
		n["has_candle"] = st.HasCandle
		if st.LastUpdate != 0 {
			n["last_update"] = st.LastUpdate
		}
		r.hub.Publish(userID, n)
	}
	return ch
}

// DetachSubscriber removes the channel if it is still the live subscriber.
func (r *Registry) DetachSubscriber(userID string, ch <-chan push.Notification) {
	r.hub.Detach(userID, ch)
}

// RunSweeper periodically stops sessions that have gone stale, but never
// while the market is open: a quiet session during trading hours may simply
// be waiting for the next bar.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	log.Printf("🧹 Idle-session sweeper running every %s (TTL %s)", r.sweepInterval, r.idleTTL)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepIdle()
		}
	}
}

// SweepIdle runs one sweep pass and returns how many sessions were stopped.
func (r *Registry) SweepIdle() int {
	now := r.now()
	if r.hours.Within(now) {
		return 0
	}

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if now.Sub(s.lastActivity()) > r.idleTTL {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		log.Printf("🧹 Sweeping idle session: user=%s", id)
		r.Stop(id)
	}
	return len(stale)
}

// Metrics exposes the counters for the status endpoints.
func (r *Registry) Metrics() *monitor.SystemMetrics {
	return r.metrics
}

// Hub exposes the notification hub for transports that answer client
// requests in-band.
func (r *Registry) Hub() *push.Hub {
	return r.hub
}
