// Package wallet implements the in-memory paper ledger with durable write-through.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"papertrade/pkg/db"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient available balance")
	ErrInsufficientPosition = errors.New("insufficient position")
)

// Store is the durable side of the ledger. Every successful mutation must be
// recorded before the in-memory state is allowed to change.
type Store interface {
	ApplyTrade(ctx context.Context, c db.TradeCommit) error
	UpsertWallet(ctx context.Context, w db.Wallet) error
}

type position struct {
	Qty        float64
	EntryPrice float64
}

// Wallet is one user's paper ledger for the lifetime of a trading session.
// All mutating methods are serialized by the internal mutex, so a balance
// check and its matching update can never interleave with another mutation.
type Wallet struct {
	mu     sync.Mutex
	userID string
	store  Store

	totalBalance     float64
	availableBalance float64
	positions        map[string]position
}

// New seeds a ledger from the user's current durable balances.
func New(userID string, total, available float64, store Store) *Wallet {
	return &Wallet{
		userID:           userID,
		store:            store,
		totalBalance:     total,
		availableBalance: available,
		positions:        make(map[string]position),
	}
}

// Balances returns the current (total, available) snapshot.
func (w *Wallet) Balances() (total, available float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalBalance, w.availableBalance
}

// Position returns the held quantity for a symbol.
func (w *Wallet) Position(symbol string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.positions[symbol].Qty
}

// Buy attempts a simulated fill: cost = price*qty + fee. The durable commit
// is written first; in-memory state changes only after it lands.
// Entry price is overwritten on repeated buys into an existing position
// (documented product behavior, no volume-weighted averaging).
func (w *Wallet) Buy(ctx context.Context, symbol string, price, qty, fee float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cost := price*qty + fee
	if w.availableBalance < cost {
		return fmt.Errorf("%w: need %.8f, have %.8f", ErrInsufficientBalance, cost, w.availableBalance)
	}

	newAvailable := w.availableBalance - cost
	newQty := w.positions[symbol].Qty + qty

	commit := db.TradeCommit{
		Trade: db.Trade{
			ID:     uuid.NewString(),
			UserID: w.userID,
			Symbol: symbol,
			Side:   "BUY",
			Price:  price,
			Qty:    qty,
			Fee:    fee,
			Mode:   "paper",
		},
		Position: db.Position{
			UserID:       w.userID,
			Symbol:       symbol,
			Qty:          newQty,
			EntryPrice:   price,
			CurrentPrice: price,
			Side:         "BUY",
		},
		Wallet: db.Wallet{
			UserID:           w.userID,
			TotalBalance:     w.totalBalance,
			AvailableBalance: newAvailable,
		},
	}
	if err := w.store.ApplyTrade(ctx, commit); err != nil {
		return fmt.Errorf("persist buy: %w", err)
	}

	w.availableBalance = newAvailable
	w.positions[symbol] = position{Qty: newQty, EntryPrice: price}
	return nil
}

// Sell attempts to close (part of) a position: proceeds = price*qty - fee.
// Returns the realized PnL of the fill.
func (w *Wallet) Sell(ctx context.Context, symbol string, price, qty, fee float64) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos := w.positions[symbol]
	if pos.Qty < qty {
		return 0, fmt.Errorf("%w: hold %.8f, requested %.8f", ErrInsufficientPosition, pos.Qty, qty)
	}

	proceeds := price*qty - fee
	realizedPnL := (price - pos.EntryPrice) * qty
	newAvailable := w.availableBalance + proceeds
	newQty := pos.Qty - qty

	commit := db.TradeCommit{
		Trade: db.Trade{
			ID:          uuid.NewString(),
			UserID:      w.userID,
			Symbol:      symbol,
			Side:        "SELL",
			Price:       price,
			Qty:         qty,
			Fee:         fee,
			RealizedPnL: realizedPnL,
			Mode:        "paper",
		},
		Position: db.Position{
			UserID:       w.userID,
			Symbol:       symbol,
			Qty:          newQty,
			EntryPrice:   pos.EntryPrice,
			CurrentPrice: price,
			Side:         "SELL",
			IsClosed:     newQty <= 0,
			RealizedPnL:  realizedPnL,
		},
		Wallet: db.Wallet{
			UserID:           w.userID,
			TotalBalance:     w.totalBalance,
			AvailableBalance: newAvailable,
		},
	}
	if err := w.store.ApplyTrade(ctx, commit); err != nil {
		return 0, fmt.Errorf("persist sell: %w", err)
	}

	w.availableBalance = newAvailable
	if newQty <= 0 {
		delete(w.positions, symbol)
	} else {
		w.positions[symbol] = position{Qty: newQty, EntryPrice: pos.EntryPrice}
	}
	return realizedPnL, nil
}

// Deposit adds funds to both balances and persists the snapshot.
func (w *Wallet) Deposit(ctx context.Context, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	newTotal := w.totalBalance + amount
	newAvailable := w.availableBalance + amount

	if err := w.store.UpsertWallet(ctx, db.Wallet{
		UserID:           w.userID,
		TotalBalance:     newTotal,
		AvailableBalance: newAvailable,
	}); err != nil {
		return fmt.Errorf("persist deposit: %w", err)
	}

	w.totalBalance = newTotal
	w.availableBalance = newAvailable
	return nil
}

// Withdraw removes funds from both balances; fails if available is short.
func (w *Wallet) Withdraw(ctx context.Context, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.availableBalance < amount {
		return fmt.Errorf("%w: need %.8f, have %.8f", ErrInsufficientBalance, amount, w.availableBalance)
	}

	newTotal := w.totalBalance - amount
	newAvailable := w.availableBalance - amount

	if err := w.store.UpsertWallet(ctx, db.Wallet{
		UserID:           w.userID,
		TotalBalance:     newTotal,
		AvailableBalance: newAvailable,
	}); err != nil {
		return fmt.Errorf("persist withdraw: %w", err)
	}

	w.totalBalance = newTotal
	w.availableBalance = newAvailable
	return nil
}
