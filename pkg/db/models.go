package db

import "time"

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Wallet is the durable snapshot of a user's paper balances.
// TotalBalance only moves on deposit/withdraw; AvailableBalance moves on every trade.
type Wallet struct {
	UserID           string
	TotalBalance     float64
	AvailableBalance float64
	UpdatedAt        time.Time
}

// Position tracks a held quantity per (user, symbol).
type Position struct {
	UserID       string
	Symbol       string
	Qty          float64
	EntryPrice   float64
	CurrentPrice float64
	Side         string
	IsClosed     bool
	RealizedPnL  float64
	UpdatedAt    time.Time
}

// Trade is one immutable fill record.
type Trade struct {
	ID          string
	UserID      string
	Symbol      string
	Side        string
	Price       float64
	Qty         float64
	Fee         float64
	RealizedPnL float64
	Mode        string
	CreatedAt   time.Time
}

// TradeCommit bundles the durable effects of one ledger mutation: the trade
// record, the resulting position row, and the resulting wallet snapshot.
// It is written in a single transaction so a ledger mutation either lands
// completely or not at all.
type TradeCommit struct {
	Trade    Trade
	Position Position
	Wallet   Wallet
}
