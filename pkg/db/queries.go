// Package db provides user-isolated queries over the paper-trading store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// UserQueries provides user-isolated database queries.
type UserQueries struct {
	db *sql.DB
}

// Queries returns the user-isolated query layer.
func (d *Database) Queries() *UserQueries {
	return &UserQueries{db: d.DB}
}

// ----------------------------------------
// Wallet Queries
// ----------------------------------------

// GetWallet returns the wallet for a user, or ErrNotFound.
func (q *UserQueries) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrUserIDRequired
	}

	var w Wallet
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, total_balance, available_balance, updated_at
		FROM wallets
		WHERE user_id = ?
	`, userID).Scan(&w.UserID, &w.TotalBalance, &w.AvailableBalance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("query wallet: %w", err)
	}
	return w, nil
}

// UpsertWallet creates or updates the wallet snapshot for a user.
func (q *UserQueries) UpsertWallet(ctx context.Context, w Wallet) error {
	if w.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, upsertWalletSQL, w.UserID, w.TotalBalance, w.AvailableBalance)
	return err
}

const upsertWalletSQL = `
	INSERT INTO wallets (user_id, total_balance, available_balance, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(user_id) DO UPDATE SET
		total_balance = excluded.total_balance,
		available_balance = excluded.available_balance,
		updated_at = CURRENT_TIMESTAMP
`

// ----------------------------------------
// Position Queries
// ----------------------------------------

// GetPosition returns the position row for (user, symbol), or ErrNotFound.
func (q *UserQueries) GetPosition(ctx context.Context, userID, symbol string) (Position, error) {
	if userID == "" {
		return Position{}, ErrUserIDRequired
	}

	var p Position
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, symbol, qty, entry_price, current_price, side, is_closed, realized_pnl, updated_at
		FROM positions
		WHERE user_id = ? AND symbol = ?
	`, userID, symbol).Scan(&p.UserID, &p.Symbol, &p.Qty, &p.EntryPrice, &p.CurrentPrice,
		&p.Side, &p.IsClosed, &p.RealizedPnL, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, ErrNotFound
	}
	if err != nil {
		return Position{}, fmt.Errorf("query position: %w", err)
	}
	return p, nil
}

// ListPositionsByUser returns all open positions for a user.
func (q *UserQueries) ListPositionsByUser(ctx context.Context, userID string) ([]Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, symbol, qty, entry_price, current_price, side, is_closed, realized_pnl, updated_at
		FROM positions
		WHERE user_id = ? AND is_closed = 0
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Qty, &p.EntryPrice, &p.CurrentPrice,
			&p.Side, &p.IsClosed, &p.RealizedPnL, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

const upsertPositionSQL = `
	INSERT INTO positions (user_id, symbol, qty, entry_price, current_price, side, is_closed, realized_pnl, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(user_id, symbol) DO UPDATE SET
		qty = excluded.qty,
		entry_price = excluded.entry_price,
		current_price = excluded.current_price,
		side = excluded.side,
		is_closed = excluded.is_closed,
		realized_pnl = excluded.realized_pnl,
		updated_at = CURRENT_TIMESTAMP
`

// UpsertPosition creates or updates a position row.
// Entry price is overwritten on repeated buys into the same symbol; this
// mirrors the documented product behavior (no volume-weighted averaging).
func (q *UserQueries) UpsertPosition(ctx context.Context, p Position) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, upsertPositionSQL,
		p.UserID, p.Symbol, p.Qty, p.EntryPrice, p.CurrentPrice, p.Side, p.IsClosed, p.RealizedPnL)
	return err
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

const insertTradeSQL = `
	INSERT INTO trades (id, user_id, symbol, side, price, qty, fee, realized_pnl, mode, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
`

// InsertTrade appends one immutable trade record.
func (q *UserQueries) InsertTrade(ctx context.Context, t Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, insertTradeSQL,
		t.ID, t.UserID, t.Symbol, t.Side, t.Price, t.Qty, t.Fee, t.RealizedPnL, t.Mode)
	return err
}

// ListTradesByUser returns the most recent trades for a user.
func (q *UserQueries) ListTradesByUser(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, side, price, qty, fee, realized_pnl, mode, created_at
		FROM trades
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &t.Price, &t.Qty,
			&t.Fee, &t.RealizedPnL, &t.Mode, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ApplyTrade writes one ledger mutation durably: the trade record, the
// resulting position, and the resulting wallet snapshot, all in a single
// transaction. The in-memory ledger must only commit after this returns nil.
func (q *UserQueries) ApplyTrade(ctx context.Context, c TradeCommit) error {
	if c.Trade.UserID == "" {
		return ErrUserIDRequired
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertTradeSQL,
		c.Trade.ID, c.Trade.UserID, c.Trade.Symbol, c.Trade.Side, c.Trade.Price,
		c.Trade.Qty, c.Trade.Fee, c.Trade.RealizedPnL, c.Trade.Mode); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	if _, err := tx.ExecContext(ctx, upsertPositionSQL,
		c.Position.UserID, c.Position.Symbol, c.Position.Qty, c.Position.EntryPrice,
		c.Position.CurrentPrice, c.Position.Side, c.Position.IsClosed, c.Position.RealizedPnL); err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, upsertWalletSQL,
		c.Wallet.UserID, c.Wallet.TotalBalance, c.Wallet.AvailableBalance); err != nil {
		return fmt.Errorf("upsert wallet: %w", err)
	}

	return tx.Commit()
}

// ----------------------------------------
// User Queries
// ----------------------------------------

// CreateUser inserts a new user row.
func (q *UserQueries) CreateUser(ctx context.Context, u User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, u.ID, u.Email, u.PasswordHash)
	return err
}

// GetUserByEmail returns the user with the given email, or ErrNotFound.
func (q *UserQueries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetUserByID returns the user with the given id, or ErrNotFound.
func (q *UserQueries) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}
