package api

import (
	"errors"
	"net/http"
	"sync"

	"papertrade/internal/session"
	"papertrade/internal/symbols"
	"papertrade/pkg/db"

	"github.com/denisbrodbeck/machineid"
	"github.com/gin-gonic/gin"
)

type startTradingRequest struct {
	Symbol     string         `json:"symbol" binding:"required,min=1"`
	Strategy   string         `json:"strategy"`
	Preset     string         `json:"preset"`
	Timeframe  string         `json:"timeframe"`
	Qty        float64        `json:"qty"`
	Parameters map[string]any `json:"parameters"`
}

type amountRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

type listTradesQuery struct {
	Limit int `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// startTrading launches a paper-trading session for the authenticated user.
func (s *Server) startTrading(c *gin.Context) {
	userID := CurrentUserID(c)

	var req startTradingRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	strategyName := req.Strategy
	params := req.Parameters
	if req.Preset != "" {
		preset, ok := s.Presets[req.Preset]
		if !ok {
			respondError(c, http.StatusBadRequest, "UNKNOWN_PRESET", "unknown strategy preset")
			return
		}
		strategyName = preset.Type
		params = preset.Parameters
	}
	if strategyName == "" {
		respondError(c, http.StatusBadRequest, "MISSING_STRATEGY", "strategy or preset is required")
		return
	}

	info, err := s.Registry.Start(c.Request.Context(), session.StartRequest{
		UserID:    userID,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Strategy:  strategyName,
		Params:    params,
		Qty:       req.Qty,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyRunning):
			respondError(c, http.StatusConflict, "TRADING_ALREADY_RUNNING", err.Error())
		case errors.Is(err, session.ErrWalletNotFound):
			respondError(c, http.StatusNotFound, "WALLET_NOT_FOUND", "create a wallet before trading")
		case errors.Is(err, session.ErrNoBalance):
			respondError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", err.Error())
		case errors.Is(err, symbols.ErrSymbolNotFound):
			respondError(c, http.StatusNotFound, "SYMBOL_NOT_FOUND", err.Error())
		default:
			respondError(c, http.StatusBadRequest, "START_FAILED", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "paper trading started",
		"session": info,
	})
}

// stopTrading tears the user's session down. Stopping when nothing runs is
// reported, not treated as an error.
func (s *Server) stopTrading(c *gin.Context) {
	userID := CurrentUserID(c)

	if !s.Registry.Stop(userID) {
		c.JSON(http.StatusOK, gin.H{
			"message":    "paper trading not running",
			"is_running": false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "paper trading stopped",
		"is_running": false,
	})
}

func (s *Server) getTradingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Registry.Status(CurrentUserID(c)))
}

func (s *Server) getTradingState(c *gin.Context) {
	state, ok := s.Registry.State(CurrentUserID(c))
	if !ok {
		respondError(c, http.StatusNotFound, "NOT_RUNNING", "no active paper-trading session")
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) getActiveSessions(c *gin.Context) {
	sessions := s.Registry.ActiveSessions()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) getStrategies(c *gin.Context) {
	presets := make([]gin.H, 0, len(s.Presets))
	for name, p := range s.Presets {
		presets = append(presets, gin.H{
			"name":       name,
			"type":       p.Type,
			"parameters": p.Parameters,
		})
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}

// getPortfolio returns the wallet, open positions and recent fills in one shot.
func (s *Server) getPortfolio(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	wallet, err := s.Queries.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "WALLET_NOT_FOUND", "wallet not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	positions, err := s.Queries.ListPositionsByUser(ctx, userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	trades, err := s.Queries.ListTradesByUser(ctx, userID, 20)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_balance":     wallet.TotalBalance,
		"available_balance": wallet.AvailableBalance,
		"positions":         positions,
		"recent_trades":     trades,
		"is_trading":        s.Registry.IsActive(userID),
	})
}

func (s *Server) getTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.BindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	trades, err := s.Queries.ListTradesByUser(c.Request.Context(), CurrentUserID(c), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}

func (s *Server) getWallet(c *gin.Context) {
	wallet, err := s.Queries.GetWallet(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "WALLET_NOT_FOUND", "wallet not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":           wallet.UserID,
		"total_balance":     wallet.TotalBalance,
		"available_balance": wallet.AvailableBalance,
		"updated_at":        wallet.UpdatedAt,
	})
}

func (s *Server) createWallet(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	if _, err := s.Queries.GetWallet(ctx, userID); err == nil {
		respondError(c, http.StatusConflict, "WALLET_EXISTS", "wallet already exists")
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if err := s.Queries.UpsertWallet(ctx, db.Wallet{
		UserID:           userID,
		TotalBalance:     s.InitialBalance,
		AvailableBalance: s.InitialBalance,
	}); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user_id":           userID,
		"total_balance":     s.InitialBalance,
		"available_balance": s.InitialBalance,
	})
}

// depositFunds adds to both balances. Rejected while a session is live: the
// in-memory ledger would not see the change until the next start.
func (s *Server) depositFunds(c *gin.Context) {
	s.adjustWallet(c, func(w *db.Wallet, amount float64) error {
		w.TotalBalance += amount
		w.AvailableBalance += amount
		return nil
	})
}

func (s *Server) withdrawFunds(c *gin.Context) {
	s.adjustWallet(c, func(w *db.Wallet, amount float64) error {
		if w.AvailableBalance < amount {
			return errors.New("insufficient available balance")
		}
		w.TotalBalance -= amount
		w.AvailableBalance -= amount
		return nil
	})
}

func (s *Server) adjustWallet(c *gin.Context, apply func(*db.Wallet, float64) error) {
	userID := CurrentUserID(c)

	var req amountRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be > 0")
		return
	}

	if s.Registry.IsActive(userID) {
		respondError(c, http.StatusConflict, "TRADING_ACTIVE", "stop paper trading before moving funds")
		return
	}

	ctx := c.Request.Context()
	wallet, err := s.Queries.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "WALLET_NOT_FOUND", "wallet not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if err := apply(&wallet, req.Amount); err != nil {
		respondError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", err.Error())
		return
	}

	if err := s.Queries.UpsertWallet(ctx, wallet); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_balance":     wallet.TotalBalance,
		"available_balance": wallet.AvailableBalance,
	})
}

var (
	instanceOnce sync.Once
	instanceID   string
)

// getSystemStatus reports runtime identity and configuration.
func (s *Server) getSystemStatus(c *gin.Context) {
	instanceOnce.Do(func() {
		id, err := machineid.ID()
		if err != nil {
			id = "unknown"
		}
		instanceID = id
	})

	st := s.Registry.Status("")
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"instance_id":     instanceID,
		"venue":           s.Meta.Venue,
		"version":         s.Meta.Version,
		"eval_mode":       s.Meta.EvalMode,
		"use_mock_feed":   s.Meta.UseMockFeed,
		"market_hours":    st.MarketOpen,
		"active_sessions": len(s.Registry.ActiveSessions()),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Registry.Metrics().Snapshot())
}
