// Package engine wires the simulator core together: it owns the tick
// scheduler and routes inbound session messages to the trade and alert
// engines.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/auth"
	"github.com/marketpulse/simulator/internal/market"
	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/internal/registry"
	"github.com/marketpulse/simulator/internal/trade"
	"github.com/marketpulse/simulator/pkg/models"
)

// Admit turns an already-verified identity into a live session: loads the
// account, installs the session (evicting any prior one), and sends the INIT
// snapshot. Returns an error if the user has no backing account; the caller
// is expected to send ERROR and close.
func (e *Engine) Admit(ctx context.Context, ident auth.Identity, c registry.Client) error {
	mu := e.locks.Of(ident.UserID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := e.store.Load(ctx, ident.UserID)
	if err != nil {
		return fmt.Errorf("admit %s: %w", ident.UserID, err)
	}

	if evicted := e.sessions.Admit(ident.UserID, ident.Email, c, acct.Subscriptions); evicted {
		e.logger.Info("Session replaced by newer connection", zap.String("user_id", ident.UserID))
	}

	book := e.market.Snapshot()
	c.SendJSON(protocol.ServerMessage{
		Type: protocol.TypeInit,
		Data: protocol.InitData{
			Email:         acct.Email,
			Cash:          acct.Cash,
			Holdings:      protocol.HoldingViews(acct.Holdings, book.Prices),
			Prices:        book.Prices,
			Subscriptions: acct.Subscriptions,
			Alerts:        acct.Alerts,
			Risk:          ComputeRisk(len(acct.Holdings), e.market.TickerCount(), book.Index),
			Transactions:  newestFirst(acct.Transactions),
		},
	})
	return nil
}

// HandleMessage dispatches one inbound client request. Unknown types are
// logged and ignored.
func (e *Engine) HandleMessage(userID string, req protocol.ClientRequest) {
	ctx := context.Background()

	switch req.Type {
	case protocol.TypeBuy:
		e.trades.Execute(ctx, userID, req.Ticker, req.Quantity, trade.SideBuy)
	case protocol.TypeSell:
		e.trades.Execute(ctx, userID, req.Ticker, req.Quantity, trade.SideSell)
	case protocol.TypeSubscribe:
		e.handleSubscribe(userID, req)
	case protocol.TypeSetAlert:
		e.alerts.Set(ctx, userID, req.Ticker, req.Threshold)
	default:
		e.logger.Warn("Unknown message type",
			zap.String("user_id", userID), zap.String("type", req.Type))
	}
}

// Disconnect tears down the session owned by c, if it is still current.
func (e *Engine) Disconnect(userID string, c registry.Client) {
	e.sessions.Remove(userID, c)
}

func (e *Engine) handleSubscribe(userID string, req protocol.ClientRequest) {
	if !e.market.Tickers()[req.Ticker] {
		e.logger.Warn("Subscribe to unknown ticker",
			zap.String("user_id", userID), zap.String("ticker", req.Ticker))
		return
	}
	if req.Action != protocol.ActionAdd && req.Action != protocol.ActionRemove {
		e.logger.Warn("Subscribe with unknown action",
			zap.String("user_id", userID), zap.String("action", req.Action))
		return
	}

	subs, ok := e.sessions.SetSubscription(userID, req.Ticker, req.Action)
	if !ok {
		return
	}

	// Best-effort persistence; the in-memory set is already authoritative
	// for this session's lifetime.
	go e.persistSubscriptions(userID, subs)
}

func (e *Engine) persistSubscriptions(userID string, subs []string) {
	ctx := context.Background()

	mu := e.locks.Of(userID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := e.store.Load(ctx, userID)
	if err != nil {
		e.logger.Warn("Subscription persist skipped",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	acct.Subscriptions = subs
	if err := e.store.Save(ctx, acct); err != nil {
		e.logger.Warn("Subscription persist failed",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// ComputeRisk derives portfolio risk metrics: diversification is the share of
// the supported set held (clamped at 100), beta scales linearly with the
// index's deviation from its baseline.
func ComputeRisk(holdingCount, tickerCount int, index float64) protocol.RiskMetrics {
	var diversification float64
	if tickerCount > 0 {
		diversification = float64(holdingCount) / float64(tickerCount) * 100
	}
	if diversification > 100 {
		diversification = 100
	}
	beta := 1 + (index-market.IndexBaseline)/market.IndexBaseline*0.5
	return protocol.RiskMetrics{Diversification: diversification, Beta: beta}
}

// newestFirst returns a reversed copy: storage is append-only newest-last,
// clients see newest-first.
func newestFirst(txns []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(txns))
	for i, t := range txns {
		out[len(txns)-1-i] = t
	}
	return out
}
