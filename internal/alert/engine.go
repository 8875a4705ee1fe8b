// Package alert evaluates standing price alerts on every tick. An alert fires
// when a ticker's price reaches or drops below its threshold; firing deletes
// the alert, so it fires at most once.
package alert

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/ledger"
	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/internal/registry"
)

type Engine struct {
	store        ledger.Store
	locks        *ledger.Locker
	sessions     *registry.Registry
	validTickers map[string]bool
	logger       *zap.Logger
}

func NewEngine(store ledger.Store, locks *ledger.Locker, sessions *registry.Registry, validTickers map[string]bool, logger *zap.Logger) *Engine {
	return &Engine{
		store:        store,
		locks:        locks,
		sessions:     sessions,
		validTickers: validTickers,
		logger:       logger,
	}
}

// Evaluate checks every live session's alert for ticker against the new price.
// A failure loading or saving one user's account is logged and skipped; it
// never aborts the pass for other sessions.
func (e *Engine) Evaluate(ctx context.Context, ticker string, price float64) {
	e.sessions.ForEach(func(s *registry.Session) {
		e.evaluateSession(ctx, s, ticker, price)
	})
}

func (e *Engine) evaluateSession(ctx context.Context, s *registry.Session, ticker string, price float64) {
	mu := e.locks.Of(s.UserID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := e.store.Load(ctx, s.UserID)
	if err != nil {
		e.logger.Warn("Alert scan skipped user",
			zap.String("user_id", s.UserID), zap.Error(err))
		return
	}

	threshold, ok := acct.Alerts[ticker]
	if !ok || price > threshold {
		return
	}

	// Delete before persisting so a repeated tick at or below threshold
	// cannot re-fire.
	delete(acct.Alerts, ticker)
	if err := e.store.Save(ctx, acct); err != nil {
		e.logger.Error("Alert fire not persisted",
			zap.String("user_id", s.UserID), zap.String("ticker", ticker), zap.Error(err))
		return
	}

	e.logger.Info("Alert fired",
		zap.String("user_id", s.UserID),
		zap.String("ticker", ticker),
		zap.Float64("price", price),
		zap.Float64("threshold", threshold))

	s.Client.SendJSON(protocol.ServerMessage{
		Type:    protocol.TypeAlertTriggered,
		Message: fmt.Sprintf("%s dropped to %.2f (alert at %.2f)", ticker, price, threshold),
		Data: protocol.AlertTriggeredData{
			Ticker:    ticker,
			Price:     price,
			Threshold: threshold,
			Alerts:    acct.Alerts,
		},
	})
}

// Set installs or overwrites the alert threshold for ticker on userID's
// account (one active alert per user per ticker) and confirms to the session.
func (e *Engine) Set(ctx context.Context, userID, ticker string, threshold float64) {
	s, connected := e.sessions.Lookup(userID)

	if !e.validTickers[ticker] || threshold <= 0 {
		if connected {
			s.Client.SendJSON(protocol.ServerMessage{
				Type:    protocol.TypeError,
				Message: fmt.Sprintf("Cannot set alert: invalid ticker %q or threshold", ticker),
			})
		}
		return
	}

	mu := e.locks.Of(userID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := e.store.Load(ctx, userID)
	if err != nil {
		e.logger.Warn("Set alert failed: account unavailable",
			zap.String("user_id", userID), zap.Error(err))
		return
	}

	if acct.Alerts == nil {
		acct.Alerts = make(map[string]float64)
	}
	acct.Alerts[ticker] = threshold

	if err := e.store.Save(ctx, acct); err != nil {
		e.logger.Error("Set alert not persisted",
			zap.String("user_id", userID), zap.String("ticker", ticker), zap.Error(err))
		return
	}

	if connected {
		s.Client.SendJSON(protocol.ServerMessage{
			Type:    protocol.TypeAlertSetSuccess,
			Message: fmt.Sprintf("Alert set for %s at %.2f", ticker, threshold),
			Data:    protocol.AlertSetData{Alerts: acct.Alerts},
		})
	}
}
