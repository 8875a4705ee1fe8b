// Package trade validates and applies BUY/SELL requests against a user's
// cash-and-holdings ledger.
package trade

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/ledger"
	"github.com/marketpulse/simulator/internal/market"
	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/internal/registry"
	"github.com/marketpulse/simulator/pkg/models"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Pricer is the read-only price lookup the engine needs; satisfied by
// *market.Model.
type Pricer interface {
	Price(ticker string) (float64, bool)
	Snapshot() market.Book
}

// Result reports the outcome of one trade attempt.
type Result struct {
	OK      bool
	Message string
	Account *models.UserAccount // account state after the attempt; nil only if it could not be read or recorded
}

// Engine executes trades. Every load-modify-save runs under the user's ledger
// lock so concurrent requests and alert evaluations cannot lose updates.
type Engine struct {
	store    ledger.Store
	locks    *ledger.Locker
	prices   Pricer
	sessions *registry.Registry
	logger   *zap.Logger
}

func NewEngine(store ledger.Store, locks *ledger.Locker, prices Pricer, sessions *registry.Registry, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		locks:    locks,
		prices:   prices,
		sessions: sessions,
		logger:   logger,
	}
}

// Execute runs one BUY or SELL for userID and pushes the outcome to the
// user's session if one is live. Rejections mutate nothing.
func (e *Engine) Execute(ctx context.Context, userID, ticker string, quantity int64, side Side) Result {
	result := e.execute(ctx, userID, ticker, quantity, side)
	e.notify(userID, result)
	return result
}

func (e *Engine) execute(ctx context.Context, userID, ticker string, quantity int64, side Side) Result {
	mu := e.locks.Of(userID)
	mu.Lock()
	defer mu.Unlock()

	// Load before validating: every rejection reply carries the user's real
	// cash and holdings, never a zeroed portfolio.
	acct, err := e.store.Load(ctx, userID)
	if err != nil {
		e.logger.Warn("Trade aborted: account unavailable",
			zap.String("user_id", userID), zap.Error(err))
		return Result{Message: "Trade rejected: account unavailable"}
	}

	if side != SideBuy && side != SideSell {
		return Result{Message: fmt.Sprintf("Invalid trade side: %s", side), Account: acct}
	}
	if quantity <= 0 {
		return Result{Message: "Trade rejected: quantity must be positive", Account: acct}
	}
	price, ok := e.prices.Price(ticker)
	if !ok {
		return Result{Message: fmt.Sprintf("Trade rejected: unknown ticker %s", ticker), Account: acct}
	}

	totalValue := float64(quantity) * price

	var message string
	switch side {
	case SideBuy:
		if acct.Cash < totalValue {
			return Result{
				Message: fmt.Sprintf("Insufficient cash: need %.2f, available %.2f", totalValue, acct.Cash),
				Account: acct,
			}
		}
		acct.Cash -= totalValue
		applyBuy(acct, ticker, quantity, price, totalValue)
		message = fmt.Sprintf("Bought %d %s @ %.2f for %.2f", quantity, ticker, price, totalValue)

	case SideSell:
		idx := acct.HoldingFor(ticker)
		if idx < 0 || acct.Holdings[idx].Quantity < quantity {
			var held int64
			if idx >= 0 {
				held = acct.Holdings[idx].Quantity
			}
			return Result{
				Message: fmt.Sprintf("Insufficient holdings of %s: need %d, available %d", ticker, quantity, held),
				Account: acct,
			}
		}
		acct.Cash += totalValue
		acct.Holdings[idx].Quantity -= quantity
		if acct.Holdings[idx].Quantity == 0 {
			acct.Holdings = append(acct.Holdings[:idx], acct.Holdings[idx+1:]...)
		}
		message = fmt.Sprintf("Sold %d %s @ %.2f for %.2f", quantity, ticker, price, totalValue)
	}

	acct.Transactions = append(acct.Transactions, models.Transaction{
		Action:     string(side),
		Ticker:     ticker,
		Quantity:   quantity,
		Price:      price,
		TradeValue: totalValue,
		Timestamp:  time.Now().UnixMicro(),
	})

	if err := e.store.Save(ctx, acct); err != nil {
		e.logger.Error("Trade not persisted",
			zap.String("user_id", userID), zap.String("ticker", ticker), zap.Error(err))
		return Result{Message: "Trade rejected: could not be recorded"}
	}

	e.logger.Info("Trade executed",
		zap.String("user_id", userID),
		zap.String("side", string(side)),
		zap.String("ticker", ticker),
		zap.Int64("quantity", quantity),
		zap.Float64("price", price))

	return Result{OK: true, Message: message, Account: acct}
}

// applyBuy folds a purchase into the holdings set using weighted-average cost.
func applyBuy(acct *models.UserAccount, ticker string, quantity int64, price, totalValue float64) {
	idx := acct.HoldingFor(ticker)
	if idx < 0 {
		acct.Holdings = append(acct.Holdings, models.Holding{
			Ticker:   ticker,
			Quantity: quantity,
			AvgPrice: price,
		})
		return
	}
	h := &acct.Holdings[idx]
	h.AvgPrice = (float64(h.Quantity)*h.AvgPrice + totalValue) / float64(h.Quantity+quantity)
	h.Quantity += quantity
}

// notify pushes a PORTFOLIO_UPDATE to the owning session, if still connected.
// Other sessions never see the result. When the account could not be read at
// all the payload is omitted so the client keeps its prior state.
func (e *Engine) notify(userID string, result Result) {
	s, ok := e.sessions.Lookup(userID)
	if !ok {
		return
	}

	msg := protocol.ServerMessage{
		Type:    protocol.TypePortfolioUpdate,
		Message: result.Message,
	}
	if result.Account != nil {
		msg.Data = protocol.PortfolioData{
			Cash:     result.Account.Cash,
			Holdings: protocol.HoldingViews(result.Account.Holdings, e.prices.Snapshot().Prices),
		}
	}
	s.Client.SendJSON(msg)
}
