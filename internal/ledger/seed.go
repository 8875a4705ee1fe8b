package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/marketpulse/simulator/pkg/models"
)

// seedEntry is the JSON shape for one account record in a seed file.
type seedEntry struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	Cash          float64            `json:"cash"`
	Holdings      []models.Holding   `json:"holdings,omitempty"`
	Subscriptions []string           `json:"subscriptions,omitempty"`
	Alerts        map[string]float64 `json:"alerts,omitempty"`
}

// LoadSeedFile reads a JSON array of account definitions and saves each one
// that does not already exist. Existing accounts are left untouched so a
// restart never resets live balances.
//
// Example seed file:
//
//	[
//	  { "id": "alice", "email": "alice@example.com", "cash": 10000 },
//	  { "id": "bob",   "email": "bob@example.com",   "cash": 5000,
//	    "holdings": [{"ticker": "AAPL", "quantity": 10, "avg_price": 140}] }
//	]
func LoadSeedFile(ctx context.Context, store Store, path string, logger *zap.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed file: %w", err)
	}

	var entries []seedEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("seed file parse error: %w", err)
	}

	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("seed entry %d: id is required", i)
		}
		if err := seedAccount(ctx, store, e, logger); err != nil {
			return fmt.Errorf("seed entry %d (%q): %w", i, e.ID, err)
		}
	}
	return nil
}

// SeedDemo installs two demo accounts for local development if absent.
func SeedDemo(ctx context.Context, store Store, logger *zap.Logger) error {
	demo := []seedEntry{
		{ID: "alice", Email: "alice@example.com", Cash: 10000},
		{ID: "bob", Email: "bob@example.com", Cash: 5000,
			Holdings: []models.Holding{{Ticker: "AAPL", Quantity: 10, AvgPrice: 140}}},
	}
	for _, e := range demo {
		if err := seedAccount(ctx, store, e, logger); err != nil {
			return err
		}
	}
	return nil
}

func seedAccount(ctx context.Context, store Store, e seedEntry, logger *zap.Logger) error {
	if _, err := store.Load(ctx, e.ID); err == nil {
		logger.Debug("Seed account already exists", zap.String("user_id", e.ID))
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	acct := &models.UserAccount{
		ID:            e.ID,
		Email:         e.Email,
		Cash:          e.Cash,
		Holdings:      e.Holdings,
		Subscriptions: e.Subscriptions,
		Alerts:        e.Alerts,
	}
	if acct.Alerts == nil {
		acct.Alerts = make(map[string]float64)
	}
	if err := store.Save(ctx, acct); err != nil {
		return err
	}
	logger.Info("Seeded account", zap.String("user_id", e.ID), zap.Float64("cash", e.Cash))
	return nil
}
