package models

// Holding is a user's position in one ticker: share count plus cost basis.
// A holding with Quantity 0 is removed from the account rather than kept.
type Holding struct {
	Ticker   string  `json:"ticker"`
	Quantity int64   `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// Transaction is one executed trade. Records are append-only, newest-last.
type Transaction struct {
	Action     string  `json:"action"` // BUY or SELL
	Ticker     string  `json:"ticker"`
	Quantity   int64   `json:"quantity"`
	Price      float64 `json:"price"`
	TradeValue float64 `json:"trade_value"`
	Timestamp  int64   `json:"timestamp"` // unix micro
}

// UserAccount is the durable per-user state owned by the ledger store.
type UserAccount struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	Cash          float64            `json:"cash"`
	Holdings      []Holding          `json:"holdings"`
	Subscriptions []string           `json:"subscriptions"`
	Alerts        map[string]float64 `json:"alerts"`
	Transactions  []Transaction      `json:"transactions"`
}

// HoldingFor returns the index of the holding for ticker, or -1 if absent.
func (a *UserAccount) HoldingFor(ticker string) int {
	for i := range a.Holdings {
		if a.Holdings[i].Ticker == ticker {
			return i
		}
	}
	return -1
}
