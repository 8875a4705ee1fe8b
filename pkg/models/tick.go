package models

// PriceTick is one journaled price point for a ticker
type PriceTick struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Index     float64 `json:"index"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`    // monotonic tick counter
}
