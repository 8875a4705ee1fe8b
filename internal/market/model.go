// Package market holds the simulated price state: one price per supported
// ticker plus an aggregate market index, both advanced once per tick by a
// bounded random-walk.
//
// The working state is owned by a single writer (the broadcast loop). Each
// Advance builds the next book fully and publishes it through an atomic
// pointer, so concurrent readers always see a complete tick and never a
// half-updated one.
package market

import (
	"sync/atomic"
)

const (
	// IndexBaseline is the neutral market level risk metrics are measured against.
	IndexBaseline = 1000.0
	// IndexFloor clamps the index so a long losing streak cannot collapse it.
	IndexFloor = 800.0
	// PriceFloor is the minimum price any ticker can reach.
	PriceFloor = 10.0

	// volatility scales how strongly the combined market+ticker move hits a price.
	volatility = 0.5
	// indexDamping scales the raw market perturbation before it hits the index.
	indexDamping = 0.2
)

// DefaultBasePrices is the reference deployment's supported set.
var DefaultBasePrices = map[string]float64{
	"AAPL": 150.0,
	"GOOG": 2800.0,
	"TSLA": 700.0,
	"AMZN": 3400.0,
	"MSFT": 310.0,
}

// Rand is the randomness source for the walk; satisfied by *math/rand.Rand.
type Rand interface {
	Float64() float64
}

// Book is one published tick: the full price map plus the index level.
// Readers must treat Prices as immutable.
type Book struct {
	Prices map[string]float64
	Index  float64
}

// Model advances and publishes the simulated market. Advance must only be
// called from one goroutine; all other methods are safe for concurrent use.
type Model struct {
	tickers []string
	prices  map[string]float64 // working copy, writer-owned
	index   float64
	rnd     Rand

	snap atomic.Pointer[Book]
}

func NewModel(basePrices map[string]float64, rnd Rand) *Model {
	m := &Model{
		prices: make(map[string]float64, len(basePrices)),
		index:  IndexBaseline,
		rnd:    rnd,
	}
	for t, p := range basePrices {
		m.tickers = append(m.tickers, t)
		m.prices[t] = p
	}
	m.publish()
	return m
}

// Advance applies one random-walk step to the index and every ticker, then
// publishes and returns the new book.
func (m *Model) Advance() Book {
	// Market-wide perturbation in ±5%, damped before it moves the index.
	marketMove := (m.rnd.Float64() - 0.5) * 0.10
	m.index *= 1 + marketMove*indexDamping
	if m.index < IndexFloor {
		m.index = IndexFloor
	}

	for _, t := range m.tickers {
		drift := (m.rnd.Float64() - 0.5) * 0.10
		change := (marketMove + drift) * volatility
		price := m.prices[t] * (1 + change)
		if price < PriceFloor {
			price = PriceFloor
		}
		m.prices[t] = price
	}

	return m.publish()
}

// Snapshot returns the most recently published book.
func (m *Model) Snapshot() Book {
	return *m.snap.Load()
}

// Price returns the current price for ticker, or false if it is not in the
// supported set.
func (m *Model) Price(ticker string) (float64, bool) {
	p, ok := m.Snapshot().Prices[ticker]
	return p, ok
}

// Tickers returns the supported set as a validity map.
func (m *Model) Tickers() map[string]bool {
	valid := make(map[string]bool, len(m.tickers))
	for _, t := range m.tickers {
		valid[t] = true
	}
	return valid
}

// TickerCount returns the size of the supported set.
func (m *Model) TickerCount() int { return len(m.tickers) }

func (m *Model) publish() Book {
	prices := make(map[string]float64, len(m.prices))
	for t, p := range m.prices {
		prices[t] = p
	}
	book := Book{Prices: prices, Index: m.index}
	m.snap.Store(&book)
	return book
}
