package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/alert"
	"github.com/marketpulse/simulator/internal/feed"
	"github.com/marketpulse/simulator/internal/ledger"
	"github.com/marketpulse/simulator/internal/market"
	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/internal/registry"
	"github.com/marketpulse/simulator/internal/trade"
)

// Engine owns the shared simulation state and the periodic broadcast loop.
// All tick work runs sequentially on one scheduling goroutine, so ticks can
// never overlap.
type Engine struct {
	market   *market.Model
	sessions *registry.Registry
	store    ledger.Store
	locks    *ledger.Locker
	trades   *trade.Engine
	alerts   *alert.Engine
	journal  *feed.Journal // optional; nil disables journaling

	interval time.Duration
	tickSeq  atomic.Int64
	logger   *zap.Logger
	stop     chan struct{}
}

func New(
	m *market.Model,
	sessions *registry.Registry,
	store ledger.Store,
	locks *ledger.Locker,
	trades *trade.Engine,
	alerts *alert.Engine,
	journal *feed.Journal,
	interval time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		market:   m,
		sessions: sessions,
		store:    store,
		locks:    locks,
		trades:   trades,
		alerts:   alerts,
		journal:  journal,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start launches the broadcast loop.
func (e *Engine) Start() {
	go e.run()
}

// Stop signals the loop goroutine to exit cleanly.
func (e *Engine) Stop() {
	close(e.stop)
}

func (e *Engine) run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("Broadcast loop started", zap.Duration("interval", e.interval))

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick runs one full cycle: advance prices, scan alerts per ticker, push a
// snapshot to every live session, journal the tick. Exported so tests and
// tooling can step the simulation deterministically.
func (e *Engine) Tick() {
	ctx := context.Background()

	book := e.market.Advance()
	seq := e.tickSeq.Add(1)

	for ticker, price := range book.Prices {
		e.alerts.Evaluate(ctx, ticker, price)
	}

	e.broadcast(ctx, book)

	if e.journal != nil {
		e.journal.Publish(ctx, book, seq)
	}
}

// broadcast pushes one PRICE_UPDATE snapshot per live session. A user whose
// account fails to load is skipped; the pass continues for everyone else.
func (e *Engine) broadcast(ctx context.Context, book market.Book) {
	e.sessions.ForEach(func(s *registry.Session) {
		mu := e.locks.Of(s.UserID)
		mu.Lock()
		acct, err := e.store.Load(ctx, s.UserID)
		mu.Unlock()
		if err != nil {
			e.logger.Warn("Broadcast skipped user",
				zap.String("user_id", s.UserID), zap.Error(err))
			return
		}

		s.Client.SendJSON(protocol.ServerMessage{
			Type: protocol.TypePriceUpdate,
			Data: protocol.PriceUpdateData{
				Prices:   book.Prices,
				Cash:     acct.Cash,
				Holdings: protocol.HoldingViews(acct.Holdings, book.Prices),
				Alerts:   acct.Alerts,
				Risk:     ComputeRisk(len(acct.Holdings), e.market.TickerCount(), book.Index),
			},
		})
	})
}
