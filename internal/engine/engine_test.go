package engine_test

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/alert"
	"github.com/marketpulse/simulator/internal/auth"
	"github.com/marketpulse/simulator/internal/engine"
	"github.com/marketpulse/simulator/internal/ledger"
	"github.com/marketpulse/simulator/internal/market"
	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/internal/registry"
	"github.com/marketpulse/simulator/internal/testutils"
	"github.com/marketpulse/simulator/internal/trade"
	"github.com/marketpulse/simulator/pkg/models"
)

var basePrices = map[string]float64{
	"AAPL": 150.0,
	"GOOG": 2800.0,
	"TSLA": 700.0,
	"AMZN": 3400.0,
	"MSFT": 310.0,
}

type fixture struct {
	engine   *engine.Engine
	store    *testutils.MockStore
	sessions *registry.Registry
	model    *market.Model
}

// newFixture builds a full engine over a neutral random source, so prices
// stay at their base values across ticks.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zap.NewNop()
	store := testutils.NewMockStore()
	locks := ledger.NewLocker()
	model := market.NewModel(basePrices, &testutils.StubRand{Values: []float64{0.5}})
	sessions := registry.New(logger)
	trades := trade.NewEngine(store, locks, model, sessions, logger)
	alerts := alert.NewEngine(store, locks, sessions, model.Tickers(), logger)

	return &fixture{
		engine:   engine.New(model, sessions, store, locks, trades, alerts, nil, time.Hour, logger),
		store:    store,
		sessions: sessions,
		model:    model,
	}
}

func (f *fixture) admit(t *testing.T, acct *models.UserAccount) *testutils.MockClient {
	t.Helper()
	f.store.Put(acct)
	client := testutils.NewMockClient(acct.ID)
	if err := f.engine.Admit(context.Background(), auth.Identity{UserID: acct.ID, Email: acct.Email}, client); err != nil {
		t.Fatalf("admit: %v", err)
	}
	return client
}

func TestAdmit_SendsInit(t *testing.T) {
	f := newFixture(t)
	client := f.admit(t, &models.UserAccount{
		ID: "alice", Email: "alice@example.com", Cash: 1000,
		Subscriptions: []string{"AAPL"},
		Transactions: []models.Transaction{
			{Action: "BUY", Ticker: "AAPL", Quantity: 1, Price: 100, TradeValue: 100, Timestamp: 1},
			{Action: "SELL", Ticker: "AAPL", Quantity: 1, Price: 110, TradeValue: 110, Timestamp: 2},
		},
	})

	msgs := client.MessagesOfType(protocol.TypeInit)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 INIT, got %d", len(msgs))
	}
	data, ok := msgs[0].Data.(protocol.InitData)
	if !ok {
		t.Fatalf("INIT data has unexpected type %T", msgs[0].Data)
	}
	if data.Cash != 1000 || data.Email != "alice@example.com" {
		t.Errorf("INIT data = %+v", data)
	}
	if len(data.Prices) != len(basePrices) {
		t.Errorf("INIT should carry the full price book, got %d entries", len(data.Prices))
	}
	// Storage is newest-last; clients see newest first.
	if len(data.Transactions) != 2 || data.Transactions[0].Action != "SELL" {
		t.Errorf("transactions not newest-first: %+v", data.Transactions)
	}
}

func TestAdmit_UnknownUser(t *testing.T) {
	f := newFixture(t)
	client := testutils.NewMockClient("ghost")

	err := f.engine.Admit(context.Background(), auth.Identity{UserID: "ghost"}, client)
	if err == nil {
		t.Fatal("expected admission to fail for unknown user")
	}
	if f.sessions.Len() != 0 {
		t.Error("no session should be installed on failed admission")
	}
}

func TestTick_BroadcastsToAllSessions(t *testing.T) {
	f := newFixture(t)
	alice := f.admit(t, &models.UserAccount{ID: "alice", Email: "a@example.com", Cash: 1000,
		Holdings: []models.Holding{{Ticker: "AAPL", Quantity: 2, AvgPrice: 140}}})
	bob := f.admit(t, &models.UserAccount{ID: "bob", Email: "b@example.com", Cash: 50})

	f.engine.Tick()

	for name, client := range map[string]*testutils.MockClient{"alice": alice, "bob": bob} {
		msgs := client.MessagesOfType(protocol.TypePriceUpdate)
		if len(msgs) != 1 {
			t.Fatalf("%s: expected 1 PRICE_UPDATE, got %d", name, len(msgs))
		}
		data := msgs[0].Data.(protocol.PriceUpdateData)
		if len(data.Prices) != len(basePrices) {
			t.Errorf("%s: partial price book: %d entries", name, len(data.Prices))
		}
	}

	data := alice.MessagesOfType(protocol.TypePriceUpdate)[0].Data.(protocol.PriceUpdateData)
	if data.Cash != 1000 {
		t.Errorf("alice cash = %f", data.Cash)
	}
	// One holding out of five supported tickers; neutral index.
	if data.Risk.Diversification != 20 {
		t.Errorf("diversification = %f, want 20", data.Risk.Diversification)
	}
	if data.Risk.Beta != 1 {
		t.Errorf("beta = %f, want 1", data.Risk.Beta)
	}
}

func TestTick_SkipsFailingUser(t *testing.T) {
	f := newFixture(t)
	broken := f.admit(t, &models.UserAccount{ID: "broken", Email: "x@example.com"})
	healthy := f.admit(t, &models.UserAccount{ID: "alice", Email: "a@example.com", Cash: 10})
	f.store.FailLoad["broken"] = true

	f.engine.Tick()

	if len(broken.MessagesOfType(protocol.TypePriceUpdate)) != 0 {
		t.Error("failing user should be skipped")
	}
	if len(healthy.MessagesOfType(protocol.TypePriceUpdate)) != 1 {
		t.Error("healthy user should still receive the snapshot")
	}
}

func TestTick_FiresAlerts(t *testing.T) {
	f := newFixture(t)
	// Threshold above the frozen price, so the very next tick fires it.
	client := f.admit(t, &models.UserAccount{ID: "alice", Email: "a@example.com",
		Alerts: map[string]float64{"AAPL": 200}})

	f.engine.Tick()
	f.engine.Tick()

	if n := len(client.MessagesOfType(protocol.TypeAlertTriggered)); n != 1 {
		t.Errorf("expected exactly one alert fire across ticks, got %d", n)
	}
}

func TestHandleMessage_TradeRoundTrip(t *testing.T) {
	f := newFixture(t)
	client := f.admit(t, &models.UserAccount{ID: "alice", Email: "a@example.com", Cash: 1000})

	f.engine.HandleMessage("alice", protocol.ClientRequest{
		Type: protocol.TypeBuy, Ticker: "AAPL", Quantity: 2,
	})

	msgs := client.MessagesOfType(protocol.TypePortfolioUpdate)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 PORTFOLIO_UPDATE, got %d", len(msgs))
	}
	data := msgs[0].Data.(protocol.PortfolioData)
	if data.Cash != 700 {
		t.Errorf("cash after buy = %f, want 700", data.Cash)
	}
	if f.store.Get("alice").Cash != 700 {
		t.Error("trade not persisted")
	}
}

func TestHandleMessage_SubscribePersistsEventually(t *testing.T) {
	f := newFixture(t)
	f.admit(t, &models.UserAccount{ID: "alice", Email: "a@example.com", Cash: 10})

	f.engine.HandleMessage("alice", protocol.ClientRequest{
		Type: protocol.TypeSubscribe, Ticker: "AAPL", Action: protocol.ActionAdd,
	})

	s, _ := f.sessions.Lookup("alice")
	if subs := s.Subscriptions(); len(subs) != 1 || subs[0] != "AAPL" {
		t.Fatalf("in-memory subscriptions = %v", subs)
	}

	// Persistence is best-effort and asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if subs := f.store.Get("alice").Subscriptions; len(subs) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("subscription never persisted")
}

func TestHandleMessage_UnknownTypeIgnored(t *testing.T) {
	f := newFixture(t)
	client := f.admit(t, &models.UserAccount{ID: "alice", Email: "a@example.com", Cash: 10})
	before := len(client.Messages)

	f.engine.HandleMessage("alice", protocol.ClientRequest{Type: "DANCE"})

	if len(client.Messages) != before {
		t.Error("unknown message type should produce no reply")
	}
}

func TestComputeRisk(t *testing.T) {
	tests := []struct {
		name     string
		holdings int
		tickers  int
		index    float64
		wantDiv  float64
		wantBeta float64
	}{
		{"empty portfolio", 0, 5, 1000, 0, 1},
		{"one of five", 1, 5, 1000, 20, 1},
		{"fully spread", 5, 5, 1000, 100, 1},
		{"clamped", 7, 5, 1000, 100, 1},
		{"bull market", 0, 5, 1200, 0, 1.1},
		{"bear market", 0, 5, 800, 0, 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.ComputeRisk(tt.holdings, tt.tickers, tt.index)
			if got.Diversification != tt.wantDiv {
				t.Errorf("diversification = %f, want %f", got.Diversification, tt.wantDiv)
			}
			if math.Abs(got.Beta-tt.wantBeta) > 1e-9 {
				t.Errorf("beta = %f, want %f", got.Beta, tt.wantBeta)
			}
		})
	}
}
