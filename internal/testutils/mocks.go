package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/marketpulse/simulator/internal/ledger"
	"github.com/marketpulse/simulator/internal/market"
	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/pkg/models"
)

// MockClient simulates a connected websocket session
type MockClient struct {
	User     string
	Messages []protocol.ServerMessage
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(userID string) *MockClient {
	return &MockClient{User: userID}
}

func (m *MockClient) UserID() string { return m.User }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if msg, ok := v.(protocol.ServerMessage); ok {
		m.Messages = append(m.Messages, msg)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var msg protocol.ServerMessage
	if err := json.Unmarshal(b, &msg); err == nil {
		m.Messages = append(m.Messages, msg)
	}
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

func (m *MockClient) MessagesOfType(msgType string) []protocol.ServerMessage {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []protocol.ServerMessage
	for _, msg := range m.Messages {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

// MockStore is an in-memory ledger store. Accounts are deep-copied on both
// Load and Save so callers cannot mutate stored state through shared pointers,
// matching the serialization boundary of the real store.
type MockStore struct {
	Accounts map[string]*models.UserAccount
	FailLoad map[string]bool
	FailSave map[string]bool
	Saves    int
	Mu       sync.Mutex
}

// Compile-time check to ensure MockStore implements ledger.Store
var _ ledger.Store = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{
		Accounts: make(map[string]*models.UserAccount),
		FailLoad: make(map[string]bool),
		FailSave: make(map[string]bool),
	}
}

// Put installs an account directly, bypassing failure flags.
func (m *MockStore) Put(acct *models.UserAccount) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Accounts[acct.ID] = cloneAccount(acct)
}

// Get returns the stored copy of an account, or nil.
func (m *MockStore) Get(userID string) *models.UserAccount {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	acct, ok := m.Accounts[userID]
	if !ok {
		return nil
	}
	return cloneAccount(acct)
}

func (m *MockStore) Load(_ context.Context, userID string) (*models.UserAccount, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailLoad[userID] {
		return nil, errStoreDown
	}
	acct, ok := m.Accounts[userID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (m *MockStore) Save(_ context.Context, acct *models.UserAccount) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailSave[acct.ID] {
		return errStoreDown
	}
	m.Accounts[acct.ID] = cloneAccount(acct)
	m.Saves++
	return nil
}

func (m *MockStore) Close() error { return nil }

var errStoreDown = errors.New("store unavailable")

func cloneAccount(acct *models.UserAccount) *models.UserAccount {
	raw, _ := json.Marshal(acct)
	var out models.UserAccount
	_ = json.Unmarshal(raw, &out)
	return &out
}

// FixedPricer serves a static price book to the trade engine.
type FixedPricer struct {
	Book market.Book
}

func (p *FixedPricer) Price(ticker string) (float64, bool) {
	v, ok := p.Book.Prices[ticker]
	return v, ok
}

func (p *FixedPricer) Snapshot() market.Book { return p.Book }

// StubRand replays a fixed sequence of values, wrapping around at the end.
type StubRand struct {
	Values []float64
	i      int
}

func (r *StubRand) Float64() float64 {
	if len(r.Values) == 0 {
		return 0.5
	}
	v := r.Values[r.i%len(r.Values)]
	r.i++
	return v
}
