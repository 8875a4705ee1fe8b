// Package registry tracks the live binding between authenticated users and
// their websocket connections. At most one session exists per user id; a new
// connection for the same user evicts the old one (last-writer-wins).
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/protocol"
)

// Client is the connection handle a session owns.
type Client interface {
	UserID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Session binds one user to one live connection plus the user's in-memory
// subscription set. The subscription set is a client-side display filter only;
// broadcasts always carry the full price book.
type Session struct {
	UserID string
	Email  string
	Client Client

	mu         sync.RWMutex
	subscribed map[string]bool
}

// Subscribe adds ticker to the set; a no-op if already present.
func (s *Session) Subscribe(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[ticker] = true
}

// Unsubscribe removes ticker from the set; a no-op if absent.
func (s *Session) Unsubscribe(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribed, ticker)
}

// Subscriptions returns a copy of the subscribed set.
func (s *Session) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]string, 0, len(s.subscribed))
	for t := range s.subscribed {
		subs = append(subs, t)
	}
	return subs
}

// Registry is the process-wide session map. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Admit installs a session for userID, evicting any existing one first.
// The evicted connection is closed with a normal-closure frame. Returns
// whether a prior session was replaced.
func (r *Registry) Admit(userID, email string, c Client, initialSubscriptions []string) (evicted bool) {
	subscribed := make(map[string]bool, len(initialSubscriptions))
	for _, t := range initialSubscriptions {
		subscribed[t] = true
	}
	session := &Session{UserID: userID, Email: email, Client: c, subscribed: subscribed}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[userID]; ok {
		old.Client.Close()
		evicted = true
		r.logger.Info("Evicted prior session", zap.String("user_id", userID))
	}
	r.sessions[userID] = session
	return evicted
}

// Lookup returns the live session for userID, if any.
func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Remove drops the session for userID, but only if it still owns c. This keeps
// an evicted connection's teardown from removing its replacement. Idempotent.
func (r *Registry) Remove(userID string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok || s.Client != c {
		return
	}
	delete(r.sessions, userID)
	s.Client.Close()
}

// ForEach calls fn for every live session. It iterates a snapshot, so fn may
// run concurrently with admissions and removals; sessions removed mid-pass
// simply receive no further sends.
func (r *Registry) ForEach(fn func(s *Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Len returns the live session count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetSubscription mutates userID's in-memory subscription set. Returns the
// updated set and whether a session existed. Persistence is the caller's
// concern and is best-effort.
func (r *Registry) SetSubscription(userID, ticker, action string) ([]string, bool) {
	s, ok := r.Lookup(userID)
	if !ok {
		return nil, false
	}
	switch action {
	case protocol.ActionAdd:
		s.Subscribe(ticker)
	case protocol.ActionRemove:
		s.Unsubscribe(ticker)
	}
	return s.Subscriptions(), true
}
