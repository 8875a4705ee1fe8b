package registry_test

import (
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/internal/registry"
	"github.com/marketpulse/simulator/internal/testutils"
)

func newRegistry() *registry.Registry {
	return registry.New(zap.NewNop())
}

func TestAdmit_FirstConnection(t *testing.T) {
	r := newRegistry()
	c := testutils.NewMockClient("alice")

	evicted := r.Admit("alice", "alice@example.com", c, []string{"AAPL"})

	if evicted {
		t.Error("first admission should not report an eviction")
	}
	s, ok := r.Lookup("alice")
	if !ok {
		t.Fatal("expected a live session for alice")
	}
	if s.Email != "alice@example.com" {
		t.Errorf("session email = %q", s.Email)
	}
	if subs := s.Subscriptions(); len(subs) != 1 || subs[0] != "AAPL" {
		t.Errorf("initial subscriptions = %v", subs)
	}
}

func TestAdmit_SecondConnectionEvictsFirst(t *testing.T) {
	r := newRegistry()
	first := testutils.NewMockClient("alice")
	second := testutils.NewMockClient("alice")

	r.Admit("alice", "alice@example.com", first, nil)
	evicted := r.Admit("alice", "alice@example.com", second, nil)

	if !evicted {
		t.Error("second admission should report the eviction")
	}
	if !first.IsClosed() {
		t.Error("first connection should have been closed")
	}
	if r.Len() != 1 {
		t.Errorf("expected exactly one live session, got %d", r.Len())
	}
	s, _ := r.Lookup("alice")
	if s.Client != second {
		t.Error("current session should own the newer connection")
	}
}

func TestRemove_OnlyMatchingClient(t *testing.T) {
	r := newRegistry()
	old := testutils.NewMockClient("alice")
	current := testutils.NewMockClient("alice")

	r.Admit("alice", "alice@example.com", old, nil)
	r.Admit("alice", "alice@example.com", current, nil)

	// The evicted connection's teardown must not remove its replacement.
	r.Remove("alice", old)
	if _, ok := r.Lookup("alice"); !ok {
		t.Fatal("replacement session was removed by stale teardown")
	}

	r.Remove("alice", current)
	if _, ok := r.Lookup("alice"); ok {
		t.Error("session should be gone after matching removal")
	}

	// Idempotent.
	r.Remove("alice", current)
}

func TestForEach_ToleratesConcurrentRemoval(t *testing.T) {
	r := newRegistry()
	for _, id := range []string{"a", "b", "c", "d"} {
		r.Admit(id, id+"@example.com", testutils.NewMockClient(id), nil)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.ForEach(func(s *registry.Session) {
				s.Client.SendJSON(protocol.ServerMessage{Type: protocol.TypePriceUpdate})
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c := testutils.NewMockClient("b")
			r.Admit("b", "b@example.com", c, nil)
			r.Remove("b", c)
		}
	}()
	wg.Wait()
}

func TestSetSubscription(t *testing.T) {
	r := newRegistry()
	r.Admit("alice", "alice@example.com", testutils.NewMockClient("alice"), nil)

	subs, ok := r.SetSubscription("alice", "AAPL", protocol.ActionAdd)
	if !ok || len(subs) != 1 {
		t.Fatalf("add: subs = %v ok = %v", subs, ok)
	}

	// ADD is a no-op when already present.
	subs, _ = r.SetSubscription("alice", "AAPL", protocol.ActionAdd)
	if len(subs) != 1 {
		t.Errorf("repeated add changed the set: %v", subs)
	}

	subs, _ = r.SetSubscription("alice", "AAPL", protocol.ActionRemove)
	if len(subs) != 0 {
		t.Errorf("remove: subs = %v", subs)
	}

	// REMOVE is a no-op when absent.
	subs, _ = r.SetSubscription("alice", "AAPL", protocol.ActionRemove)
	if len(subs) != 0 {
		t.Errorf("repeated remove changed the set: %v", subs)
	}

	if _, ok := r.SetSubscription("ghost", "AAPL", protocol.ActionAdd); ok {
		t.Error("expected no session for unknown user")
	}
}
