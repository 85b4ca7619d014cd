package auth

import (
	"path/filepath"
	"testing"

	"github.com/fleetforge/fleetd/internal/store"
)

func newTestAuth(t *testing.T) (*Auth, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	a := New(st)
	if _, err := a.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return a, st
}

func TestBootstrapIdempotentAcrossRestarts(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fleet.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	a1 := New(st)
	tok1, err := a1.Bootstrap()
	if err != nil {
		t.Fatalf("bootstrap 1: %v", err)
	}
	st.Close()

	st2, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st2.Close()
	a2 := New(st2)
	tok2, err := a2.Bootstrap()
	if err != nil {
		t.Fatalf("bootstrap 2: %v", err)
	}
	if tok1 != tok2 {
		t.Fatalf("admin token changed across restart: %q vs %q", tok1, tok2)
	}
}

func TestAgentTokenBijection(t *testing.T) {
	a, _ := newTestAuth(t)
	token, err := a.GenerateAgentToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	a.RegisterAgentToken("agent-z", token)

	id, ok := a.AgentFor(token)
	if !ok || id != "agent-z" {
		t.Fatalf("AgentFor(token) = (%q, %v), want (agent-z, true)", id, ok)
	}
}

func TestIsAdmin(t *testing.T) {
	a, _ := newTestAuth(t)
	if !a.IsAdmin(a.AdminToken()) {
		t.Fatal("IsAdmin(admin token) = false")
	}
	if a.IsAdmin("not-the-admin-token") {
		t.Fatal("IsAdmin(garbage) = true")
	}
}

func TestLast4(t *testing.T) {
	cases := map[string]string{
		"ABCDEFGH": "efgh",
		"xy":       "xy",
		"":         "",
	}
	for in, want := range cases {
		if got := Last4(in); got != want {
			t.Errorf("Last4(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRevokeAgentToken(t *testing.T) {
	a, _ := newTestAuth(t)
	token, _ := a.GenerateAgentToken()
	a.RegisterAgentToken("agent-r", token)
	a.RevokeAgentToken(token)
	if _, ok := a.AgentFor(token); ok {
		t.Fatal("token still resolvable after revoke")
	}
}
