package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/types"
)

type fakeTransport struct {
	closed bool
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	factory := func(sessionID string) (Transport, error) {
		return &fakeTransport{}, nil
	}
	return New(st, factory), st
}

func TestInitCreatesSessionRow(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Init(ctx, "sess-1", &fakeTransport{}, "/tmp/work", nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	rec, err := st.GetSession("sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.Status != types.SessionActive {
		t.Fatalf("expected active status, got %s", rec.Status)
	}
	if mgr.Count() != 1 {
		t.Fatalf("expected 1 tracked session, got %d", mgr.Count())
	}
}

func TestDisconnectOpensGraceWindow(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	transport := &fakeTransport{}

	if err := mgr.Init(ctx, "sess-2", transport, "", nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := mgr.Disconnect("sess-2"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	rec, err := st.GetSession("sess-2")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.Status != types.SessionDisconnected {
		t.Fatalf("expected disconnected status, got %s", rec.Status)
	}
	if rec.GracePeriodExpires == nil {
		t.Fatal("expected grace_period_expires to be set")
	}

	// Transport should still be reachable during the grace window.
	if _, ok := mgr.Get("sess-2"); !ok {
		t.Fatal("expected in-memory transport to survive disconnect")
	}
}

func TestRecoverDeniedAfterThreeAttempts(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Init(ctx, "sess-3", &fakeTransport{}, "", nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := mgr.Disconnect("sess-3"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	for i := 0; i < types.MaxRecoveryAttempts; i++ {
		if _, err := mgr.Recover(ctx, "sess-3"); err != nil {
			t.Fatalf("recover attempt %d: %v", i, err)
		}
		if err := mgr.Disconnect("sess-3"); err != nil {
			t.Fatalf("re-disconnect attempt %d: %v", i, err)
		}
	}

	_, err := mgr.Recover(ctx, "sess-3")
	if !errors.Is(err, types.ErrRecoveryDenied) {
		t.Fatalf("expected ErrRecoveryDenied after %d attempts, got %v", types.MaxRecoveryAttempts, err)
	}

	rec, err := st.GetSession("sess-3")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.RecoveryAttempts != types.MaxRecoveryAttempts {
		t.Fatalf("expected recovery_attempts=%d, got %d", types.MaxRecoveryAttempts, rec.RecoveryAttempts)
	}
}

func TestRecoverDeniedOutsideGraceWindow(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Init(ctx, "sess-4", &fakeTransport{}, "", nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	now := time.Now()
	if err := st.MarkDisconnected("sess-4", now.Add(-time.Hour), time.Minute); err != nil {
		t.Fatalf("mark disconnected: %v", err)
	}

	_, err := mgr.Recover(ctx, "sess-4")
	if !errors.Is(err, types.ErrRecoveryDenied) {
		t.Fatalf("expected ErrRecoveryDenied outside grace window, got %v", err)
	}
}

func TestShutdownDisconnectsAllSessions(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Init(ctx, "sess-5", &fakeTransport{}, "", nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := mgr.Init(ctx, "sess-6", &fakeTransport{}, "", nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	mgr.Shutdown()

	for _, id := range []string{"sess-5", "sess-6"} {
		rec, err := st.GetSession(id)
		if err != nil {
			t.Fatalf("get session %s: %v", id, err)
		}
		if rec.Status != types.SessionDisconnected {
			t.Fatalf("expected %s disconnected after shutdown, got %s", id, rec.Status)
		}
	}
}
