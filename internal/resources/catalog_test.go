package resources

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetforge/fleetd/internal/auth"
	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/tmux"
	"github.com/fleetforge/fleetd/internal/types"
)

func newTestCatalog(t *testing.T) (*Catalog, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	a := auth.New(st)
	if _, err := a.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return New(st, a, tmux.New()), st
}

func TestListIncludesAgentsTasksAndTemplates(t *testing.T) {
	c, st := newTestCatalog(t)
	now := time.Now()
	if err := st.CreateAgent(&types.Agent{AgentID: "a1", Token: "tok1", Status: types.AgentActive, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := st.CreateTask(&types.Task{TaskID: "t1", Title: "do it", CreatedBy: "admin", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}, nil); err != nil {
		t.Fatalf("create task: %v", err)
	}

	list, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var sawAgent, sawTask, sawTemplate, sawToken bool
	for _, r := range list {
		switch r.URI {
		case "agent://a1":
			sawAgent = true
		case "task://t1":
			sawTask = true
		case "create://normal":
			sawTemplate = true
		case "token://admin":
			sawToken = true
		}
	}
	if !sawAgent || !sawTask || !sawTemplate || !sawToken {
		t.Fatalf("missing expected resources in list: %+v", list)
	}
}

func TestFetchTokenRedactedForNonAdmin(t *testing.T) {
	c, _ := newTestCatalog(t)
	content, mime, err := c.Fetch(context.Background(), "token://admin", false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if mime != "text/plain" {
		t.Fatalf("mime = %q", mime)
	}
	if content == c.auth.AdminToken() {
		t.Fatal("expected redaction for non-admin caller")
	}
}

func TestFetchTokenRevealedForAdmin(t *testing.T) {
	c, _ := newTestCatalog(t)
	content, _, err := c.Fetch(context.Background(), "token://admin", true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if content != c.auth.AdminToken() {
		t.Fatalf("expected full admin token, got %q", content)
	}
}

func TestFetchUnknownScheme(t *testing.T) {
	c, _ := newTestCatalog(t)
	_, _, err := c.Fetch(context.Background(), "bogus://x", true)
	if err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}
