package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newAgent(id string) *types.Agent {
	now := time.Now()
	return &types.Agent{
		AgentID:          id,
		Token:            id + "-token",
		Capabilities:     []string{"coding"},
		Status:           types.AgentCreated,
		WorkingDirectory: "/tmp/" + id,
		Color:            "blue",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestCreateAgentConflict(t *testing.T) {
	s := setupTestStore(t)
	a := newAgent("agent-alpha")
	if err := s.CreateAgent(a); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if err := s.CreateAgent(a); !errors.Is(err, types.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate create, got %v", err)
	}
}

func TestAgentTokenBijection(t *testing.T) {
	s := setupTestStore(t)
	a := newAgent("agent-bravo")
	if err := s.CreateAgent(a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	byID, err := s.GetAgent(a.AgentID)
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	byToken, err := s.GetAgentByToken(a.Token)
	if err != nil {
		t.Fatalf("GetAgentByToken failed: %v", err)
	}
	if byID.AgentID != byToken.AgentID || byID.Token != byToken.Token {
		t.Fatalf("bijection broken: %+v vs %+v", byID, byToken)
	}
}

func TestAssignTaskToAgentAtomic(t *testing.T) {
	s := setupTestStore(t)
	a := newAgent("agent-charlie")
	if err := s.CreateAgent(a); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	now := time.Now()
	task := &types.Task{
		TaskID: "t1", Title: "hello", CreatedBy: "admin",
		Status: types.TaskPending, Priority: types.PriorityHigh,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateTask(task, nil); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := s.AssignTaskToAgent("t1", a.AgentID, now); err != nil {
		t.Fatalf("assign task: %v", err)
	}

	got, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.AssignedTo != a.AgentID {
		t.Errorf("task not assigned, got %q", got.AssignedTo)
	}
	agent, err := s.GetAgent(a.AgentID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.CurrentTask != "t1" {
		t.Errorf("agent.current_task = %q, want t1", agent.CurrentTask)
	}
}

func TestAppendTaskNoteOrdering(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now()
	task := &types.Task{TaskID: "t2", Title: "x", CreatedBy: "admin", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(task, nil); err != nil {
		t.Fatalf("create task: %v", err)
	}
	for i, content := range []string{"first", "second", "third"} {
		note := types.TaskNote{Timestamp: now.Add(time.Duration(i) * time.Millisecond), Author: "agent-x", Content: content}
		if err := s.AppendTaskNote("t2", note); err != nil {
			t.Fatalf("append note %d: %v", i, err)
		}
	}
	got, err := s.GetTask("t2")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(got.Notes) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(got.Notes))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got.Notes[i].Content != want {
			t.Errorf("note[%d] = %q, want %q", i, got.Notes[i].Content, want)
		}
	}
}

func TestListTasksForAgentAdminCanonicalization(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now()
	task1 := &types.Task{TaskID: "t3", Title: "a", CreatedBy: "admin", AssignedTo: "Admin", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}
	task2 := &types.Task{TaskID: "t4", Title: "b", CreatedBy: "admin", AssignedTo: "admin", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(task1, nil); err != nil {
		t.Fatalf("create task1: %v", err)
	}
	if err := s.CreateTask(task2, nil); err != nil {
		t.Fatalf("create task2: %v", err)
	}
	got, err := s.ListTasksForAgent("admin")
	if err != nil {
		t.Fatalf("list tasks for admin: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tasks assigned across Admin/admin, got %d", len(got))
	}
}

func TestTaskParentAcyclicity(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now()
	root := &types.Task{TaskID: "root", Title: "root", CreatedBy: "admin", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(root, nil); err != nil {
		t.Fatalf("create root: %v", err)
	}
	child := &types.Task{TaskID: "child", Title: "child", CreatedBy: "admin", ParentTask: "root", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(child, nil); err != nil {
		t.Fatalf("create child: %v", err)
	}

	// Re-inserting "root" with parent_task="child" would create a cycle.
	cyclic := &types.Task{TaskID: "root", Title: "root", CreatedBy: "admin", ParentTask: "child", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}
	err := s.CreateTask(cyclic, nil)
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("expected ErrValidation for cyclic parent_task, got %v", err)
	}
}

func TestDeleteTaskCascadesToChildren(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now()
	parent := &types.Task{TaskID: "p1", Title: "parent", CreatedBy: "admin", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(parent, nil); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child := &types.Task{TaskID: "c1", Title: "child", CreatedBy: "admin", ParentTask: "p1", Status: types.TaskPending, Priority: types.PriorityLow, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(child, nil); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if err := s.DeleteTask("p1"); err != nil {
		t.Fatalf("delete parent: %v", err)
	}
	if _, err := s.GetTask("c1"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected child to cascade-delete, got %v", err)
	}
}

func TestContextArchiveRoundtrip(t *testing.T) {
	s := setupTestStore(t)
	if err := s.UpsertContext("db_schema", map[string]any{"tables": 3}, "agent-x", "schema notes"); err != nil {
		t.Fatalf("upsert context: %v", err)
	}
	if err := s.ArchiveContext("db_schema", "found incorrect during testing", "test-abc123"); err != nil {
		t.Fatalf("archive context: %v", err)
	}
	if _, err := s.GetContext("db_schema"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected original context gone, got %v", err)
	}
	entries, err := s.ListContext()
	if err != nil {
		t.Fatalf("list context: %v", err)
	}
	found := false
	for _, e := range entries {
		if len(e.ContextKey) > len("archived_db_schema_") && e.ContextKey[:len("archived_db_schema_")] == "archived_db_schema_" {
			found = true
			if e.UpdatedBy != "test-abc123" {
				t.Errorf("archived_by = %q, want test-abc123", e.UpdatedBy)
			}
		}
	}
	if !found {
		t.Fatal("no archived_db_schema_<ts> entry found")
	}
}

func TestSessionRecoveryWindow(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now()
	rec := &types.SessionRecord{
		MCPSessionID: "sess-1", CreatedAt: now, LastHeartbeat: now, Status: types.SessionActive,
	}
	if err := s.InitSession(rec); err != nil {
		t.Fatalf("init session: %v", err)
	}
	if err := s.MarkDisconnected("sess-1", now, types.SessionGracePeriod); err != nil {
		t.Fatalf("mark disconnected: %v", err)
	}

	ok, err := s.CanRecover("sess-1", now.Add(5*time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected recoverable inside grace, ok=%v err=%v", ok, err)
	}
	ok, err = s.CanRecover("sess-1", now.Add(11*time.Minute))
	if err != nil || ok {
		t.Fatalf("expected not recoverable past grace, ok=%v err=%v", ok, err)
	}
}

func TestRecoveryMonotonicityAndCap(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now()
	rec := &types.SessionRecord{MCPSessionID: "sess-2", CreatedAt: now, LastHeartbeat: now, Status: types.SessionActive}
	if err := s.InitSession(rec); err != nil {
		t.Fatalf("init session: %v", err)
	}
	if err := s.MarkDisconnected("sess-2", now, types.SessionGracePeriod); err != nil {
		t.Fatalf("mark disconnected: %v", err)
	}

	for i := 1; i <= types.MaxRecoveryAttempts; i++ {
		r, err := s.TryRecover("sess-2", now.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("recovery %d failed: %v", i, err)
		}
		if r.RecoveryAttempts != i {
			t.Errorf("recovery %d: attempts = %d, want %d", i, r.RecoveryAttempts, i)
		}
		// Re-disconnect so the next attempt has something to recover from.
		if err := s.MarkDisconnected("sess-2", now, types.SessionGracePeriod); err != nil {
			t.Fatalf("re-disconnect %d: %v", i, err)
		}
	}

	_, err := s.TryRecover("sess-2", now.Add(10*time.Second))
	if !errors.Is(err, types.ErrRecoveryDenied) {
		t.Fatalf("expected 4th recovery to be denied, got %v", err)
	}
}
