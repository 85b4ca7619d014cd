package types

import (
	"errors"
	"testing"
	"time"
)

func TestAgentStatusConstants(t *testing.T) {
	statuses := []AgentStatus{AgentCreated, AgentActive, AgentTerminated}
	expected := []string{"created", "active", "terminated"}
	for i, s := range statuses {
		if string(s) != expected[i] {
			t.Errorf("status[%d] = %q, want %q", i, s, expected[i])
		}
	}
}

func TestTaskStatusConstants(t *testing.T) {
	statuses := []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskCancelled, TaskFailed}
	expected := []string{"pending", "in_progress", "completed", "cancelled", "failed"}
	for i, s := range statuses {
		if string(s) != expected[i] {
			t.Errorf("status[%d] = %q, want %q", i, s, expected[i])
		}
	}
}

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()
	if th.TestingFailuresMax <= 0 {
		t.Errorf("TestingFailuresMax must be positive, got %d", th.TestingFailuresMax)
	}
	if th.PipelineStallMax <= 0 {
		t.Errorf("PipelineStallMax must be positive, got %v", th.PipelineStallMax)
	}
}

func TestCategoriesForMode(t *testing.T) {
	cases := []struct {
		mode ToolConfigMode
		want int
	}{
		{ModeMinimal, 1},
		{ModeFull, len(AllCategories)},
	}
	for _, c := range cases {
		got := CategoriesForMode(c.mode)
		if len(got) != c.want {
			t.Errorf("CategoriesForMode(%v) returned %d categories, want %d", c.mode, len(got), c.want)
		}
	}
	// Every mode's category set must include basic.
	for _, mode := range []ToolConfigMode{ModeFull, ModeMemoryRAG, ModeMinimal, ModeDevelopment, ModeBackground} {
		found := false
		for _, c := range CategoriesForMode(mode) {
			if c == CategoryBasic {
				found = true
			}
		}
		if !found {
			t.Errorf("mode %v is missing CategoryBasic", mode)
		}
	}
}

func TestTextAndErrorResult(t *testing.T) {
	r := TextResult("ok")
	if r.IsError {
		t.Fatal("TextResult set IsError")
	}
	if len(r.Content) != 1 || r.Content[0].Text != "ok" {
		t.Fatalf("unexpected content: %+v", r.Content)
	}

	e := ErrorResult("bad")
	if !e.IsError {
		t.Fatal("ErrorResult did not set IsError")
	}
}

func TestErrorKindWrapping(t *testing.T) {
	wrapped := WrapStorage(errors.New("disk full"))
	if !errors.Is(wrapped, ErrStorage) {
		t.Fatal("WrapStorage result does not satisfy errors.Is(ErrStorage)")
	}
	wrapped2 := WrapConflict("agent_id", "agent-1")
	if !errors.Is(wrapped2, ErrConflict) {
		t.Fatal("WrapConflict result does not satisfy errors.Is(ErrConflict)")
	}
}

func TestAccessLevelForCapabilities(t *testing.T) {
	if AccessLevelForCapabilities([]string{"audit"}) != AccessReadOnlyCross {
		t.Error("audit capability should grant readonly-cross access")
	}
	if AccessLevelForCapabilities([]string{"coding"}) != AccessStrict {
		t.Error("plain coding capability should be strict access")
	}
}

func TestSessionRecordZeroValue(t *testing.T) {
	var rec SessionRecord
	if rec.Status != "" {
		t.Errorf("zero-value SessionRecord.Status should be empty, got %q", rec.Status)
	}
	rec.CreatedAt = time.Now()
	rec.Status = SessionActive
	if rec.Status != SessionActive {
		t.Fatal("status assignment failed")
	}
}
