package metrics

import (
	"testing"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

func TestNewThresholdChecker(t *testing.T) {
	checker := NewThresholdChecker(types.DefaultThresholds())
	if checker == nil {
		t.Fatal("NewThresholdChecker returned nil")
	}
	if checker.GetThresholds().TestingFailuresMax != 5 {
		t.Errorf("TestingFailuresMax = %d, want 5", checker.GetThresholds().TestingFailuresMax)
	}
}

func TestSetGetThresholds(t *testing.T) {
	checker := NewThresholdChecker(types.DefaultThresholds())

	checker.SetThresholds(types.AlertThresholds{TestingFailuresMax: 2})
	if got := checker.GetThresholds().TestingFailuresMax; got != 2 {
		t.Errorf("TestingFailuresMax = %d, want 2", got)
	}
}

func TestCheckTestingFailures(t *testing.T) {
	checker := NewThresholdChecker(types.AlertThresholds{TestingFailuresMax: 3})

	if a := checker.CheckTestingFailures(2); a != nil {
		t.Fatalf("expected no alert below threshold, got %+v", a)
	}
	a := checker.CheckTestingFailures(3)
	if a == nil {
		t.Fatal("expected an alert at threshold")
	}
	if a.Type != "testing_failures_escalation" || a.Severity != "critical" {
		t.Errorf("unexpected alert shape: %+v", a)
	}

	if a := checker.CheckTestingFailures(5); a != nil {
		t.Fatal("expected the repeat to be suppressed within the dedupe window")
	}
}

func TestCheckRecoveryDenied(t *testing.T) {
	checker := NewThresholdChecker(types.AlertThresholds{RecoveryDeniedMax: 10})

	if a := checker.CheckRecoveryDenied(9); a != nil {
		t.Fatalf("expected no alert below threshold, got %+v", a)
	}
	a := checker.CheckRecoveryDenied(10)
	if a == nil || a.Type != "recovery_denied_escalation" {
		t.Fatalf("unexpected alert: %+v", a)
	}
}

func TestCheckPipelineStall(t *testing.T) {
	checker := NewThresholdChecker(types.AlertThresholds{PipelineStallMax: time.Minute})

	if a := checker.CheckPipelineStall(time.Time{}); a != nil {
		t.Fatalf("expected no alert for zero lastActivity, got %+v", a)
	}
	if a := checker.CheckPipelineStall(time.Now()); a != nil {
		t.Fatalf("expected no alert when activity is recent, got %+v", a)
	}
	a := checker.CheckPipelineStall(time.Now().Add(-2 * time.Minute))
	if a == nil || a.Type != "pipeline_stall" {
		t.Fatalf("expected a stall alert, got %+v", a)
	}
}

func TestCheckTestingFailures_disabledThreshold(t *testing.T) {
	checker := NewThresholdChecker(types.AlertThresholds{})
	if a := checker.CheckTestingFailures(1000); a != nil {
		t.Fatalf("expected no alert when TestingFailuresMax is unset, got %+v", a)
	}
}
