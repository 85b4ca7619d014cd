package types

import "time"

// Timing constants named directly in spec.md §2/§4.5/§4.6.1/§5.
const (
	HeartbeatInterval   = 30 * time.Second
	SessionGracePeriod  = 10 * time.Minute
	MaxRecoveryAttempts = 3
	ExpiredSweepPeriod  = 5 * time.Minute

	SessionSuffixLength = 4 // last4(token) used in tmux session names

	// Testing-agent pipeline timings (§4.6.1).
	PauseBreakCount     = 4
	PauseBreakSpacing   = 1 * time.Second
	ValidationDelay     = 15 * time.Second
	AuditLookback       = 1 * time.Hour

	// Tmux subprocess call bounds (§4.7).
	TmuxOpTimeoutMin = 3 * time.Second
	TmuxOpTimeoutMax = 10 * time.Second
)

// TestingAgentIDSuffixLength is the number of trailing characters of a completed task id
// used to build its deterministic testing-agent id: test-<last6(task_id)>.
const TestingAgentIDSuffixLength = 6

// TestingAgentID derives the deterministic testing-agent id for a completed
// task, per §3's invariant.
func TestingAgentID(completedTaskID string) string {
	return "test-" + last(completedTaskID, TestingAgentIDSuffixLength)
}

// TestingTaskID derives the deterministic testing-task id for a completed task.
func TestingTaskID(completedTaskID string) string {
	return "test-" + completedTaskID
}

// TestingAccessContextKey derives the context key documenting a testing
// agent's granted permissions (§4.6.1).
func TestingAccessContextKey(testingAgentID string) string {
	return "testing_access_" + testingAgentID
}

func last(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
