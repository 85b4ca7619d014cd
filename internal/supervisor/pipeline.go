package supervisor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fleetforge/fleetd/internal/auth"
	"github.com/fleetforge/fleetd/internal/tmux"
	"github.com/fleetforge/fleetd/internal/types"
)

// runTestingPipeline implements §4.6.1 in full: best-effort pause of the
// completing agent, deterministic testing-agent tear-down-then-recreate,
// audit-embedding testing task, and a delayed validation callback.
func (sv *Supervisor) runTestingPipeline(ctx context.Context, completedTaskID, completingAgentID string) {
	sv.pauseAgent(completingAgentID)

	testingAgentID := TestingAgentID(completedTaskID)
	testingTaskID := TestingTaskID(completedTaskID)

	if err := sv.tearDownExistingTestingAgent(testingAgentID); err != nil {
		log.Printf("[SUPERVISOR] testing pipeline: tear down %s: %v", testingAgentID, err)
	}

	task, err := sv.store.GetTask(completedTaskID)
	if err != nil {
		log.Printf("[SUPERVISOR] testing pipeline: load completed task %s: %v", completedTaskID, err)
		return
	}

	audit, err := sv.buildAuditSummary(completedTaskID, completingAgentID)
	if err != nil {
		log.Printf("[SUPERVISOR] testing pipeline: build audit for %s: %v", completedTaskID, err)
		audit = "(audit unavailable: " + err.Error() + ")"
	}

	description := fmt.Sprintf(
		"Validate completed task %q (%s), originally completed by %s.\n\n%s",
		task.Title, completedTaskID, completingAgentID, audit,
	)

	if err := sv.upsertTestingTask(testingTaskID, description); err != nil {
		log.Printf("[SUPERVISOR] testing pipeline: upsert testing task %s: %v", testingTaskID, err)
		return
	}

	accessKey := types.TestingAccessContextKey(testingAgentID)
	if err := sv.store.UpsertContext(accessKey, map[string]any{
		"testing_agent_id": testingAgentID,
		"scope":            "read-only across all agents' tasks and context for audit purposes",
	}, testingAgentID, "grants validation/audit access for task "+completedTaskID); err != nil {
		log.Printf("[SUPERVISOR] testing pipeline: grant access context for %s: %v", testingAgentID, err)
	}

	prompt := fmt.Sprintf(
		"You are testing agent %s. Validate task %q (%s) completed by agent %s.\n\n%s\n\nReport pass/fail.",
		testingAgentID, task.Title, completedTaskID, completingAgentID, audit,
	)

	projectDir := sv.testingAgentWorkingDir(testingAgentID)
	if completing, err := sv.store.GetAgent(completingAgentID); err == nil {
		projectDir = completing.WorkingDirectory
	}
	testingAgent, err := sv.createTestingAgent(ctx, testingAgentID, types.TestingAgentCapabilities, projectDir, prompt, completedTaskID)
	if err != nil {
		log.Printf("[SUPERVISOR] testing pipeline: create testing agent %s: %v", testingAgentID, err)
		sv.notifier.TestingAgentFailed(completedTaskID, err)
		sv.raiseAlert("testing_pipeline_failure", completingAgentID, completedTaskID, err.Error(), "critical")
		return
	}
	if err := sv.AssignTask(testingTaskID, testingAgent.AgentID); err != nil {
		log.Printf("[SUPERVISOR] testing pipeline: assign testing task %s: %v", testingTaskID, err)
	}

	time.AfterFunc(types.ValidationDelay, func() {
		sv.runEnhancedValidation(testingAgentID, completingAgentID, completedTaskID)
	})
}

// pauseAgent sends four submit-key breaks with 1s spacing to the completing
// agent's tmux session. Failures here are non-fatal (§4.6.1).
func (sv *Supervisor) pauseAgent(agentID string) {
	if _, err := sv.store.GetAgent(agentID); err != nil {
		return
	}
	sessionName := tmux.Sanitize(agentID) + "-" + auth.Last4(sv.auth.AdminToken())
	for i := 0; i < types.PauseBreakCount; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := sv.tmux.SendKeys(ctx, sessionName, "", true)
		cancel()
		if err != nil {
			log.Printf("[SUPERVISOR] pause break %d/%d for %s failed (non-fatal): %v", i+1, types.PauseBreakCount, agentID, err)
			return
		}
		time.Sleep(types.PauseBreakSpacing)
	}
}

// tearDownExistingTestingAgent removes a prior testing agent for the same
// completed task, if present: deletes the agent row, kills its tmux session
// (ignoring a missing one), per §4.6.1 "task re-completion after fixes".
func (sv *Supervisor) tearDownExistingTestingAgent(testingAgentID string) error {
	existing, err := sv.store.GetAgent(testingAgentID)
	if err != nil {
		return nil // not found: nothing to tear down
	}
	sessionName := tmux.Sanitize(testingAgentID) + "-" + auth.Last4(sv.auth.AdminToken())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sv.tmux.KillSession(ctx, sessionName); err != nil {
		log.Printf("[SUPERVISOR] kill session %s for existing testing agent: %v", sessionName, err)
	}
	if err := sv.store.DeleteAgent(existing.AgentID); err != nil {
		return err
	}
	sv.auth.RevokeAgentToken(existing.Token)
	return nil
}

// upsertTestingTask creates the testing task, or replaces its description
// and resets its status to pending if it already exists (§4.6.1).
func (sv *Supervisor) upsertTestingTask(testingTaskID, description string) error {
	now := time.Now()
	if _, err := sv.store.GetTask(testingTaskID); err == nil {
		return sv.store.UpdateTaskDescriptionAndStatus(testingTaskID, description, types.TaskPending)
	}
	return sv.store.CreateTask(&types.Task{
		TaskID:      testingTaskID,
		Title:       "Validate: " + testingTaskID,
		Description: description,
		CreatedBy:   types.AdminAgentID,
		Status:      types.TaskPending,
		Priority:    types.PriorityHigh,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil)
}

// buildAuditSummary embeds subtasks, context entries, modified files, and
// recent actions (last hour) by the completing agent, per §4.6.1.
func (sv *Supervisor) buildAuditSummary(completedTaskID, completingAgentID string) (string, error) {
	var b strings.Builder

	task, err := sv.store.GetTask(completedTaskID)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "Original task: %s\n", task.Description)

	if all, err := sv.store.ListTasks(nil, 0); err == nil {
		var subtasks []string
		for _, t := range all {
			if t.ParentTask == completedTaskID {
				subtasks = append(subtasks, t.TaskID+" ("+t.Title+")")
			}
		}
		if len(subtasks) > 0 {
			fmt.Fprintf(&b, "\nSubtasks: %s\n", strings.Join(subtasks, ", "))
		}
	}

	if len(task.Notes) > 0 {
		b.WriteString("\nNotes:\n")
		for _, n := range task.Notes {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", n.Timestamp.Format(time.RFC3339), n.Author, n.Content)
		}
	}

	since := time.Now().Add(-types.AuditLookback)
	actions, err := sv.store.ActionsForAgentSince(completingAgentID, since)
	if err == nil && len(actions) > 0 {
		b.WriteString("\nRecent actions (last hour):\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "- [%s] %s (task=%s)\n", a.Timestamp.Format(time.RFC3339), a.ActionType, a.TaskID)
		}
	}

	files, err := sv.store.FilesUpdatedSince(since, completingAgentID)
	if err == nil && len(files) > 0 {
		b.WriteString("\nFiles modified:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f.FilePath)
		}
	}

	ctxEntries, err := sv.store.ListContext()
	if err == nil {
		var touched []string
		for _, e := range ctxEntries {
			if e.UpdatedBy == completingAgentID {
				touched = append(touched, e.ContextKey)
			}
		}
		if len(touched) > 0 {
			fmt.Fprintf(&b, "\nContext entries touched: %s\n", strings.Join(touched, ", "))
		}
	}

	return b.String(), nil
}

// runEnhancedValidation is the 15s-delayed callback (§4.6.1): it computes
// pass/fail, messages the original agent, and on failure raises a
// testing_pipeline_failure alert. It archives no context keys; that is
// ArchiveIncorrectContext's job.
func (sv *Supervisor) runEnhancedValidation(testingAgentID, completingAgentID, completedTaskID string) {
	task, err := sv.store.GetTask(completedTaskID)
	if err != nil {
		log.Printf("[SUPERVISOR] enhanced validation: load task %s: %v", completedTaskID, err)
		return
	}

	passed := task.Status == types.TaskCompleted
	priority := "normal"
	content := fmt.Sprintf("Validation of task %s (%s) passed.", completedTaskID, task.Title)
	if !passed {
		priority = "high"
		content = fmt.Sprintf("Validation of task %s (%s) FAILED: status regressed to %s.", completedTaskID, task.Title, task.Status)
		err := fmt.Errorf("validation regressed task status to %s", task.Status)
		sv.notifier.TestingAgentFailed(completedTaskID, err)
		sv.raiseAlert("testing_pipeline_failure", completingAgentID, completedTaskID, err.Error(), "warning")
	}
	sv.bus.PublishTaskUpdate(completedTaskID, "validated_"+priority)

	msg := &types.AgentMessage{
		MessageID:   newMessageID(),
		SenderID:    testingAgentID,
		RecipientID: completingAgentID,
		Content:     content,
		Type:        "validation_result",
		Priority:    priority,
		Timestamp:   time.Now(),
	}
	if err := sv.store.SendMessage(msg); err != nil {
		log.Printf("[SUPERVISOR] enhanced validation: send result message: %v", err)
	}
	if err := sv.store.RecordAction(testingAgentID, "validation_result", completedTaskID, map[string]any{"passed": passed}); err != nil {
		log.Printf("[SUPERVISOR] enhanced validation: record action: %v", err)
	}
}

// ArchiveIncorrectContext lets the testing agent report context keys the
// completing agent got wrong; each is archived in its own transaction
// (§4.6.1 "archives caller-supplied incorrect context keys").
func (sv *Supervisor) ArchiveIncorrectContext(testingAgentID string, keys []string, reason string) []error {
	var errs []error
	for _, key := range keys {
		if err := sv.store.ArchiveContext(key, reason, testingAgentID); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", key, err))
		}
	}
	return errs
}
