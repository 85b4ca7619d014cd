// Package supervisor is the Agent Supervisor (spec §4.6): the agent
// create/assign/complete state machine and the testing-agent auto-launch
// pipeline (§4.6.1). Grounded on the teacher's internal/captain/captain.go
// (an orchestrator struct tracking active agents under a mutex, spawning
// work through a Spawner-shaped dependency) and internal/supervisor's own
// former dispatcher.go (SpawnAgent/ExecutePlan naming, dispatch-result
// bookkeeping) — generalized from the teacher's recon-report/decision-engine
// driven planning (no spec analog; dropped, see DESIGN.md) down to the
// spec's direct create_agent/assign_task/complete_task contract.
package supervisor

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetd/internal/agents"
	"github.com/fleetforge/fleetd/internal/auth"
	"github.com/fleetforge/fleetd/internal/fleetbus"
	"github.com/fleetforge/fleetd/internal/metrics"
	"github.com/fleetforge/fleetd/internal/notify"
	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/tmux"
	"github.com/fleetforge/fleetd/internal/types"
)

// Supervisor drives the agent lifecycle and task routing described in §4.6.
type Supervisor struct {
	store *store.Store
	auth  *auth.Auth
	tmux  *tmux.Controller

	serverURL string

	bus      *fleetbus.Bus
	notifier *notify.Notifier
	checker  *metrics.ThresholdChecker

	projects          []types.ProjectConfig
	defaultWorkingDir string
}

// New builds a Supervisor. serverURL is injected into a spawned agent's
// environment so it knows where to call back (§4.6 step 4).
func New(st *store.Store, a *auth.Auth, t *tmux.Controller, serverURL string) *Supervisor {
	return &Supervisor{
		store:     st,
		auth:      a,
		tmux:      t,
		serverURL: serverURL,
		checker:   metrics.NewThresholdChecker(types.DefaultThresholds()),
	}
}

// SetBus attaches the optional event fan-out. A nil bus (the default) makes
// every publish call below a no-op.
func (sv *Supervisor) SetBus(b *fleetbus.Bus) {
	sv.bus = b
}

// SetNotifier attaches the optional alert notifier. A nil notifier (the
// default) makes every alert call below a no-op.
func (sv *Supervisor) SetNotifier(n *notify.Notifier) {
	sv.notifier = n
}

// SetProjects attaches the known project roster (projects.yaml), used by
// ResolveProjectDir to turn a project name into a validated directory. A nil
// roster (the default) makes ResolveProjectDir pass its input through
// unchanged — callers are then trusted to supply an absolute path directly.
func (sv *Supervisor) SetProjects(projects []types.ProjectConfig) {
	sv.projects = projects
}

// SetDefaultWorkingDir overrides the base directory auto-created agents (the
// testing pipeline's audit agent, §4.6.1) fall back to when the completing
// agent's own working directory can't be determined. Sourced from the
// working-directory override environment variable (§6); an empty value
// keeps the built-in "/tmp/fleet-agents" default.
func (sv *Supervisor) SetDefaultWorkingDir(dir string) {
	sv.defaultWorkingDir = dir
}

func (sv *Supervisor) testingAgentWorkingDir(testingAgentID string) string {
	base := sv.defaultWorkingDir
	if base == "" {
		base = "/tmp/fleet-agents"
	}
	return strings.TrimRight(base, "/") + "/" + testingAgentID
}

// ResolveProjectDir turns create_agent's project_dir argument into a
// validated absolute path. If a project roster is attached and nameOrPath
// matches a known project by name, its configured path is used; otherwise
// nameOrPath is validated directly as a path (must be absolute, exist, and
// contain a .git or CLAUDE.md marker). With no roster attached, nameOrPath
// is returned unchanged.
func (sv *Supervisor) ResolveProjectDir(nameOrPath string) (string, error) {
	if len(sv.projects) == 0 {
		return nameOrPath, nil
	}
	if p := agents.GetProjectByName(sv.projects, nameOrPath); p != nil {
		return p.Path, nil
	}
	if err := agents.ValidateProjectPath(nameOrPath, ""); err != nil {
		return "", types.WrapValidation(err.Error())
	}
	return nameOrPath, nil
}

// CreateAgent implements §4.6 create_agent. callerToken must be the admin
// bearer token; initialPrompt, if non-empty, is injected after a startup
// delay as two separate operations (keystrokes, then a submit keypress).
func (sv *Supervisor) CreateAgent(ctx context.Context, callerToken, agentID string, capabilities []string, projectDir, initialPrompt string) (*types.Agent, error) {
	return sv.createAgent(ctx, callerToken, agentID, capabilities, projectDir, initialPrompt, "")
}

// createTestingAgent launches the auto-created testing agent for
// completedTaskID (§4.6.1), recording the action as create_testing_agent
// rather than create_agent so the audit trail distinguishes the two.
func (sv *Supervisor) createTestingAgent(ctx context.Context, testingAgentID string, capabilities []string, projectDir, initialPrompt, completedTaskID string) (*types.Agent, error) {
	return sv.createAgent(ctx, sv.auth.AdminToken(), testingAgentID, capabilities, projectDir, initialPrompt, completedTaskID)
}

// createAgent is the shared implementation behind CreateAgent and
// createTestingAgent. forTaskID is empty for an operator-requested agent and
// set to the completed task id when spawning the testing pipeline's audit
// agent, which both picks the action_type recorded below and becomes that
// action's task_id.
func (sv *Supervisor) createAgent(ctx context.Context, callerToken, agentID string, capabilities []string, projectDir, initialPrompt, forTaskID string) (*types.Agent, error) {
	if !sv.auth.IsAdmin(callerToken) {
		return nil, types.WrapAuth("create_agent requires the admin token")
	}

	resolvedDir, err := sv.ResolveProjectDir(projectDir)
	if err != nil {
		return nil, err
	}
	projectDir = resolvedDir

	token, err := sv.auth.GenerateAgentToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	agent := &types.Agent{
		AgentID:          agentID,
		Token:            token,
		Capabilities:     capabilities,
		Status:           types.AgentCreated,
		WorkingDirectory: projectDir,
		Color:            colorFor(agentID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := sv.store.CreateAgent(agent); err != nil {
		return nil, err
	}
	sv.auth.RegisterAgentToken(agentID, token)

	sessionName := tmux.Sanitize(agentID) + "-" + auth.Last4(sv.auth.AdminToken())
	env := map[string]string{
		"FLEET_AGENT_ID":    agentID,
		"FLEET_AGENT_TOKEN": token,
		"FLEET_SERVER_URL":  sv.serverURL,
		"FLEET_WORKING_DIR": projectDir,
	}
	if err := sv.tmux.CreateSession(ctx, sessionName, projectDir, "", env); err != nil {
		if delErr := sv.store.DeleteAgent(agentID); delErr != nil {
			log.Printf("[SUPERVISOR] rollback delete_agent(%s) after tmux failure: %v", agentID, delErr)
		}
		sv.auth.RevokeAgentToken(token)
		sv.notifier.TmuxUnavailable()
		sv.raiseAlert("tmux_unavailable", agentID, "", err.Error(), "critical")
		return nil, types.WrapSubprocess("create_agent tmux session", err)
	}

	go sv.paintBanner(sessionName, agentID, agent.Color)

	if initialPrompt != "" {
		go sv.injectInitialPrompt(sessionName, initialPrompt)
	}

	actionType := "create_agent"
	if forTaskID != "" {
		actionType = "create_testing_agent"
	}
	if err := sv.store.RecordAction(agentID, actionType, forTaskID, map[string]any{
		"capabilities": capabilities, "project_dir": projectDir, "session": sessionName,
	}); err != nil {
		log.Printf("[SUPERVISOR] record_action(%s) failed for %s: %v", actionType, agentID, err)
	}

	sv.bus.PublishAgentUpdate(agentID, string(agent.Status))
	return agent, nil
}

// injectInitialPrompt waits for the agent runtime to finish its own startup,
// then sends the prompt as keystrokes followed by a separate submit (§4.6
// step 5).
func (sv *Supervisor) injectInitialPrompt(sessionName, prompt string) {
	const startupDelay = 3 * time.Second
	time.Sleep(startupDelay)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sv.tmux.SendKeys(ctx, sessionName, prompt, false); err != nil {
		log.Printf("[SUPERVISOR] inject prompt keystrokes failed for session %s: %v", sessionName, err)
		return
	}
	if err := sv.tmux.SendKeys(ctx, sessionName, "", true); err != nil {
		log.Printf("[SUPERVISOR] inject prompt submit failed for session %s: %v", sessionName, err)
	}
}

// paintBanner tints the agent's pane background by color (§4.6 "a created
// agent's pane is visually tagged by color"): a single-line ANSI escape,
// sent as one non-submitting keystroke so it never risks being read back as
// a shell command. Shortly after the session exists, before any initial
// prompt is injected.
func (sv *Supervisor) paintBanner(sessionName, agentID, color string) {
	time.Sleep(500 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tint := agents.GenerateBackgroundTint(color)
	if err := sv.tmux.SendKeys(ctx, sessionName, tint, false); err != nil {
		log.Printf("[SUPERVISOR] paint banner failed for session %s: %v", sessionName, err)
	}
}

// AssignTask implements §4.6 assign_task: transactionally updates the task's
// assignment and status, updates the agent's current_task, and records an
// action.
func (sv *Supervisor) AssignTask(taskID, agentID string) error {
	now := time.Now()
	if err := sv.store.AssignTaskToAgent(taskID, agentID, now); err != nil {
		return err
	}
	if err := sv.store.RecordAction(agentID, "assign_task", taskID, nil); err != nil {
		return err
	}
	sv.bus.PublishTaskUpdate(taskID, string(types.TaskPending))
	return nil
}

// CompleteTask implements §4.6 complete_task: marks the task completed and
// launches the testing-agent pipeline (§4.6.1) asynchronously; its outcome
// does not block the caller.
func (sv *Supervisor) CompleteTask(ctx context.Context, taskID, byAgentID string) error {
	if err := sv.store.SetTaskStatus(taskID, types.TaskCompleted); err != nil {
		return err
	}
	if err := sv.store.RecordAction(byAgentID, "complete_task", taskID, nil); err != nil {
		log.Printf("[SUPERVISOR] record_action(complete_task) failed for task %s: %v", taskID, err)
	}
	sv.bus.PublishTaskUpdate(taskID, string(types.TaskCompleted))

	go sv.runTestingPipeline(context.Background(), taskID, byAgentID)
	return nil
}

// colorPalette matches the vocabulary internal/agents/colors.go recognizes
// by substring (green/purple/red/blue), assigned deterministically by id
// here rather than by a caller-chosen config name.
var colorPalette = []string{"blue", "green", "purple", "red"}

func colorFor(agentID string) string {
	h := uint32(2166136261)
	for _, b := range []byte(agentID) {
		h ^= uint32(b)
		h *= 16777619
	}
	return colorPalette[h%uint32(len(colorPalette))]
}

// TestingAgentID derives the deterministic testing-agent id for a completed
// task (§4.6.1).
func TestingAgentID(completedTaskID string) string {
	return types.TestingAgentID(completedTaskID)
}

// TestingTaskID derives the deterministic testing-task id for a completed
// task (§4.6.1).
func TestingTaskID(completedTaskID string) string {
	return types.TestingTaskID(completedTaskID)
}

func newMessageID() string {
	return "msg-" + uuid.NewString()
}

// RaiseAssistanceAlert records an agent's escalation to the operator
// (request_assistance tool) as an operational alert.
func (sv *Supervisor) RaiseAssistanceAlert(agentID, reason string) {
	sv.raiseAlert("assistance_requested", agentID, "", reason, "warning")
}

// raiseAlert persists an operational alert (SPEC_FULL §3 supplemented
// feature) and publishes it on the event bus; it sends no desktop/banner
// notification itself. Storage
// failures are logged, never propagated — alerting must not block the
// caller's own transaction.
func (sv *Supervisor) raiseAlert(alertType, agentID, taskID, message, severity string) {
	alert := &types.Alert{
		ID:        "alert-" + uuid.NewString(),
		Type:      alertType,
		AgentID:   agentID,
		TaskID:    taskID,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}
	if err := sv.store.AddAlert(alert); err != nil {
		log.Printf("[SUPERVISOR] add_alert(%s) failed: %v", alertType, err)
	}
	sv.bus.PublishAlert(alertType, message)
}

// SetAlertThresholds reconfigures the escalation thresholds checked by
// StartThresholdMonitor.
func (sv *Supervisor) SetAlertThresholds(t types.AlertThresholds) {
	sv.checker.SetThresholds(t)
}

const thresholdCheckInterval = 30 * time.Second

// StartThresholdMonitor runs the periodic escalation pass: it counts recent
// testing-pipeline failures and recovery denials, checks for a stalled
// pipeline, and raises (and persists) an escalation alert for whichever rate
// has crossed its threshold. Mirrors session.Manager's expired-session
// sweeper: a ticker goroutine bound to ctx.
func (sv *Supervisor) StartThresholdMonitor(ctx context.Context) {
	ticker := time.NewTicker(thresholdCheckInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sv.checkThresholds()
			}
		}
	}()
}

func (sv *Supervisor) checkThresholds() {
	since := time.Now().Add(-5 * time.Minute)

	if n, err := sv.store.CountAlertsByType("testing_pipeline_failure", since); err != nil {
		log.Printf("[SUPERVISOR] threshold check: count testing failures: %v", err)
	} else if alert := sv.checker.CheckTestingFailures(n); alert != nil {
		sv.persistEscalation(alert)
	}

	if n, err := sv.store.CountAlertsByType("recovery_denied", since); err != nil {
		log.Printf("[SUPERVISOR] threshold check: count recovery denials: %v", err)
	} else if alert := sv.checker.CheckRecoveryDenied(n); alert != nil {
		sv.persistEscalation(alert)
	}

	if last, err := sv.store.LastTaskActivity(); err != nil {
		log.Printf("[SUPERVISOR] threshold check: last task activity: %v", err)
	} else if alert := sv.checker.CheckPipelineStall(last); alert != nil {
		sv.persistEscalation(alert)
	}
}

func (sv *Supervisor) persistEscalation(alert *types.Alert) {
	if err := sv.store.AddAlert(alert); err != nil {
		log.Printf("[SUPERVISOR] add_alert(%s) failed: %v", alert.Type, err)
	}
	sv.notifier.Alert(notify.KindError, "Escalation", alert.Message)
	sv.bus.PublishAlert(alert.Type, alert.Message)
}
