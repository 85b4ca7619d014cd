// Catalog registration for every concrete tool named by spec.md §4.3's
// category list. Grounded on the teacher's internal/mcp/handlers.go
// RegisterDefaultTools idiom (one registerXTools(...) function per concern,
// each a closure over the services it calls back into), generalized from
// the teacher's fixed Captain/WezTerm tool set to this domain's
// agent/task/file/message/session-state/assistance surface.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/fleetforge/fleetd/internal/auth"
	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/supervisor"
	"github.com/fleetforge/fleetd/internal/tmux"
	"github.com/fleetforge/fleetd/internal/types"
)

// RegisterCatalog declares every known tool against reg. Called once at
// bootstrap, before the first UpdateConfiguration activates a category set.
func RegisterCatalog(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	registrars := []func(*Registry, *store.Store, *auth.Auth, *supervisor.Supervisor, *tmux.Controller) error{
		registerBasicTools,
		registerMemoryTools,
		registerRAGTools,
		registerAgentManagementTools,
		registerTaskManagementTools,
		registerFileManagementTools,
		registerAgentCommunicationTools,
		registerSessionStateTools,
		registerAssistanceRequestTools,
		registerBackgroundAgentTools,
	}
	for _, fn := range registrars {
		if err := fn(reg, st, a, sv, tm); err != nil {
			return err
		}
	}
	return nil
}

func jsonResult(v interface{}) types.ToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.ErrorResult("encode result: " + err.Error())
	}
	return types.TextResult(string(raw))
}

// registerBasicTools: always-enabled tools usable regardless of configured
// category set (§4.3 "basic is always enabled").
func registerBasicTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	return reg.RegisterCatalog(Definition{
		Name:        "whoami",
		Description: "Report the calling agent's identity as resolved from its bearer token.",
		Category:    types.CategoryBasic,
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			if ctx.AgentID == "" {
				return jsonResult(map[string]string{"agent_id": types.AdminAgentID}), nil
			}
			return jsonResult(map[string]string{"agent_id": ctx.AgentID}), nil
		},
	})
}

// registerMemoryTools: shared project memory persistence, grounded on the
// teacher's save_context/get_all_context tools.
func registerMemoryTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	if err := reg.RegisterCatalog(Definition{
		Name:        "save_context",
		Description: "Save a project context entry for persistence across sessions and agents.",
		Category:    types.CategoryMemory,
		Params: map[string]Param{
			"key":         {Type: "string", Description: "Context key", Required: true},
			"value":       {Type: "string", Description: "Context value", Required: true},
			"description": {Type: "string", Description: "Why this entry exists"},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			key := StringArg(args, "key")
			value := StringArg(args, "value")
			desc := StringArg(args, "description")
			updatedBy := ctx.AgentID
			if updatedBy == "" {
				updatedBy = types.AdminAgentID
			}
			if err := st.UpsertContext(key, value, updatedBy, desc); err != nil {
				return types.ToolResult{}, err
			}
			return types.TextResult(fmt.Sprintf("saved context %q", key)), nil
		},
	}); err != nil {
		return err
	}

	if err := reg.RegisterCatalog(Definition{
		Name:        "get_all_context",
		Description: "Retrieve every saved project context entry.",
		Category:    types.CategoryMemory,
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			entries, err := st.ListContext()
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(entries), nil
		},
	}); err != nil {
		return err
	}

	return reg.RegisterCatalog(Definition{
		Name:        "get_context",
		Description: "Retrieve one project context entry by key.",
		Category:    types.CategoryMemory,
		Params: map[string]Param{
			"key": {Type: "string", Description: "Context key", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			entry, err := st.GetContext(StringArg(args, "key"))
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(entry), nil
		},
	})
}

// registerRAGTools: retrieval over the same project-context store. No
// vector/embedding library appears anywhere in the retrieval pack (see
// DESIGN.md), so retrieval here is a substring match over context
// descriptions/values — a deliberately thin stand-in scoped to what the
// pack actually grounds, not a hand-rolled replacement for a missing
// ecosystem dependency.
func registerRAGTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	return reg.RegisterCatalog(Definition{
		Name:        "search_context",
		Description: "Search saved project context entries by substring match against key, description, and value.",
		Category:    types.CategoryRAG,
		Params: map[string]Param{
			"query": {Type: "string", Description: "Search text", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			query := StringArg(args, "query")
			entries, err := st.ListContext()
			if err != nil {
				return types.ToolResult{}, err
			}
			var matches []*types.ContextEntry
			for _, e := range entries {
				if containsFold(e.ContextKey, query) || containsFold(e.Description, query) || containsFold(fmt.Sprint(e.Value), query) {
					matches = append(matches, e)
				}
			}
			return jsonResult(matches), nil
		},
	})
}

// registerAgentManagementTools: agent lifecycle, grounded on §4.6.
func registerAgentManagementTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	if err := reg.RegisterCatalog(Definition{
		Name:        "create_agent",
		Description: "Create and launch a new fleet agent under its own tmux session. Admin only.",
		Category:    types.CategoryAgentManagement,
		Params: map[string]Param{
			"agent_id":       {Type: "string", Description: "Unique agent identifier", Required: true},
			"capabilities":   {Type: "array", Description: "Capability tags"},
			"project_dir":    {Type: "string", Description: "Working directory for the agent's tmux session", Required: true},
			"initial_prompt": {Type: "string", Description: "Prompt injected after startup"},
			"caller_token":   {Type: "string", Description: "Admin bearer token", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			if !ctx.IsAdmin {
				return types.ToolResult{}, types.WrapAuth("create_agent requires the admin token")
			}
			var caps []string
			_ = RawArg(args, "capabilities", &caps)
			agent, err := sv.CreateAgent(ctxBackground(), StringArg(args, "caller_token"), StringArg(args, "agent_id"),
				caps, StringArg(args, "project_dir"), StringArg(args, "initial_prompt"))
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(agent), nil
		},
	}); err != nil {
		return err
	}

	if err := reg.RegisterCatalog(Definition{
		Name:        "list_agents",
		Description: "List agents, optionally filtered by status (created, active, terminated).",
		Category:    types.CategoryAgentManagement,
		Params: map[string]Param{
			"status": {Type: "string", Description: "Optional status filter"},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			status := StringArg(args, "status")
			var agents []*types.Agent
			var err error
			if status == "" {
				agents, err = st.ListAgents()
			} else {
				agents, err = st.ListAgents(types.AgentStatus(status))
			}
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(agents), nil
		},
	}); err != nil {
		return err
	}

	return reg.RegisterCatalog(Definition{
		Name:        "get_agent",
		Description: "Fetch one agent's record by id.",
		Category:    types.CategoryAgentManagement,
		Params: map[string]Param{
			"agent_id": {Type: "string", Description: "Agent identifier", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			agent, err := st.GetAgent(StringArg(args, "agent_id"))
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(agent), nil
		},
	})
}

// registerTaskManagementTools: task lifecycle, grounded on §4.6
// assign_task/complete_task plus the Store's own task CRUD.
func registerTaskManagementTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	if err := reg.RegisterCatalog(Definition{
		Name:        "create_task",
		Description: "Create a new task.",
		Category:    types.CategoryTaskManagement,
		Params: map[string]Param{
			"task_id":     {Type: "string", Description: "Unique task identifier", Required: true},
			"title":       {Type: "string", Description: "Short title", Required: true},
			"description": {Type: "string", Description: "Full description"},
			"priority":    {Type: "string", Description: "low, medium, or high"},
			"parent_task": {Type: "string", Description: "Optional parent task id"},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			priority := types.TaskPriority(StringArg(args, "priority"))
			if priority == "" {
				priority = types.PriorityMedium
			}
			createdBy := ctx.AgentID
			if createdBy == "" {
				createdBy = types.AdminAgentID
			}
			now := nowFunc()
			task := &types.Task{
				TaskID:      StringArg(args, "task_id"),
				Title:       StringArg(args, "title"),
				Description: StringArg(args, "description"),
				CreatedBy:   createdBy,
				Status:      types.TaskPending,
				Priority:    priority,
				ParentTask:  StringArg(args, "parent_task"),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := st.CreateTask(task, nil); err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(task), nil
		},
	}); err != nil {
		return err
	}

	if err := reg.RegisterCatalog(Definition{
		Name:        "assign_task",
		Description: "Assign a task to an agent.",
		Category:    types.CategoryTaskManagement,
		Params: map[string]Param{
			"task_id":  {Type: "string", Description: "Task identifier", Required: true},
			"agent_id": {Type: "string", Description: "Assignee agent id", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			if err := sv.AssignTask(StringArg(args, "task_id"), StringArg(args, "agent_id")); err != nil {
				return types.ToolResult{}, err
			}
			return types.TextResult("assigned"), nil
		},
	}); err != nil {
		return err
	}

	if err := reg.RegisterCatalog(Definition{
		Name:        "complete_task",
		Description: "Mark a task completed and launch its testing-agent validation pipeline.",
		Category:    types.CategoryTaskManagement,
		Params: map[string]Param{
			"task_id": {Type: "string", Description: "Task identifier", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			byAgent := ctx.AgentID
			if byAgent == "" {
				byAgent = types.AdminAgentID
			}
			if err := sv.CompleteTask(ctxBackground(), StringArg(args, "task_id"), byAgent); err != nil {
				return types.ToolResult{}, err
			}
			return types.TextResult("completed"), nil
		},
	}); err != nil {
		return err
	}

	if err := reg.RegisterCatalog(Definition{
		Name:        "list_tasks",
		Description: "List tasks, optionally filtered by status.",
		Category:    types.CategoryTaskManagement,
		Params: map[string]Param{
			"status": {Type: "string", Description: "Optional status filter"},
			"limit":  {Type: "number", Description: "Max rows (default 100)"},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			limit := 100
			if l, ok := args["limit"].(float64); ok && l > 0 {
				limit = int(l)
			}
			var statuses []types.TaskStatus
			if s := StringArg(args, "status"); s != "" {
				statuses = []types.TaskStatus{types.TaskStatus(s)}
			}
			tasks, err := st.ListTasks(statuses, limit)
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(tasks), nil
		},
	}); err != nil {
		return err
	}

	return reg.RegisterCatalog(Definition{
		Name:        "get_task",
		Description: "Fetch one task's record by id.",
		Category:    types.CategoryTaskManagement,
		Params: map[string]Param{
			"task_id": {Type: "string", Description: "Task identifier", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			task, err := st.GetTask(StringArg(args, "task_id"))
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(task), nil
		},
	})
}

// registerFileManagementTools: the file-audit trail backing §4.6.1's "files
// modified" audit section.
func registerFileManagementTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	if err := reg.RegisterCatalog(Definition{
		Name:        "record_file_update",
		Description: "Record that the calling agent modified a file, for the audit trail.",
		Category:    types.CategoryFileManagement,
		Params: map[string]Param{
			"filepath":     {Type: "string", Description: "Absolute file path", Required: true},
			"content_hash": {Type: "string", Description: "Hash of the file's new content"},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			updatedBy := ctx.AgentID
			if updatedBy == "" {
				updatedBy = types.AdminAgentID
			}
			m := &types.FileMetadata{
				FilePath:    StringArg(args, "filepath"),
				UpdatedBy:   updatedBy,
				ContentHash: StringArg(args, "content_hash"),
				LastUpdated: nowFunc(),
			}
			if err := st.UpsertFileMetadata(m); err != nil {
				return types.ToolResult{}, err
			}
			return types.TextResult("recorded"), nil
		},
	}); err != nil {
		return err
	}

	return reg.RegisterCatalog(Definition{
		Name:        "list_recent_files",
		Description: "List files an agent has modified since a given time.",
		Category:    types.CategoryFileManagement,
		Params: map[string]Param{
			"agent_id":    {Type: "string", Description: "Agent whose edits to list", Required: true},
			"since_hours": {Type: "number", Description: "How many hours back to look (default 24)"},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			hours := 24.0
			if h, ok := args["since_hours"].(float64); ok && h > 0 {
				hours = h
			}
			since := nowFunc().Add(-durationHours(hours))
			files, err := st.FilesUpdatedSince(since, StringArg(args, "agent_id"))
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(files), nil
		},
	})
}

// registerAgentCommunicationTools: the agent message queue SPEC_FULL §3
// calls out as a supplemented feature the teacher only stubbed.
func registerAgentCommunicationTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	if err := reg.RegisterCatalog(Definition{
		Name:        "send_message",
		Description: "Send a message to another agent's inbox.",
		Category:    types.CategoryAgentCommunication,
		Params: map[string]Param{
			"recipient_id": {Type: "string", Description: "Recipient agent id", Required: true},
			"content":      {Type: "string", Description: "Message body", Required: true},
			"priority":     {Type: "string", Description: "low, normal, or high"},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			sender := ctx.AgentID
			if sender == "" {
				sender = types.AdminAgentID
			}
			priority := StringArg(args, "priority")
			if priority == "" {
				priority = "normal"
			}
			msg := &types.AgentMessage{
				MessageID:   "msg-" + newID(),
				SenderID:    sender,
				RecipientID: StringArg(args, "recipient_id"),
				Content:     StringArg(args, "content"),
				Type:        "agent_message",
				Priority:    priority,
				Timestamp:   nowFunc(),
			}
			if err := st.SendMessage(msg); err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(msg), nil
		},
	}); err != nil {
		return err
	}

	return reg.RegisterCatalog(Definition{
		Name:        "get_messages",
		Description: "Retrieve the calling agent's inbox, optionally unread only.",
		Category:    types.CategoryAgentCommunication,
		Params: map[string]Param{
			"unread_only": {Type: "boolean", Description: "Only return unread messages"},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			unreadOnly, _ := args["unread_only"].(bool)
			msgs, err := st.InboxForAgent(ctx.AgentID, unreadOnly)
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(msgs), nil
		},
	})
}

// registerSessionStateTools: the per-agent, per-session scratch state row
// (§4.5's companion table to the mcp_session_persistence row).
func registerSessionStateTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	if err := reg.RegisterCatalog(Definition{
		Name:        "save_session_state",
		Description: "Save a keyed piece of state scoped to the calling agent's current session.",
		Category:    types.CategorySessionState,
		Params: map[string]Param{
			"key":   {Type: "string", Description: "State key", Required: true},
			"value": {Type: "string", Description: "State value", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			state := &types.SessionState{
				AgentID:      ctx.AgentID,
				MCPSessionID: ctx.SessionID,
				StateKey:     StringArg(args, "key"),
				StateValue:   StringArg(args, "value"),
				LastUpdated:  nowFunc(),
			}
			if err := st.UpsertSessionState(state); err != nil {
				return types.ToolResult{}, err
			}
			return types.TextResult("saved"), nil
		},
	}); err != nil {
		return err
	}

	return reg.RegisterCatalog(Definition{
		Name:        "get_session_state",
		Description: "Retrieve a keyed piece of state scoped to the calling agent's current session.",
		Category:    types.CategorySessionState,
		Params: map[string]Param{
			"key": {Type: "string", Description: "State key", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			state, err := st.GetSessionState(ctx.AgentID, ctx.SessionID, StringArg(args, "key"))
			if err != nil {
				return types.ToolResult{}, err
			}
			return jsonResult(state), nil
		},
	})
}

// registerAssistanceRequestTools: lets an agent escalate to the operator,
// recorded as both an audit action and an operator-facing alert.
func registerAssistanceRequestTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	return reg.RegisterCatalog(Definition{
		Name:        "request_assistance",
		Description: "Escalate a request for human/operator assistance, raising an operator-facing alert.",
		Category:    types.CategoryAssistanceRequest,
		Params: map[string]Param{
			"reason": {Type: "string", Description: "Why assistance is needed", Required: true},
		},
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			agentID := ctx.AgentID
			if agentID == "" {
				agentID = types.AdminAgentID
			}
			if err := st.RecordAction(agentID, "request_assistance", "", map[string]any{"reason": StringArg(args, "reason")}); err != nil {
				return types.ToolResult{}, err
			}
			sv.RaiseAssistanceAlert(agentID, StringArg(args, "reason"))
			return types.TextResult("assistance requested"), nil
		},
	})
}

// registerBackgroundAgentTools: enumerates agents running the
// "background" capability, for a caller managing a long-running fleet.
func registerBackgroundAgentTools(reg *Registry, st *store.Store, a *auth.Auth, sv *supervisor.Supervisor, tm *tmux.Controller) error {
	return reg.RegisterCatalog(Definition{
		Name:        "list_background_agents",
		Description: "List active agents whose capabilities include 'background'.",
		Category:    types.CategoryBackgroundAgents,
		Handler: func(ctx Context, args map[string]interface{}) (types.ToolResult, error) {
			agents, err := st.ListAgents(types.AgentActive)
			if err != nil {
				return types.ToolResult{}, err
			}
			var out []*types.Agent
			for _, ag := range agents {
				for _, c := range ag.Capabilities {
					if c == "background" {
						out = append(out, ag)
						break
					}
				}
			}
			return jsonResult(out), nil
		},
	})
}
