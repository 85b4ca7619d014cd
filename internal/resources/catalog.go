// Package resources is the Resource Catalog (spec §4.4): read-only,
// addressable views computed on each request from Store or the Tmux
// Controller. Grounded on the teacher's internal/notifications/router.go
// dispatch-by-kind idiom, generalized from "route an event to every matching
// channel" to "resolve a URI's scheme to the provider that owns it".
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fleetforge/fleetd/internal/auth"
	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/tmux"
	"github.com/fleetforge/fleetd/internal/types"
)

// Resource is one listing entry (§4.4 "{uri, name, description, mime_type,
// annotations{...}}").
type Resource struct {
	URI         string            `json:"uri"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	MimeType    string            `json:"mime_type"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Catalog resolves resource URIs against the Store and Tmux Controller.
// Fetch's isAdminCaller argument, when true, permits full token values in fetched content
// (§4.4 "omitted except where the caller is known to be the admin interface").
type Catalog struct {
	store *store.Store
	auth  *auth.Auth
	tmux  *tmux.Controller
}

// New builds a Catalog.
func New(st *store.Store, a *auth.Auth, t *tmux.Controller) *Catalog {
	return &Catalog{store: st, auth: a, tmux: t}
}

// List enumerates every resource currently addressable, across every scheme.
func (c *Catalog) List(ctx context.Context) ([]Resource, error) {
	var out []Resource

	agents, err := c.store.ListAgents(types.AgentCreated, types.AgentActive)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		out = append(out, Resource{
			URI:         "agent://" + a.AgentID,
			Name:        a.AgentID,
			Description: fmt.Sprintf("agent %s (%s)", a.AgentID, a.Status),
			MimeType:    "application/json",
			Annotations: map[string]string{"color": a.Color, "type": "agent", "status": string(a.Status)},
		})
	}

	const maxTasks = 50
	tasks, err := c.store.ListTasks([]types.TaskStatus{types.TaskPending, types.TaskInProgress}, maxTasks)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		out = append(out, Resource{
			URI:         "task://" + t.TaskID,
			Name:        t.Title,
			Description: fmt.Sprintf("task %s (%s, priority %s)", t.TaskID, t.Status, t.Priority),
			MimeType:    "application/json",
			Annotations: map[string]string{"status": string(t.Status), "priority": string(t.Priority), "category": "task"},
		})
	}

	sessions, err := c.tmux.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		out = append(out, Resource{
			URI:         "tmux://" + s.Name,
			Name:        s.Name,
			Description: "tmux session " + s.Name,
			MimeType:    "text/plain",
			Annotations: map[string]string{"type": "tmux_session"},
		})
	}
	panes, err := c.tmux.ListPanes(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range panes {
		uri := fmt.Sprintf("tmux://%s:%d.%d", p.Session, p.Window, p.Pane)
		out = append(out, Resource{
			URI:         uri,
			Name:        uri,
			Description: "tmux pane " + p.Title,
			MimeType:    "text/plain",
			Annotations: map[string]string{"type": "tmux_pane"},
		})
	}

	out = append(out, Resource{
		URI: "token://admin", Name: "admin", Description: "administrator bearer token",
		MimeType: "text/plain", Annotations: map[string]string{"type": "token"},
	})
	for _, a := range agents {
		out = append(out, Resource{
			URI: "token://agent-" + a.AgentID, Name: "agent-" + a.AgentID,
			Description: "bearer token for agent " + a.AgentID,
			MimeType:    "text/plain", Annotations: map[string]string{"type": "token"},
		})
	}

	for _, kind := range []string{"normal", "background", "monitor", "task"} {
		out = append(out, Resource{
			URI: "create://" + kind, Name: "create-" + kind,
			Description: templateDescription(kind),
			MimeType:    "text/markdown",
			Annotations: map[string]string{"type": "template"},
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

// Fetch resolves uri to its structured content. isAdminCaller gates whether
// token:// resources reveal their full value.
func (c *Catalog) Fetch(ctx context.Context, uri string, isAdminCaller bool) (string, string, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return "", "", types.WrapValidation("malformed resource uri: " + uri)
	}

	switch scheme {
	case "agent":
		return c.fetchAgent(rest)
	case "task":
		return c.fetchTask(rest)
	case "tmux":
		return c.fetchTmux(ctx, rest)
	case "token":
		return c.fetchToken(rest, isAdminCaller)
	case "create":
		return templateBody(rest), "text/markdown", nil
	default:
		return "", "", types.WrapNotFound("resource_scheme", scheme)
	}
}

func (c *Catalog) fetchAgent(agentID string) (string, string, error) {
	a, err := c.store.GetAgent(agentID)
	if err != nil {
		return "", "", err
	}
	raw, err := json.MarshalIndent(redactAgent(a), "", "  ")
	if err != nil {
		return "", "", types.WrapInternal("marshal agent: " + err.Error())
	}
	return string(raw), "application/json", nil
}

func (c *Catalog) fetchTask(taskID string) (string, string, error) {
	t, err := c.store.GetTask(taskID)
	if err != nil {
		return "", "", err
	}
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", "", types.WrapInternal("marshal task: " + err.Error())
	}
	return string(raw), "application/json", nil
}

// fetchTmux captures a pane's scrollback. rest is either a bare session name
// or "session:window.pane" — both are valid tmux target strings as-is.
func (c *Catalog) fetchTmux(ctx context.Context, rest string) (string, string, error) {
	text, err := c.tmux.CapturePane(ctx, rest, 200)
	if err != nil {
		return "", "", err
	}
	return text, "text/plain", nil
}

func (c *Catalog) fetchToken(name string, isAdminCaller bool) (string, string, error) {
	if !isAdminCaller {
		return "[redacted: admin interface only]", "text/plain", nil
	}
	if name == "admin" {
		return c.auth.AdminToken(), "text/plain", nil
	}
	agentID := strings.TrimPrefix(name, "agent-")
	a, err := c.store.GetAgent(agentID)
	if err != nil {
		return "", "", err
	}
	return a.Token, "text/plain", nil
}

func redactAgent(a *types.Agent) map[string]interface{} {
	return map[string]interface{}{
		"agent_id":          a.AgentID,
		"capabilities":      a.Capabilities,
		"status":            a.Status,
		"current_task":      a.CurrentTask,
		"working_directory": a.WorkingDirectory,
		"color":             a.Color,
		"created_at":        a.CreatedAt,
		"updated_at":        a.UpdatedAt,
		"token_last4":       lastN(a.Token, 4),
	}
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func templateDescription(kind string) string {
	switch kind {
	case "normal":
		return "template for spawning a standard coding agent"
	case "background":
		return "template for spawning a background/autonomous agent"
	case "monitor":
		return "template for spawning a supervisor/monitor agent"
	case "task":
		return "template for drafting a new task"
	default:
		return "template"
	}
}

func templateBody(kind string) string {
	switch kind {
	case "normal":
		return "# Create Agent\n\nUse `create_agent` with `agent_id`, `capabilities`, and `project_dir`.\n"
	case "background":
		return "# Create Background Agent\n\nUse `create_agent` with capabilities including `background`; the agent is not expected to interact with a human.\n"
	case "monitor":
		return "# Create Monitor Agent\n\nUse `create_agent` with capabilities including `supervisor`; the agent receives read-only-all access.\n"
	case "task":
		return "# Create Task\n\nUse `create_task` with `title`, `description`, `priority`, and optional `parent_task`.\n"
	default:
		return "# Template\n"
	}
}
