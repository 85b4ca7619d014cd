// Package tmux is a thin supervisor over a local tmux(1) installation
// (spec §4.7), adapted from the teacher's internal/wezterm/ops.go: same
// mutex-guarded singleton-of-one-host shape and bounded-timeout subprocess
// calls, but driving `tmux` instead of `wezterm.exe`, and replacing the
// teacher's hand-rolled waitForInterval sleep loop with
// golang.org/x/time/rate.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fleetforge/fleetd/internal/types"
)

// SessionInfo is one row of `tmux list-sessions`.
type SessionInfo struct {
	Name     string
	Created  time.Time
	Attached bool
}

// PaneInfo is one row of `tmux list-panes -a`.
type PaneInfo struct {
	Session string
	Window  int
	Pane    int
	Title   string
	CWD     string
	Active  bool
}

// Controller drives a local tmux installation. Every operation is
// synchronous with a bounded timeout (§4.7 "typically 3-10s").
type Controller struct {
	limiter        *rate.Limiter
	commandTimeout time.Duration

	mu          sync.Mutex
	availCached *bool
}

// New builds a Controller. Its limiter bounds pane/session operations to one
// every 200ms (replaces the teacher's 200ms waitForInterval sleep).
func New() *Controller {
	return &Controller{
		limiter:        rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		commandTimeout: 10 * time.Second,
	}
}

var sanitizePattern = regexp.MustCompile(`[.:\[\]\s$'"` + "`" + `\\]+`)
var leadingNonAlnum = regexp.MustCompile(`^[^a-zA-Z0-9]+`)
var runsOfUnderscore = regexp.MustCompile(`_+`)

// Sanitize replaces characters unsafe for a tmux session name with "_",
// collapses runs, and ensures the result starts alphanumeric (§4.7).
func Sanitize(name string) string {
	s := sanitizePattern.ReplaceAllString(name, "_")
	s = runsOfUnderscore.ReplaceAllString(s, "_")
	s = leadingNonAlnum.ReplaceAllString(s, "")
	s = strings.Trim(s, "_")
	if s == "" {
		return "agent_session"
	}
	return s
}

// Available reports whether the host has tmux installed and runnable.
func (c *Controller) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.availCached != nil {
		return *c.availCached
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := exec.CommandContext(ctx, "tmux", "-V").Run()
	ok := err == nil
	c.availCached = &ok
	return ok
}

func (c *Controller) run(ctx context.Context, args ...string) ([]byte, error) {
	if !c.Available() {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, types.WrapSubprocessTimeout("rate limit wait: tmux " + strings.Join(args, " "))
	}

	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, types.WrapSubprocessTimeout("tmux " + strings.Join(args, " "))
	}
	if err != nil {
		return out.Bytes(), types.WrapSubprocess("tmux "+strings.Join(args, " "), fmt.Errorf("%w (stderr: %s)", err, errBuf.String()))
	}
	return out.Bytes(), nil
}

// SessionExists reports whether a named session is currently live.
func (c *Controller) SessionExists(name string) bool {
	if !c.Available() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.run(ctx, "has-session", "-t", name)
	return err == nil
}

// CreateSession starts a new detached tmux session named name, rooted at
// cwd, optionally running initialCommand, with env injected as
// KEY=VALUE pairs (§4.6 step 4 "inject environment and boot commands").
func (c *Controller) CreateSession(ctx context.Context, name, cwd string, initialCommand string, env map[string]string) error {
	if !c.Available() {
		return types.WrapSubprocess("create_session", fmt.Errorf("tmux not available"))
	}
	if c.SessionExists(name) {
		return types.WrapConflict("tmux_session", name)
	}
	if _, err := os.Stat(cwd); err != nil {
		if mkErr := os.MkdirAll(cwd, 0o755); mkErr != nil {
			return types.WrapSubprocess("create_session", fmt.Errorf("cwd %s does not exist and could not be created: %w", cwd, mkErr))
		}
	}

	args := []string{"new-session", "-d", "-s", name, "-c", cwd}
	if initialCommand != "" {
		args = append(args, initialCommand)
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	if err := c.limiter.Wait(ctx); err != nil {
		return types.WrapSubprocessTimeout("create_session rate limit")
	}
	if err := cmd.Run(); err != nil {
		return types.WrapSubprocess("create_session", fmt.Errorf("%w (stderr: %s)", err, errBuf.String()))
	}
	return nil
}

// SendKeys sends text to a session/pane, optionally followed by a submit
// keypress as a separate operation (§4.6 step 5, §4.7 "two-step").
func (c *Controller) SendKeys(ctx context.Context, target, text string, submit bool) error {
	if _, err := c.run(ctx, "send-keys", "-t", target, "-l", text); err != nil {
		return err
	}
	if submit {
		if _, err := c.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
			return err
		}
	}
	return nil
}

// CapturePane returns the last maxLines of a pane's scrollback.
func (c *Controller) CapturePane(ctx context.Context, target string, maxLines int) (string, error) {
	args := []string{"capture-pane", "-t", target, "-p"}
	if maxLines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(maxLines))
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// KillSession terminates a session; idempotent (§4.7).
func (c *Controller) KillSession(ctx context.Context, name string) error {
	if !c.SessionExists(name) {
		return nil
	}
	_, err := c.run(ctx, "kill-session", "-t", name)
	return err
}

// ListSessions enumerates every live tmux session.
func (c *Controller) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	out, err := c.run(ctx, "list-sessions", "-F", "#{session_name}\t#{session_created}\t#{session_attached}")
	if err != nil || len(out) == 0 {
		return nil, err
	}
	var sessions []SessionInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			continue
		}
		epoch, _ := strconv.ParseInt(fields[1], 10, 64)
		sessions = append(sessions, SessionInfo{
			Name:     fields[0],
			Created:  time.Unix(epoch, 0),
			Attached: fields[2] == "1",
		})
	}
	return sessions, nil
}

// ListPanes enumerates every pane across every session.
func (c *Controller) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	out, err := c.run(ctx, "list-panes", "-a", "-F", "#{session_name}\t#{window_index}\t#{pane_index}\t#{pane_title}\t#{pane_current_path}\t#{pane_active}")
	if err != nil || len(out) == 0 {
		return nil, err
	}
	var panes []PaneInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		f := strings.Split(line, "\t")
		if len(f) != 6 {
			continue
		}
		window, _ := strconv.Atoi(f[1])
		pane, _ := strconv.Atoi(f[2])
		panes = append(panes, PaneInfo{
			Session: f[0], Window: window, Pane: pane, Title: f[3], CWD: f[4], Active: f[5] == "1",
		})
	}
	return panes, nil
}

// DiscoverAgents enumerates sessions whose name ends in
// "-"+last4(adminToken) and reports the agent id implied by stripping that
// suffix (§4.7 discover_agents).
func (c *Controller) DiscoverAgents(ctx context.Context, suffix4 string) ([]string, error) {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	want := "-" + strings.ToLower(suffix4)
	var agentIDs []string
	for _, s := range sessions {
		if strings.HasSuffix(s.Name, want) {
			agentIDs = append(agentIDs, strings.TrimSuffix(s.Name, want))
		}
	}
	return agentIDs, nil
}
