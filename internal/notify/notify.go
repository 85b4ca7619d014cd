// Package notify surfaces operational alerts (testing-agent pipeline
// failure, session-expiry sweep, tmux unavailability) as a desktop toast
// plus an in-process banner state any HTTP client can poll. Grounded on the
// teacher's internal/notifications/toast.go (ToastNotifier, go-toast/toast,
// Windows-only with an IsSupported guard) and banner.go (BannerNotifier,
// a mutex-guarded current-banner-state struct), narrowed from the
// teacher's dashboard-specific "Supervisor Needs Input" alert to this
// domain's alert kinds.
package notify

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-toast/toast"
)

// Kind names an alert's severity/category, mirroring the teacher's
// BannerType vocabulary.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// State is the current banner snapshot, polled by the debug surface.
type State struct {
	Visible   bool      `json:"visible"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier pushes a desktop toast (where supported) and keeps the latest
// alert's banner state for polling clients.
type Notifier struct {
	appID       string
	dashboardURL string

	mu    sync.RWMutex
	state State
}

// New builds a Notifier. dashboardURL, if non-empty, becomes the toast's
// click-through action target.
func New(dashboardURL string) *Notifier {
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &Notifier{appID: "fleetd", dashboardURL: dashboardURL}
}

// Alert records the banner state and attempts a desktop toast. Toast
// failures (including "unsupported on this platform") are non-fatal — the
// banner state is the source of truth any caller can rely on. A nil
// Notifier is a no-op, so callers that didn't wire one up can call it
// unconditionally.
func (n *Notifier) Alert(kind Kind, title, message string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.state = State{Visible: true, Message: message, Kind: kind, Timestamp: time.Now()}
	n.mu.Unlock()

	if err := n.pushToast(title, message); err != nil && runtime.GOOS == "windows" {
		fmt.Printf("[NOTIFY] toast failed: %v\n", err)
	}
}

// TestingAgentFailed reports a testing-agent pipeline failure (§4.6.1).
func (n *Notifier) TestingAgentFailed(taskID string, cause error) {
	n.Alert(KindError, "Testing Agent Failed", fmt.Sprintf("testing pipeline for %s: %v", taskID, cause))
}

// SessionsExpired reports the periodic sweeper finding expired sessions.
func (n *Notifier) SessionsExpired(count int) {
	if count == 0 {
		return
	}
	n.Alert(KindWarning, "Sessions Expired", fmt.Sprintf("%d session(s) expired past their recovery grace window", count))
}

// TmuxUnavailable reports that the multiplexer is missing on this host.
func (n *Notifier) TmuxUnavailable() {
	n.Alert(KindError, "Tmux Unavailable", "the tmux binary could not be found; agent creation will fail")
}

func (n *Notifier) pushToast(title, message string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on Windows")
	}
	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: n.dashboardURL},
		},
	}
	return notification.Push()
}

// Clear hides the banner.
func (n *Notifier) Clear() {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state.Visible = false
}

// State returns a copy of the current banner snapshot.
func (n *Notifier) State() State {
	if n == nil {
		return State{}
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}
