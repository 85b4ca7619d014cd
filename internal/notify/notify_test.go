package notify

import (
	"errors"
	"testing"
)

func TestNewNotifierStartsHidden(t *testing.T) {
	n := New("")
	if n.State().Visible {
		t.Error("expected new notifier's banner to be hidden")
	}
}

func TestAlertSetsBannerState(t *testing.T) {
	n := New("")
	n.Alert(KindWarning, "Title", "message body")

	state := n.State()
	if !state.Visible {
		t.Error("expected banner visible after Alert")
	}
	if state.Message != "message body" {
		t.Errorf("expected message 'message body', got %q", state.Message)
	}
	if state.Kind != KindWarning {
		t.Errorf("expected kind warning, got %q", state.Kind)
	}
}

func TestTestingAgentFailedSetsErrorBanner(t *testing.T) {
	n := New("")
	n.TestingAgentFailed("t1", errors.New("tmux session missing"))

	state := n.State()
	if state.Kind != KindError {
		t.Errorf("expected kind error, got %q", state.Kind)
	}
}

func TestSessionsExpiredZeroIsNoOp(t *testing.T) {
	n := New("")
	n.SessionsExpired(0)
	if n.State().Visible {
		t.Error("expected no banner for zero expired sessions")
	}
}

func TestClearHidesBanner(t *testing.T) {
	n := New("")
	n.Alert(KindInfo, "t", "m")
	n.Clear()
	if n.State().Visible {
		t.Error("expected banner hidden after Clear")
	}
}
