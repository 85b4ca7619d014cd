package tmux

import "testing"

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"agent.one":        "agent_one",
		"agent[bad]:name":  "agent_bad_name",
		"  leading space":  "leading_space",
		"...":              "agent_session",
		"already_fine_123": "already_fine_123",
		"":                 "agent_session",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewControllerDefaults(t *testing.T) {
	c := New()
	if c.limiter == nil {
		t.Fatal("expected non-nil rate limiter")
	}
	if c.commandTimeout <= 0 {
		t.Fatal("expected positive command timeout")
	}
}

func TestDiscoverAgentsWithoutTmux(t *testing.T) {
	c := New()
	if c.Available() {
		t.Skip("tmux present on this host; exercised indirectly by other tests")
	}
	ids, err := c.DiscoverAgents(nil, "abcd")
	if err != nil {
		t.Fatalf("DiscoverAgents on unavailable tmux: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no agents without tmux, got %v", ids)
	}
}
