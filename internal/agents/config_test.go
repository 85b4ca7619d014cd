package agents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetforge/fleetd/internal/types"
)

func TestLoadTeamsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "teams.yaml")
	content := "agents:\n  - name: reviewer\n    color: blue\n    capabilities: [coding, review]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write teams.yaml: %v", err)
	}

	cfg, err := LoadTeamsConfig(path)
	if err != nil {
		t.Fatalf("load teams config: %v", err)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "reviewer" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestGetAgentConfig(t *testing.T) {
	cfg := &types.TeamsConfig{Agents: []types.AgentConfig{
		{Name: "a", Color: "red"},
		{Name: "b", Color: "blue"},
	}}
	found := GetAgentConfig(cfg, "b")
	if found == nil || found.Color != "blue" {
		t.Fatalf("expected to find agent b, got %+v", found)
	}
	if GetAgentConfig(cfg, "missing") != nil {
		t.Fatal("expected nil for missing agent")
	}
}
