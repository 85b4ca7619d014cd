package agents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetforge/fleetd/internal/types"
)

func TestLoadProjectsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yaml")
	content := "projects:\n  - name: demo\n    path: " + dir + "\n    description: test project\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write projects.yaml: %v", err)
	}

	cfg, err := LoadProjectsConfig(path)
	if err != nil {
		t.Fatalf("load projects config: %v", err)
	}
	if len(cfg.Projects) != 1 || cfg.Projects[0].Name != "demo" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestGetProjectByNameAndPath(t *testing.T) {
	projects := []types.ProjectConfig{
		{Name: "alpha", Path: "/tmp/alpha"},
		{Name: "beta", Path: "/tmp/beta"},
	}
	if p := GetProjectByName(projects, "beta"); p == nil || p.Path != "/tmp/beta" {
		t.Fatalf("expected to find beta, got %+v", p)
	}
	if p := GetProjectByPath(projects, "/tmp/alpha"); p == nil || p.Name != "alpha" {
		t.Fatalf("expected to find alpha, got %+v", p)
	}
	if GetProjectByName(projects, "gamma") != nil {
		t.Fatal("expected nil for missing project")
	}
}

func TestValidateProjectPathRequiresAbsolute(t *testing.T) {
	if err := ValidateProjectPath("relative/path", ""); err == nil {
		t.Fatal("expected error for relative path")
	}
}

func TestValidateProjectPathRequiresGitOrClaudeMD(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateProjectPath(dir, ""); err == nil {
		t.Fatal("expected error for directory without .git or CLAUDE.md")
	}
}
