package types

// AgentConfig is one entry of the on-disk team roster (teams.yaml), loaded
// and looked up by name in internal/agents. The supervisor does not read it
// when creating an agent.
type AgentConfig struct {
	Name         string   `yaml:"name" json:"name"`
	Color        string   `yaml:"color" json:"color"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// TeamsConfig is the root configuration for teams.yaml.
type TeamsConfig struct {
	Agents []AgentConfig `yaml:"agents"`
}

// ProjectConfig represents a known project directory agents may be
// assigned into.
type ProjectConfig struct {
	Name        string `yaml:"name" json:"name"`
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description" json:"description"`
	HasClaudeMD bool   `yaml:"-" json:"has_claude_md,omitempty"`
}

// ProjectsConfig is the root configuration for projects.yaml.
type ProjectsConfig struct {
	ScanPath string          `yaml:"scan_path"`
	Projects []ProjectConfig `yaml:"projects"`
}

// AccessLevel constrains which project directories an agent may touch.
type AccessLevel string

const (
	AccessStrict        AccessLevel = "strict"         // read/write only its assigned project
	AccessReadOnlyCross AccessLevel = "readonly-cross"  // write to assigned, read from all
	AccessReadOnlyAll   AccessLevel = "readonly-all"    // read from all, no write
)

// AccessLevelForCapabilities derives an access level from an agent's
// granted capabilities; testing/audit agents get cross-project read access
// so they can inspect what the completing agent touched (§4.6.1).
func AccessLevelForCapabilities(capabilities []string) AccessLevel {
	for _, c := range capabilities {
		switch c {
		case "audit", "criticism":
			return AccessReadOnlyCross
		case "supervisor":
			return AccessReadOnlyAll
		}
	}
	return AccessStrict
}
