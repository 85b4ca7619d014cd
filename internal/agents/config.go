// Package agents loads the on-disk team and project rosters (teams.yaml,
// projects.yaml). The supervisor uses the project roster to resolve a
// project name given as an agent's project directory; it does not read the
// team roster.
package agents

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fleetforge/fleetd/internal/types"
)

// LoadTeamsConfig loads the team roster from YAML.
func LoadTeamsConfig(path string) (*types.TeamsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config types.TeamsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, types.WrapValidation("parse teams config: " + err.Error())
	}
	return &config, nil
}

// GetAgentConfig finds a named entry in the team roster.
func GetAgentConfig(config *types.TeamsConfig, name string) *types.AgentConfig {
	for i := range config.Agents {
		if config.Agents[i].Name == name {
			return &config.Agents[i]
		}
	}
	return nil
}
