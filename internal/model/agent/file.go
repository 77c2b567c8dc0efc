package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoAgents is returned when a crew file declares no agents.
var ErrNoAgents = errors.New("crew file declares no agents")

// crewFile models the YAML crew definition.
//
//	agents:
//	  - name: BusinessAnalystAgent
//	    role: analyst
//	    instructions: |
//	      ...
type crewFile struct {
	Agents []Agent `yaml:"agents"`
}

// LoadFile reads a crew definition. Agents keep the order they are declared
// in, which is also the sequential speaking order.
func LoadFile(path string) ([]Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read crew file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a crew definition.
func Parse(data []byte) ([]Agent, error) {
	var file crewFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("agent: parse crew file: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, ErrNoAgents
	}

	seen := make(map[string]struct{}, len(file.Agents))
	agents := make([]Agent, 0, len(file.Agents))
	for i, item := range file.Agents {
		item.Name = strings.TrimSpace(item.Name)
		item.Instructions = strings.TrimSpace(item.Instructions)
		if item.Name == "" {
			return nil, fmt.Errorf("agent: entry %d has no name", i)
		}
		if item.Instructions == "" {
			return nil, fmt.Errorf("agent: %s has no instructions", item.Name)
		}
		if _, dup := seen[item.Name]; dup {
			return nil, fmt.Errorf("agent: duplicate name %s", item.Name)
		}
		seen[item.Name] = struct{}{}
		agents = append(agents, item)
	}
	return agents, nil
}
