// Package safety gates agent commands behind tiered policies, approvals, and
// a bounded violation log.
package safety

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/fleet/pkg/models"
)

// Capabilities are advisory flags describing what a tier may touch.
// They are exposed to callers but do not take part in command checks.
type Capabilities struct {
	FSWrite        bool `yaml:"fs_write" json:"fs_write"`
	Network        bool `yaml:"network" json:"network"`
	ProcessControl bool `yaml:"process_control" json:"process_control"`
}

// Policy is the complete rule set applied to one agent's commands.
type Policy struct {
	// Tier is the tier this policy was derived from.
	Tier models.Tier `yaml:"-" json:"tier"`
	// RequireApproval defers commands to an approver.
	RequireApproval bool `yaml:"require_approval" json:"require_approval"`
	// AllowedCommands, when non-empty, lists command prefixes that pass without approval.
	AllowedCommands []string `yaml:"allowed_commands" json:"allowed_commands,omitempty"`
	// BlockedCommands are substrings that always deny a command.
	BlockedCommands []string `yaml:"blocked_commands" json:"blocked_commands,omitempty"`
	// MaxCommandLength is the longest command accepted, in characters.
	MaxCommandLength int `yaml:"max_command_length" json:"max_command_length"`
	// Capabilities are advisory flags.
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`
}

// Clone returns a copy that shares no slices with p.
func (p Policy) Clone() Policy {
	c := p
	c.AllowedCommands = append([]string(nil), p.AllowedCommands...)
	c.BlockedCommands = append([]string(nil), p.BlockedCommands...)
	return c
}

// Allows reports whether the command is on the allow list. An entry matches
// the whole command or a prefix followed by a space.
func (p Policy) Allows(command string) bool {
	cmd := strings.TrimSpace(command)
	for _, entry := range p.AllowedCommands {
		if cmd == entry || strings.HasPrefix(cmd, entry+" ") {
			return true
		}
	}
	return false
}

// Validate checks the policy for values that would make every check fail.
func (p Policy) Validate() error {
	if p.MaxCommandLength <= 0 {
		return fmt.Errorf("max_command_length must be positive, got %d", p.MaxCommandLength)
	}
	for _, b := range p.BlockedCommands {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("blocked_commands contains an empty entry")
		}
	}
	return nil
}

var supervisedBlocked = []string{
	"rm -rf",
	"sudo",
	"chmod 777",
	"curl",
	"wget",
	"kill -9",
}

// DefaultPolicies returns fresh copies of the built-in tiers.
func DefaultPolicies() map[models.Tier]Policy {
	return map[models.Tier]Policy{
		models.TierAutonomous: {
			Tier:             models.TierAutonomous,
			RequireApproval:  false,
			BlockedCommands:  []string{"sudo rm", "shutdown", "reboot"},
			MaxCommandLength: 1000,
			Capabilities:     Capabilities{FSWrite: true, Network: true, ProcessControl: true},
		},
		models.TierSupervised: {
			Tier:            models.TierSupervised,
			RequireApproval: true,
			AllowedCommands: []string{
				"ls", "pwd", "cat", "echo", "head", "tail", "wc", "grep", "find",
				"git status", "git diff", "git log", "go test", "npm test", "make test",
			},
			BlockedCommands:  append([]string(nil), supervisedBlocked...),
			MaxCommandLength: 500,
		},
		models.TierManual: {
			Tier:             models.TierManual,
			RequireApproval:  true,
			AllowedCommands:  []string{"ls", "pwd", "cat", "echo", "git status"},
			BlockedCommands:  append([]string(nil), supervisedBlocked...),
			MaxCommandLength: 100,
		},
	}
}

// policyFile is the YAML layout of a tier override file. Each listed tier
// replaces the built-in tier entirely.
type policyFile struct {
	Tiers map[int]Policy `yaml:"tiers"`
}

// ReadPolicyFile parses a tier override file.
func ReadPolicyFile(path string) (map[models.Tier]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[models.Tier]Policy, len(f.Tiers))
	for n, p := range f.Tiers {
		tier := models.Tier(n)
		if !tier.Valid() {
			return nil, fmt.Errorf("%s: unknown tier %d", path, n)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: tier %d: %w", path, n, err)
		}
		p.Tier = tier
		out[tier] = p
	}
	return out, nil
}
