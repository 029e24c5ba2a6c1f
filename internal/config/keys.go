package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when the planner needs an API key and none is set.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource names where the planner credentials come from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config file"
	KeySourceBedrock KeySource = "aws bedrock"
	KeySourceNone    KeySource = "none"
)

// ResolveAPIKey returns the key the planner decomposer authenticates with
// and its source. Bedrock authenticates through the AWS chain and needs no
// key. Otherwise ANTHROPIC_API_KEY wins over anthropic.api_key, and a config
// value that is empty after ${VAR} expansion counts as unset.
func ResolveAPIKey(cfg *Config) (string, KeySource, error) {
	if cfg != nil && cfg.Anthropic.UseBedrock {
		return "", KeySourceBedrock, nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv, nil
	}
	if cfg != nil {
		if key := strings.TrimSpace(os.ExpandEnv(cfg.Anthropic.APIKey)); key != "" {
			return key, KeySourceConfig, nil
		}
	}
	return "", KeySourceNone, ErrNoAPIKey
}

// MaskAPIKey hides all but the prefix and the last four characters of a key.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	case strings.HasPrefix(key, "sk-ant-"):
		return "sk-ant-..." + key[len(key)-4:]
	default:
		return key[:3] + "..." + key[len(key)-4:]
	}
}
