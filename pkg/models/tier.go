package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Tier is a named safety policy bundle.
type Tier int

const (
	// TierAutonomous runs anything not on the deny list.
	TierAutonomous Tier = 1
	// TierSupervised needs approval outside a small allow list.
	TierSupervised Tier = 2
	// TierManual needs approval outside a minimal allow list.
	TierManual Tier = 3
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierAutonomous, TierSupervised, TierManual:
		return true
	default:
		return false
	}
}

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierAutonomous:
		return "autonomous"
	case TierSupervised:
		return "supervised"
	case TierManual:
		return "manual"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier parses a tier number ("2") or name ("supervised").
func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		t := Tier(n)
		if !t.Valid() {
			return 0, fmt.Errorf("unknown tier %d", n)
		}
		return t, nil
	}
	for _, t := range []Tier{TierAutonomous, TierSupervised, TierManual} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}
