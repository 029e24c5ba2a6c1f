package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// ErrAgentErrorState is returned by HostProber when the host flags the agent.
var ErrAgentErrorState = errors.New("agent reports error state")

// Prober checks whether an agent is alive and responsive.
type Prober interface {
	Probe(ctx context.Context, agentID string) error
}

// HostProber probes through the agent host: the agent must be listed, not in
// the error state, and its output must be readable.
type HostProber struct {
	Host host.Host
}

// Probe implements Prober.
func (p HostProber) Probe(ctx context.Context, agentID string) error {
	snaps, err := p.Host.List(ctx)
	if err != nil {
		return err
	}

	var found *models.AgentSnapshot
	for i := range snaps {
		if snaps[i].ID == agentID {
			found = &snaps[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("%w: %s", host.ErrAgentNotFound, agentID)
	}
	if found.State == models.AgentError {
		return ErrAgentErrorState
	}

	if _, err := p.Host.ReadOutput(ctx, agentID, 1); err != nil {
		return err
	}
	return nil
}
