package orchestrator

import "github.com/ShayCichocki/fleet/pkg/models"

// Assign deals units to agents round-robin in list order, wrapping around.
// Unit i goes to agentIDs[i % len(agentIDs)], so each agent receives either
// floor(N/M) or ceil(N/M) units and ties are broken purely by list position.
// Each agent's queue keeps the order units were given in.
func Assign(units []*models.Unit, agentIDs []string) map[string][]*models.Unit {
	if len(agentIDs) == 0 {
		return nil
	}
	out := make(map[string][]*models.Unit, len(agentIDs))
	for i, u := range units {
		id := agentIDs[i%len(agentIDs)]
		out[id] = append(out[id], u)
	}
	return out
}
