package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/internal/recovery"
	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// execute runs every agent queue in parallel and each queue in order.
func (o *Orchestrator) execute(ctx context.Context, r *run, agents []string, assignments map[string][]*models.Unit) {
	p := pool.New().WithErrors().WithMaxGoroutines(len(agents))
	for _, agentID := range agents {
		units := assignments[agentID]
		if len(units) == 0 {
			continue
		}
		p.Go(func() error {
			return o.runQueue(ctx, r, agentID, units)
		})
	}
	if err := p.Wait(); err != nil {
		o.logger.WithTask(r.task.ID).Debug("agent queues finished with failures", "error", err)
	}
}

// runQueue drives one agent's units in order. The first failure skips the
// rest of the queue.
func (o *Orchestrator) runQueue(ctx context.Context, r *run, agentID string, units []*models.Unit) error {
	var failed error
	for _, u := range units {
		if failed != nil {
			o.finish(r, u, "", fmt.Errorf("%w: earlier unit on agent %s failed", ErrUnitSkipped, agentID))
			continue
		}

		if err := o.waitDeps(ctx, r, u); err != nil {
			o.finish(r, u, "", err)
			failed = err
			continue
		}
		if !o.start(r, u) {
			continue
		}

		// The task can be cancelled between start and here. MarkBusy then
		// refuses, since the agent is no longer held by this task.
		if !o.registry.MarkBusy(r.task.ID, agentID) {
			o.finish(r, u, "", ErrTaskCancelled)
			continue
		}
		out, err := o.dispatch(ctx, r, agentID, u)
		o.registry.MarkIdle(r.task.ID, agentID)

		o.finish(r, u, out, err)
		if err != nil {
			failed = err
		}
	}
	return failed
}

// waitDeps blocks until every dependency of u is terminal. It fails if a
// dependency did not complete or ctx ends first.
func (o *Orchestrator) waitDeps(ctx context.Context, r *run, u *models.Unit) error {
	for _, dep := range u.DependsOn {
		select {
		case <-r.done[dep]:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, dep := range u.DependsOn {
		if d := r.task.Unit(dep); d == nil || d.Status != models.UnitStatusCompleted {
			return fmt.Errorf("%w: %s", ErrDependencyFailed, dep)
		}
	}
	return nil
}

// start moves an assigned unit to in progress. It refuses units that were
// cancelled in the meantime.
func (o *Orchestrator) start(r *run, u *models.Unit) bool {
	o.mu.Lock()
	if u.Status != models.UnitStatusAssigned {
		o.mu.Unlock()
		return false
	}
	u.Status = models.UnitStatusInProgress
	agentID := u.AssignedAgent
	o.mu.Unlock()

	o.emit(Event{Type: EventUnitStarted, TaskID: r.task.ID, UnitID: u.ID, AgentID: agentID})
	return true
}

// dispatch sends the unit prompt through the safety gate. When the host is
// unavailable before the command was sent it asks the recoverer to restore the
// agent and retries on the same agent, up to the unit retry limit. A command
// whose output was lost is never resent.
func (o *Orchestrator) dispatch(ctx context.Context, r *run, agentID string, u *models.Unit) (string, error) {
	log := o.logger.WithTask(r.task.ID).WithAgent(agentID)
	for attempt := 0; ; attempt++ {
		o.mu.Lock()
		u.Attempts++
		o.mu.Unlock()

		out, err := o.executor.ExecuteWithSafety(ctx, agentID, u.Prompt, "")
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, host.ErrHostUnavailable) || errors.Is(err, safety.ErrOutputLost) {
			return "", err
		}
		if o.opts.recoverer == nil || attempt >= o.opts.unitRetries {
			return "", err
		}
		if o.isCancelled(r) {
			return "", err
		}

		log.Warn("agent unavailable, starting recovery", "unit_id", u.ID, "error", err)
		if rerr := o.opts.recoverer.Recover(ctx, agentID); rerr != nil {
			if errors.Is(rerr, recovery.ErrAgentTerminated) {
				o.registry.Exclude(agentID)
				return "", rerr
			}
			return "", fmt.Errorf("%w (recovery failed: %v)", err, rerr)
		}
	}
}

// finish settles a unit once. Later calls for a terminal unit are ignored,
// so a cancelled unit is never resurrected by a late result.
func (o *Orchestrator) finish(r *run, u *models.Unit, result string, err error) {
	o.mu.Lock()
	if u.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	if err == nil {
		u.Status = models.UnitStatusCompleted
		u.Result = result
		r.task.Results[u.ID] = result
	} else {
		u.Status = models.UnitStatusFailed
		u.Error = err.Error()
		r.errs[u.ID] = err
	}
	agentID := u.AssignedAgent
	close(r.done[u.ID])
	o.mu.Unlock()

	if err == nil {
		o.emit(Event{Type: EventUnitCompleted, TaskID: r.task.ID, UnitID: u.ID, AgentID: agentID})
		return
	}
	o.logger.WithTask(r.task.ID).WithAgent(agentID).Warn("unit failed", "unit_id", u.ID, "error", err)
	o.emit(Event{Type: EventUnitFailed, TaskID: r.task.ID, UnitID: u.ID, AgentID: agentID, Error: err})
}

func (o *Orchestrator) isCancelled(r *run) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return r.cancelled
}
