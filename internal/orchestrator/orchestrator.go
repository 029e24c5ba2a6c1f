package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/fleet/internal/logging"
	"github.com/ShayCichocki/fleet/internal/registry"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// Registry is the shared agent-state map the orchestrator schedules against.
type Registry interface {
	ReserveIdle(ctx context.Context, owner string, filter registry.Filter) ([]string, error)
	MarkBusy(owner, agentID string) bool
	MarkIdle(owner, agentID string)
	Release(owner string) []string
	ReleaseAgent(agentID string)
	Exclude(agentID string)
}

// Executor clears and runs a command on an agent.
type Executor interface {
	ExecuteWithSafety(ctx context.Context, agentID, command, approvalID string) (string, error)
}

// Recoverer tries to bring a failing agent back.
type Recoverer interface {
	Recover(ctx context.Context, agentID string) error
}

// HealthChecker reports the latest health of an agent.
type HealthChecker interface {
	IsHealthy(agentID string) bool
}

// AuditSink persists final task outcomes.
type AuditSink interface {
	RecordTask(task *models.Task) error
}

// run is the orchestrator's private state for one task.
type run struct {
	task *models.Task
	// done holds one channel per unit, closed when the unit turns terminal.
	done map[string]chan struct{}
	// errs holds the failure of each failed unit.
	errs map[string]error
	// cancelled is set by CancelTask.
	cancelled bool
}

// Orchestrator owns the task and unit lifecycle.
type Orchestrator struct {
	registry Registry
	executor Executor
	opts     orchestratorOptions
	logger   *logging.Logger
	clock    clockwork.Clock
	emitter  *EventEmitter

	// runs maps task IDs to their state. Finished tasks stay as read-only history.
	runs map[string]*run
	// mu protects runs and every task and unit they hold.
	mu sync.RWMutex
}

// New creates an Orchestrator scheduling on reg and executing through exec.
func New(reg Registry, exec Executor, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.unitRetries < 0 {
		o.unitRetries = 0
	}
	logger := logging.OrNop(o.logger).WithComponent("orchestrator")
	return &Orchestrator{
		registry: reg,
		executor: exec,
		opts:     o,
		logger:   logger,
		clock:    o.clock,
		emitter:  NewEventEmitter(o.eventBuffer, logger),
		runs:     make(map[string]*run),
	}
}

// Events returns the event stream. Consuming it is optional.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Close closes the event stream.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}

// Submit decomposes prompt with the configured Decomposer and runs the result.
func (o *Orchestrator) Submit(ctx context.Context, prompt string) (*models.Task, error) {
	specs, err := o.opts.decomposer.Decompose(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	return o.SubmitUnits(ctx, prompt, specs)
}

// SubmitTask runs one independent unit per prompt.
func (o *Orchestrator) SubmitTask(ctx context.Context, mainPrompt string, unitPrompts []string) (*models.Task, error) {
	return o.SubmitUnits(ctx, mainPrompt, specsFromPrompts(unitPrompts))
}

// SubmitUnits registers a task, reserves idle healthy agents, assigns units
// round-robin, and runs them. Agents left without a unit are released before
// execution starts. It returns once the task is terminal.
//
// The returned task is a copy and always carries per-unit status and the
// results of completed units. With no available agent the task fails with
// ErrNoCapacity and no unit is assigned. If any unit fails the task fails
// and the error is a *TaskError.
func (o *Orchestrator) SubmitUnits(ctx context.Context, mainPrompt string, specs []UnitSpec) (*models.Task, error) {
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	r := o.register(mainPrompt, specs)
	taskID := r.task.ID
	log := o.logger.WithTask(taskID)
	log.Info("task submitted", "units", len(specs))
	o.emit(Event{Type: EventTaskSubmitted, TaskID: taskID})

	agents, err := o.registry.ReserveIdle(ctx, taskID, o.filter())
	if err != nil {
		return o.failEarly(r, fmt.Errorf("reserve agents: %w", err))
	}
	if len(agents) == 0 {
		return o.failEarly(r, ErrNoCapacity)
	}
	if n := o.opts.maxParallel; n > 0 && len(agents) > n {
		for _, id := range agents[n:] {
			o.registry.ReleaseAgent(id)
		}
		agents = agents[:n]
	}

	assignments := o.assign(r, specs, agents)
	agents = o.releaseUnused(agents, assignments)
	log.Info("task started", "agents", len(agents))
	o.emit(Event{Type: EventTaskStarted, TaskID: taskID, Message: fmt.Sprintf("%d agents", len(agents))})

	o.execute(ctx, r, agents, assignments)
	return o.finalize(r)
}

func (o *Orchestrator) register(mainPrompt string, specs []UnitSpec) *run {
	taskID := o.opts.newID()
	task := &models.Task{
		ID:         taskID,
		MainPrompt: mainPrompt,
		Units:      make([]*models.Unit, len(specs)),
		Status:     models.TaskStatusPending,
		CreatedAt:  o.clock.Now(),
		Results:    make(map[string]string),
	}
	r := &run{
		task: task,
		done: make(map[string]chan struct{}, len(specs)),
		errs: make(map[string]error),
	}
	for i, s := range specs {
		u := &models.Unit{
			ID:      models.UnitID(taskID, i),
			TaskID:  taskID,
			Ordinal: i,
			Prompt:  s.Prompt,
			Status:  models.UnitStatusPending,
		}
		for _, d := range uniqueInts(s.DependsOn) {
			u.DependsOn = append(u.DependsOn, models.UnitID(taskID, d))
		}
		task.Units[i] = u
		r.done[u.ID] = make(chan struct{})
	}

	o.mu.Lock()
	o.runs[taskID] = r
	o.mu.Unlock()
	return r
}

func (o *Orchestrator) filter() registry.Filter {
	if o.opts.health == nil {
		return nil
	}
	return func(s models.AgentSnapshot) bool {
		return o.opts.health.IsHealthy(s.ID)
	}
}

// assign orders units so dependencies come first and deals them round-robin.
// Every agent queue is then ascending in that order, so the earliest unfinished
// unit overall always has its dependencies settled and waiting cannot deadlock.
func (o *Orchestrator) assign(r *run, specs []UnitSpec, agents []string) map[string][]*models.Unit {
	o.mu.Lock()
	defer o.mu.Unlock()

	ordered := make([]*models.Unit, 0, len(specs))
	for _, i := range topoOrder(specs) {
		ordered = append(ordered, r.task.Units[i])
	}
	assignments := Assign(ordered, agents)
	for agentID, units := range assignments {
		for _, u := range units {
			u.AssignedAgent = agentID
			u.Status = models.UnitStatusAssigned
		}
	}
	r.task.Status = models.TaskStatusInProgress
	return assignments
}

// releaseUnused hands back reserved agents that got no unit and returns the rest.
func (o *Orchestrator) releaseUnused(agents []string, assignments map[string][]*models.Unit) []string {
	used := agents[:0:0]
	for _, id := range agents {
		if len(assignments[id]) == 0 {
			o.registry.ReleaseAgent(id)
			continue
		}
		used = append(used, id)
	}
	return used
}

// failEarly fails a task before any unit was assigned.
func (o *Orchestrator) failEarly(r *run, err error) (*models.Task, error) {
	o.mu.Lock()
	now := o.clock.Now()
	r.task.Status = models.TaskStatusFailed
	r.task.CompletedAt = &now
	snapshot := r.task.Clone()
	o.mu.Unlock()

	o.registry.Release(r.task.ID)
	o.logger.WithTask(snapshot.ID).Warn("task failed before assignment", "error", err)
	o.emit(Event{Type: EventTaskFailed, TaskID: snapshot.ID, Error: err})
	o.audit(snapshot)
	return snapshot, err
}

// finalize settles the task status once every agent queue has drained.
func (o *Orchestrator) finalize(r *run) (*models.Task, error) {
	o.mu.Lock()
	cancelled := r.cancelled
	if !r.task.Status.Terminal() {
		now := o.clock.Now()
		r.task.CompletedAt = &now
		if len(r.errs) > 0 {
			r.task.Status = models.TaskStatusFailed
		} else {
			r.task.Status = models.TaskStatusCompleted
		}
	}
	snapshot := r.task.Clone()
	var taskErr *TaskError
	if len(r.errs) > 0 {
		taskErr = &TaskError{TaskID: snapshot.ID, Failed: make(map[string]error, len(r.errs))}
		for id, err := range r.errs {
			taskErr.Failed[id] = err
		}
	}
	o.mu.Unlock()

	log := o.logger.WithTask(snapshot.ID)
	if cancelled {
		return snapshot, fmt.Errorf("task %s: %w", snapshot.ID, ErrTaskCancelled)
	}

	o.registry.Release(snapshot.ID)
	o.audit(snapshot)
	if taskErr != nil {
		counts := snapshot.Counts()
		log.Warn("task failed", "completed", counts[models.UnitStatusCompleted], "failed", counts[models.UnitStatusFailed])
		o.emit(Event{Type: EventTaskFailed, TaskID: snapshot.ID, Error: taskErr})
		return snapshot, taskErr
	}
	log.Info("task completed", "units", len(snapshot.Units))
	o.emit(Event{Type: EventTaskCompleted, TaskID: snapshot.ID})
	return snapshot, nil
}

// CancelTask fails a running task and every unfinished unit with "cancelled"
// and releases its agents. Units already dispatched keep running on their
// agent, but their completion is ignored. Unknown and finished tasks are left
// untouched. It reports whether anything was cancelled.
func (o *Orchestrator) CancelTask(taskID string) bool {
	o.mu.Lock()
	r, ok := o.runs[taskID]
	if !ok || r.task.Status.Terminal() {
		o.mu.Unlock()
		return false
	}

	now := o.clock.Now()
	r.cancelled = true
	r.task.Status = models.TaskStatusFailed
	r.task.CompletedAt = &now
	for _, u := range r.task.Units {
		if u.Status.Terminal() {
			continue
		}
		u.Status = models.UnitStatusFailed
		u.Error = ErrTaskCancelled.Error()
		r.errs[u.ID] = ErrTaskCancelled
		close(r.done[u.ID])
	}
	snapshot := r.task.Clone()
	o.mu.Unlock()

	released := o.registry.Release(taskID)
	o.logger.WithTask(taskID).Info("task cancelled", "released_agents", len(released))
	o.emit(Event{Type: EventTaskCancelled, TaskID: taskID})
	o.audit(snapshot)
	return true
}

// Task returns a copy of a task.
func (o *Orchestrator) Task(taskID string) (*models.Task, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[taskID]
	if !ok {
		return nil, false
	}
	return r.task.Clone(), true
}

// Tasks returns copies of every known task, oldest first.
func (o *Orchestrator) Tasks() []*models.Task {
	return o.collect(func(*models.Task) bool { return true })
}

// ActiveTasks returns copies of pending and in-progress tasks, oldest first.
func (o *Orchestrator) ActiveTasks() []*models.Task {
	return o.collect(func(t *models.Task) bool { return !t.Status.Terminal() })
}

func (o *Orchestrator) collect(keep func(*models.Task) bool) []*models.Task {
	o.mu.RLock()
	out := make([]*models.Task, 0, len(o.runs))
	for _, r := range o.runs {
		if keep(r.task) {
			out = append(out, r.task.Clone())
		}
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (o *Orchestrator) emit(ev Event) {
	ev.Timestamp = o.clock.Now()
	o.emitter.Emit(ev)
}

func (o *Orchestrator) audit(task *models.Task) {
	if o.opts.audit == nil {
		return
	}
	if err := o.opts.audit.RecordTask(task); err != nil {
		o.logger.WithTask(task.ID).Warn("failed to audit task", "error", err)
	}
}
