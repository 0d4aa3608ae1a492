package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Task is a unit of deferred work registered with a Scheduler.
//
// Implementations embed *BaseTask, which carries identity, priority, state,
// dependencies and the failure slot. Run performs the work; any error it
// returns (or any panic it raises) is stored in the failure slot by the
// scheduler. Run is never called for a task that observes another task.
type Task interface {
	Base() *BaseTask
	Run(ctx context.Context) error
}

// BaseTask holds the scheduler-visible state of a Task.
// State transitions are performed by the scheduler only, under mu.
type BaseTask struct {
	mu        sync.Mutex
	name      contracts.TaskID
	priority  contracts.Priority
	state     contracts.TaskState
	failure   error
	deps      []Task
	observers []Task
	observing Task
	retries   int

	done      chan struct{}
	finalized bool
}

// NewBaseTask creates a pending task core.
func NewBaseTask(name string, priority contracts.Priority) *BaseTask {
	return &BaseTask{
		name:     contracts.TaskID(name),
		priority: priority,
		state:    contracts.TaskPending,
		done:     make(chan struct{}),
	}
}

// Base returns b, letting embedding types satisfy Task.
func (b *BaseTask) Base() *BaseTask { return b }

// Name returns the stable task name.
func (b *BaseTask) Name() contracts.TaskID {
	return b.name
}

// Priority returns the dispatch priority.
func (b *BaseTask) Priority() contracts.Priority {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.priority
}

// State returns the current state.
func (b *BaseTask) State() contracts.TaskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failure returns the stored failure, or nil.
func (b *BaseTask) Failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}

// Retries returns how many times the task was sent back to pending.
func (b *BaseTask) Retries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retries
}

// DependsOn adds dependency edges: b becomes ready only after every task
// in deps is complete.
func (b *BaseTask) DependsOn(deps ...Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range deps {
		if d == nil || d.Base() == b {
			continue
		}
		b.deps = append(b.deps, d)
	}
}

// Dependencies returns a copy of the dependency list.
func (b *BaseTask) Dependencies() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Task, len(b.deps))
	copy(out, b.deps)
	return out
}

// Observers returns a copy of the observer list.
func (b *BaseTask) Observers() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Task, len(b.observers))
	copy(out, b.observers)
	return out
}

// Observing returns the primary this task receives results from, or nil.
func (b *BaseTask) Observing() Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observing
}

// IsObserving reports whether this task was coalesced into another.
func (b *BaseTask) IsObserving() bool {
	return b.Observing() != nil
}

// Done is closed once the task reaches a final terminal state.
func (b *BaseTask) Done() <-chan struct{} {
	return b.done
}

// Join blocks until the task is final and returns its failure.
func (b *BaseTask) Join(ctx context.Context) error {
	select {
	case <-b.done:
		return b.Failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Final reports whether the task can no longer change state.
func (b *BaseTask) Final() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalized
}

func (b *BaseTask) String() string {
	return fmt.Sprintf("%s(%s)", b.name, b.State())
}

// validTransitions lists the allowed state changes.
var validTransitions = map[contracts.TaskState][]contracts.TaskState{
	contracts.TaskPending: {contracts.TaskReady, contracts.TaskComplete, contracts.TaskFailed},
	contracts.TaskReady:   {contracts.TaskRunning, contracts.TaskPending},
	contracts.TaskRunning: {contracts.TaskComplete, contracts.TaskFailed},
	contracts.TaskFailed:  {contracts.TaskPending},
}

// transition moves the task to state to, recording failure when moving to failed.
func (b *BaseTask) transition(to contracts.TaskState, failure error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return fmt.Errorf("task %s is final (state: %s): %w", b.name, b.state, contracts.ErrInvalidInput)
	}
	allowed := false
	for _, s := range validTransitions[b.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("task %s: transition %s -> %s: %w", b.name, b.state, to, contracts.ErrInvalidInput)
	}

	if b.state == contracts.TaskFailed && to == contracts.TaskPending {
		b.retries++
	}
	b.state = to
	switch to {
	case contracts.TaskFailed:
		b.failure = failure
	case contracts.TaskPending, contracts.TaskComplete:
		b.failure = nil
	}
	return nil
}

// finalize marks the task final and releases joiners.
func (b *BaseTask) finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return
	}
	b.finalized = true
	close(b.done)
}

func (b *BaseTask) addObserver(t Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, t)
}

func (b *BaseTask) observe(primary Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observing = primary
}

// permanentlyFailed reports whether the task failed and will not be retried.
func (b *BaseTask) permanentlyFailed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == contracts.TaskFailed && b.finalized
}
