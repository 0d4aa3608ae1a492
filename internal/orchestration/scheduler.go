package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/audit"
	"github.com/VladislavFirsov/reportflow/internal/logging"
)

// Options configures a Scheduler.
type Options struct {
	// MaxParallelism is the worker pool size P. Values <= 0 mean 1.
	MaxParallelism int
	// Retries is the retry budget R per task. Negative values mean 0.
	Retries int
	// TaskTimeout caps the wall time of a single task body. Zero disables it.
	TaskTimeout time.Duration
	// ThreadSleep is the idle poll interval of the dispatcher.
	ThreadSleep time.Duration
	Logger      *zap.Logger
}

// DefaultOptions returns the options used by the CLI when no policy is configured.
func DefaultOptions() Options {
	return Options{
		MaxParallelism: 4,
		Retries:        contracts.DefaultRetries,
		ThreadSleep:    contracts.ThreadSleep,
	}
}

// TaskStatus is a point-in-time view of a registered task.
type TaskStatus struct {
	Name     contracts.TaskID    `json:"name"`
	State    contracts.TaskState `json:"state"`
	Priority contracts.Priority  `json:"priority"`
	Retries  int                 `json:"retries"`
	Observes contracts.TaskID    `json:"observes,omitempty"`
	Failure  string              `json:"failure,omitempty"`
}

// Scheduler dispatches registered tasks by priority, respecting dependency
// edges, with at most MaxParallelism task bodies running at once.
//
// A single dispatcher goroutine (Start) owns the ready queue and all state
// transitions. Append and Await may be called from running tasks.
type Scheduler struct {
	opts      Options
	logger    *zap.Logger
	coalescer *QueryCoalescer

	mu       sync.Mutex
	entries  []*entry
	byBase   map[*BaseTask]*entry
	incoming []*entry
	failed   []Task
	seq      uint64
	running  bool
	pool     *workerPool
	parked   map[uint64][]Task
	parkSeq  uint64

	wake chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts Options) *Scheduler {
	if opts.MaxParallelism <= 0 {
		opts.MaxParallelism = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.ThreadSleep <= 0 {
		opts.ThreadSleep = contracts.ThreadSleep
	}
	return &Scheduler{
		opts:      opts,
		logger:    logging.OrNop(opts.Logger).Named("scheduler"),
		coalescer: NewQueryCoalescer(),
		byBase:    make(map[*BaseTask]*entry),
		parked:    make(map[uint64][]Task),
		wake:      make(chan struct{}, 1),
	}
}

// Coalescer returns the coalescer used for Coalescable tasks.
func (s *Scheduler) Coalescer() *QueryCoalescer {
	return s.coalescer
}

// Append registers t. Coalescable tasks equivalent to an already registered
// primary become its observers and are never run.
// Appending the same task twice is a no-op.
func (s *Scheduler) Append(t Task) error {
	if t == nil || t.Base() == nil {
		return fmt.Errorf("append %T: %w", t, contracts.ErrTypeMismatch)
	}
	b := t.Base()

	s.mu.Lock()
	if _, exists := s.byBase[b]; exists {
		s.mu.Unlock()
		return nil
	}
	s.seq++
	e := &entry{
		task:        t,
		base:        b,
		seq:         s.seq,
		retriesLeft: s.opts.Retries,
		index:       -1,
	}
	var primary Coalescable
	if c, ok := t.(Coalescable); ok {
		primary, e.observer = s.coalescer.Append(c)
	}
	s.entries = append(s.entries, e)
	s.byBase[b] = e
	s.incoming = append(s.incoming, e)
	s.mu.Unlock()

	if e.observer {
		audit.Log(s.logger, "task.coalesced",
			zap.String("task", string(b.Name())),
			zap.String("primary", string(primary.Base().Name())))
	}

	s.signal()
	return nil
}

// Find returns the first registered task named name, or nil.
func (s *Scheduler) Find(name string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if string(e.base.Name()) == name {
			return e.task
		}
	}
	return nil
}

// Tasks returns the registered tasks in append order.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.task
	}
	return out
}

// Failed returns the permanently failed tasks in the order they failed.
func (s *Scheduler) Failed() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.failed))
	copy(out, s.failed)
	return out
}

// Snapshot returns the status of every registered task.
func (s *Scheduler) Snapshot() []TaskStatus {
	tasks := s.Tasks()
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		b := t.Base()
		st := TaskStatus{
			Name:     b.Name(),
			State:    b.State(),
			Priority: b.Priority(),
			Retries:  b.Retries(),
		}
		if p := b.Observing(); p != nil {
			st.Observes = p.Base().Name()
		}
		if err := b.Failure(); err != nil {
			st.Failure = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Clear forgets every registered task. It fails if the scheduler is running.
func (s *Scheduler) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("clear while running: %w", contracts.ErrInvalidInput)
	}
	s.entries = nil
	s.byBase = make(map[*BaseTask]*entry)
	s.incoming = nil
	s.failed = nil
	s.seq = 0
	s.coalescer.Reset()
	return nil
}

// Await blocks until every task in tasks is final. It must be called from
// inside a running task's Run; while waiting, the caller's worker slot is
// available to other tasks. It returns the joined failures of tasks.
func (s *Scheduler) Await(ctx context.Context, tasks ...Task) error {
	id := s.park(tasks)
	defer s.unpark(id)

	var errs []error
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if err := t.Base().Join(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			errs = append(errs, fmt.Errorf("task %s: %w", t.Base().Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) park(tasks []Task) uint64 {
	s.mu.Lock()
	s.parkSeq++
	id := s.parkSeq
	s.parked[id] = tasks
	if s.pool != nil {
		s.pool.parked.Add(1)
	}
	s.mu.Unlock()
	s.signal()
	return id
}

func (s *Scheduler) unpark(id uint64) {
	s.mu.Lock()
	if _, ok := s.parked[id]; ok {
		delete(s.parked, id)
		if s.pool != nil {
			s.pool.parked.Add(-1)
		}
	}
	s.mu.Unlock()
}

// parkedOnPendingWork reports whether every parked worker waits on at
// least one task that is not yet final.
func (s *Scheduler) parkedOnPendingWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tasks := range s.parked {
		waiting := false
		for _, t := range tasks {
			if t != nil && !t.Base().Final() {
				waiting = true
				break
			}
		}
		if !waiting {
			return false
		}
	}
	return true
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) takeIncoming() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.incoming
	s.incoming = nil
	return in
}

func (s *Scheduler) isRegistered(b *BaseTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byBase[b]
	return ok
}

// Start runs the dispatcher until every registered task is final.
//
// Individual task failures never make Start fail; they are exposed by
// Failed. Start returns an error when the dependency graph has a cycle,
// when ctx is cancelled, or when the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running: %w", contracts.ErrInvalidInput)
	}
	s.running = true
	pool := newWorkerPool(s.opts.MaxParallelism, s.opts.TaskTimeout)
	s.pool = pool
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.pool = nil
		s.mu.Unlock()
	}()

	if err := ValidateGraph(s.Tasks()); err != nil {
		for _, e := range s.takeIncoming() {
			s.fail(e, err)
		}
		return err
	}

	s.logger.Debug("scheduler started",
		zap.Int("parallelism", pool.size),
		zap.Int("retries", s.opts.Retries))

	d := &dispatcher{s: s, pool: pool, queue: newQueueManager()}
	return d.loop(ctx)
}

// dispatcher holds the per-Start state owned by the dispatcher goroutine.
type dispatcher struct {
	s         *Scheduler
	pool      *workerPool
	queue     *queueManager
	observers []*entry
}

func (d *dispatcher) loop(ctx context.Context) error {
	s := d.s
	for {
		if err := ctx.Err(); err != nil {
			d.shutdown(err)
			return err
		}

		progress := d.admit()

		for drained := false; !drained; {
			select {
			case o := <-d.pool.outcomes:
				d.reap(o, true)
				progress = true
			default:
				drained = true
			}
		}

		if d.deliver() {
			progress = true
		}
		if d.dispatch(ctx) {
			progress = true
		}

		if d.queue.Len() == 0 && d.pool.inflight == 0 && len(d.observers) == 0 {
			s.mu.Lock()
			idle := len(s.incoming) == 0
			s.mu.Unlock()
			if idle {
				s.logger.Debug("scheduler finished", zap.Int("failed", len(s.Failed())))
				return nil
			}
			continue
		}
		if progress {
			continue
		}

		if d.pool.allParked() && s.parkedOnPendingWork() {
			d.breakDeadlock()
			continue
		}

		select {
		case o := <-d.pool.outcomes:
			d.reap(o, true)
		case <-s.wake:
		case <-time.After(s.opts.ThreadSleep):
		case <-ctx.Done():
		}
	}
}

// admit moves newly appended tasks into the queue or the observer list.
func (d *dispatcher) admit() bool {
	in := d.s.takeIncoming()
	for _, e := range in {
		if e.base.Final() {
			continue
		}
		if e.observer {
			d.observers = append(d.observers, e)
			continue
		}
		d.queue.Enqueue(e)
	}
	return len(in) > 0
}

// reap records a finished task body. Failed tasks are re-queued while
// their retry budget lasts if retry is allowed.
func (d *dispatcher) reap(o outcome, allowRetry bool) {
	s := d.s
	d.pool.inflight--
	e := o.entry
	name := string(e.base.Name())

	if o.err == nil {
		if err := e.base.transition(contracts.TaskComplete, nil); err != nil {
			s.logger.Warn("complete transition rejected", zap.String("task", name), zap.Error(err))
		}
		e.base.finalize()
		audit.Log(s.logger, "task.complete", zap.String("task", name))
		return
	}

	if err := e.base.transition(contracts.TaskFailed, o.err); err != nil {
		s.logger.Warn("failed transition rejected", zap.String("task", name), zap.Error(err))
	}

	if allowRetry && e.retriesLeft > 0 && contracts.Retryable(o.err) && upstreamSucceeded(e.base) {
		e.retriesLeft--
		if err := e.base.transition(contracts.TaskPending, nil); err == nil {
			audit.Log(s.logger, "task.retry",
				zap.String("task", name),
				zap.Int("retries_left", e.retriesLeft),
				zap.Error(o.err))
			d.queue.Enqueue(e)
			return
		}
	}

	d.finalizeFailed(e)
}

// upstreamSucceeded reports whether a failed task may be re-derived: it has
// no upstream, or at least one upstream completed.
func upstreamSucceeded(b *BaseTask) bool {
	deps := b.Dependencies()
	if len(deps) == 0 {
		return true
	}
	for _, dep := range deps {
		if dep.Base().State() == contracts.TaskComplete {
			return true
		}
	}
	return false
}

// deliver hands finished primaries' results to their observers.
func (d *dispatcher) deliver() bool {
	s := d.s
	progress := false
	pending := d.observers[:0]
	for _, e := range d.observers {
		primary := e.base.Observing()
		if primary == nil || !primary.Base().Final() {
			pending = append(pending, e)
			continue
		}
		progress = true
		name := string(e.base.Name())

		if perr := primary.Base().Failure(); perr != nil {
			s.fail(e, fmt.Errorf("observed task %s: %w: %w", primary.Base().Name(), contracts.ErrThreadFailed, perr))
			continue
		}

		p, pok := primary.(Coalescable)
		o, ook := e.task.(Coalescable)
		if !pok || !ook {
			s.fail(e, fmt.Errorf("observer %s: %w", name, contracts.ErrTypeMismatch))
			continue
		}
		if err := p.Notify(o); err != nil {
			s.fail(e, fmt.Errorf("notify %s: %w", name, err))
			continue
		}
		if err := e.base.transition(contracts.TaskComplete, nil); err != nil {
			s.logger.Warn("observer transition rejected", zap.String("task", name), zap.Error(err))
		}
		e.base.finalize()
		audit.Log(s.logger, "task.notified",
			zap.String("task", name),
			zap.String("primary", string(primary.Base().Name())))
	}
	d.observers = pending
	return progress
}

type depStatus int

const (
	depsWaiting depStatus = iota
	depsComplete
	depsFailed
)

func dependencyStatus(b *BaseTask) (depStatus, Task) {
	status := depsComplete
	for _, dep := range b.Dependencies() {
		db := dep.Base()
		if db.permanentlyFailed() {
			return depsFailed, dep
		}
		if db.State() != contracts.TaskComplete {
			status = depsWaiting
		}
	}
	return status, nil
}

// dispatch starts the highest-priority runnable tasks while slots are free.
func (d *dispatcher) dispatch(ctx context.Context) bool {
	s := d.s
	progress := false
	var waiting []*entry

	for d.pool.free() > 0 {
		e, ok := d.queue.Dequeue()
		if !ok {
			break
		}
		status, dep := dependencyStatus(e.base)
		switch status {
		case depsFailed:
			s.fail(e, fmt.Errorf("task %s depends on %s: %w: %w",
				e.base.Name(), dep.Base().Name(), contracts.ErrDependencyFailed, dep.Base().Failure()))
			progress = true
		case depsWaiting:
			waiting = append(waiting, e)
		case depsComplete:
			if err := e.base.transition(contracts.TaskReady, nil); err != nil {
				s.logger.Warn("ready transition rejected", zap.String("task", string(e.base.Name())), zap.Error(err))
				continue
			}
			_ = e.base.transition(contracts.TaskRunning, nil)
			audit.Log(s.logger, "task.dispatch",
				zap.String("task", string(e.base.Name())),
				zap.Int("priority", int(e.base.Priority())))
			d.pool.dispatch(ctx, e)
			progress = true
		}
	}

	for _, e := range waiting {
		d.queue.Enqueue(e)
	}
	return progress
}

// breakDeadlock fails every queued task and every observer whose primary
// can never finish.
func (d *dispatcher) breakDeadlock() {
	s := d.s
	stuck := d.queue.Drain()
	s.logger.Warn("no task can make progress", zap.Int("stuck", len(stuck)))
	for _, e := range stuck {
		if dep := unregisteredDependency(s, e.base); dep != nil {
			s.fail(e, fmt.Errorf("task %s depends on %s: %w", e.base.Name(), dep.Base().Name(), contracts.ErrDepNotFound))
			continue
		}
		s.fail(e, fmt.Errorf("task %s: %w", e.base.Name(), contracts.ErrDeadlock))
	}
	if len(stuck) == 0 {
		for _, e := range d.observers {
			s.fail(e, fmt.Errorf("task %s: %w", e.base.Name(), contracts.ErrDeadlock))
		}
		d.observers = nil
	}
}

func unregisteredDependency(s *Scheduler, b *BaseTask) Task {
	for _, dep := range b.Dependencies() {
		if !dep.Base().Final() && !s.isRegistered(dep.Base()) {
			return dep
		}
	}
	return nil
}

// shutdown fails queued work with cause and waits for running bodies.
func (d *dispatcher) shutdown(cause error) {
	s := d.s
	s.logger.Info("scheduler cancelled", zap.Error(cause), zap.Int("inflight", d.pool.inflight))

	for _, e := range d.queue.Drain() {
		s.fail(e, cause)
	}
	for d.pool.inflight > 0 {
		d.reap(<-d.pool.outcomes, false)
		d.admit()
		for _, e := range d.queue.Drain() {
			s.fail(e, cause)
		}
	}
	d.admit()
	for _, e := range d.queue.Drain() {
		s.fail(e, cause)
	}
	d.deliver()
	for _, e := range d.observers {
		s.fail(e, cause)
	}
	d.observers = nil
}

func (d *dispatcher) finalizeFailed(e *entry) {
	s := d.s
	e.base.finalize()
	s.mu.Lock()
	s.failed = append(s.failed, e.task)
	s.mu.Unlock()
	audit.Log(s.logger, "task.failed",
		zap.String("task", string(e.base.Name())),
		zap.Error(e.base.Failure()))
}

// fail moves a task that never ran (or an observer) to failed and final.
func (s *Scheduler) fail(e *entry, cause error) {
	if err := e.base.transition(contracts.TaskFailed, cause); err != nil {
		s.logger.Warn("failed transition rejected", zap.String("task", string(e.base.Name())), zap.Error(err))
	}
	e.base.finalize()
	s.mu.Lock()
	s.failed = append(s.failed, e.task)
	s.mu.Unlock()
	audit.Log(s.logger, "task.failed",
		zap.String("task", string(e.base.Name())),
		zap.Error(cause))
}
