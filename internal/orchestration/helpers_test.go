package orchestration

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/VladislavFirsov/reportflow/contracts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fnTask runs fn as its body.
type fnTask struct {
	*BaseTask
	fn func(ctx context.Context) error
}

func newFnTask(name string, priority contracts.Priority, fn func(ctx context.Context) error) *fnTask {
	if fn == nil {
		fn = func(context.Context) error { return nil }
	}
	return &fnTask{BaseTask: NewBaseTask(name, priority), fn: fn}
}

func (t *fnTask) Run(ctx context.Context) error { return t.fn(ctx) }

// queryTask is a Coalescable task counting its executions.
type queryTask struct {
	*BaseTask
	key   string
	calls *atomic.Int32
	rows  []string
}

func newQueryTask(name, key string, calls *atomic.Int32) *queryTask {
	return &queryTask{BaseTask: NewBaseTask(name, contracts.PriorityFilter), key: key, calls: calls}
}

func (q *queryTask) CoalesceKey() string { return q.key }

func (q *queryTask) Run(context.Context) error {
	q.calls.Add(1)
	q.rows = []string{"R1", "R2"}
	return nil
}

func (q *queryTask) Notify(observer Coalescable) error {
	o, ok := observer.(*queryTask)
	if !ok {
		return contracts.ErrTypeMismatch
	}
	o.rows = slices.Clone(q.rows)
	return nil
}

// recorder collects task names in start order.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) task(name string, priority contracts.Priority) *fnTask {
	return newFnTask(name, priority, func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return nil
	})
}

func (r *recorder) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

func testOptions(parallelism, retries int) Options {
	return Options{MaxParallelism: parallelism, Retries: retries}
}
