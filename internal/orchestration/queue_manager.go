package orchestration

import "container/heap"

// entry is the scheduler's bookkeeping record for a registered task.
type entry struct {
	task        Task
	base        *BaseTask
	seq         uint64
	retriesLeft int
	observer    bool
	delivered   bool
	index       int
}

// readyQueue is a max-heap on priority; equal priorities keep insertion order.
type readyQueue []*entry

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	pi, pj := q[i].base.Priority(), q[j].base.Priority()
	if pi != pj {
		return pi > pj
	}
	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *readyQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// queueManager orders pending tasks by priority.
// It is owned by the dispatcher goroutine and is not safe for concurrent use.
type queueManager struct {
	items readyQueue
}

func newQueueManager() *queueManager {
	return &queueManager{items: make(readyQueue, 0)}
}

// Enqueue adds a task entry.
func (q *queueManager) Enqueue(e *entry) {
	heap.Push(&q.items, e)
}

// Dequeue removes and returns the highest-priority entry.
// Returns (nil, false) if the queue is empty.
func (q *queueManager) Dequeue() (*entry, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*entry), true
}

// Len returns the number of queued entries.
func (q *queueManager) Len() int {
	return len(q.items)
}

// Drain removes and returns every queued entry in priority order.
func (q *queueManager) Drain() []*entry {
	out := make([]*entry, 0, len(q.items))
	for {
		e, ok := q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}
