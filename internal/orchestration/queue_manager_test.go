package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/VladislavFirsov/reportflow/contracts"
)

func queueEntry(name string, priority contracts.Priority, seq uint64) *entry {
	b := NewBaseTask(name, priority)
	return &entry{task: newFnTask(name, priority, nil), base: b, seq: seq, index: -1}
}

func TestQueueManager_PriorityOrder(t *testing.T) {
	q := newQueueManager()
	q.Enqueue(queueEntry("low", 1, 1))
	q.Enqueue(queueEntry("high", 1100, 2))
	q.Enqueue(queueEntry("mid", 1000, 3))

	var got []string
	for _, e := range q.Drain() {
		got = append(got, string(e.base.Name()))
	}
	assert.Equal(t, []string{"high", "mid", "low"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueueManager_TiesKeepInsertionOrder(t *testing.T) {
	q := newQueueManager()
	for i, name := range []string{"a", "b", "c", "d"} {
		q.Enqueue(queueEntry(name, 10, uint64(i+1)))
	}

	var got []string
	for {
		e, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, string(e.base.Name()))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestQueueManager_DequeueEmpty(t *testing.T) {
	q := newQueueManager()
	e, ok := q.Dequeue()
	assert.False(t, ok)
	assert.Nil(t, e)
}
