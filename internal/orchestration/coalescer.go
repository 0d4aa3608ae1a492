package orchestration

import "sync"

// Coalescable is a Task whose work can be shared between equivalent tasks.
// Two tasks with equal CoalesceKey are equivalent: only the first one
// registered (the primary) runs, the others observe it.
type Coalescable interface {
	Task

	// CoalesceKey identifies equivalent work.
	CoalesceKey() string

	// Notify copies the primary's results into observer. It is called by the
	// scheduler once the primary is complete. Observers must receive
	// independent copies.
	Notify(observer Coalescable) error
}

// QueryCoalescer deduplicates equivalent tasks.
// Thread-safe for concurrent access using sync.Mutex.
type QueryCoalescer struct {
	mu        sync.Mutex
	primaries map[string]Coalescable
}

// NewQueryCoalescer creates an empty coalescer.
func NewQueryCoalescer() *QueryCoalescer {
	return &QueryCoalescer{primaries: make(map[string]Coalescable)}
}

// Append records t. If an equivalent primary exists, t is added to its
// observers, marked as observing, and the primary is returned with true.
// Otherwise t becomes the primary for its key and (t, false) is returned.
func (c *QueryCoalescer) Append(t Coalescable) (Coalescable, bool) {
	key := t.CoalesceKey()

	c.mu.Lock()
	defer c.mu.Unlock()

	primary, exists := c.primaries[key]
	if !exists || primary == t {
		c.primaries[key] = t
		return t, false
	}

	primary.Base().addObserver(t)
	t.Base().observe(primary)
	return primary, true
}

// Primary returns the primary registered for key.
func (c *QueryCoalescer) Primary(key string) (Coalescable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.primaries[key]
	return p, ok
}

// Len returns the number of distinct keys.
func (c *QueryCoalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.primaries)
}

// Reset forgets every primary.
func (c *QueryCoalescer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primaries = make(map[string]Coalescable)
}
