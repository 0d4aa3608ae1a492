// Package contracts defines the identifiers, states and error taxonomy shared
// by the extraction engine packages.
package contracts

import "time"

// TaskID uniquely identifies a task within a scheduler.
type TaskID string

// BuildID uniquely identifies a report build.
type BuildID string

// Priority orders ready tasks; larger values are dispatched sooner.
type Priority int

// Default priorities. Loaders run before filters, filters before renderers.
const (
	PriorityRender Priority = 100
	PriorityFilter Priority = 1000
	PriorityLoader Priority = 5000

	// PriorityCeiling is the highest priority a filter may request.
	PriorityCeiling Priority = 4000
)

// ThreadSleep is the cooperative yield interval for polling loops.
const ThreadSleep = 10 * time.Millisecond

// DefaultRetries is the per-task retry budget when none is configured.
const DefaultRetries = 2
