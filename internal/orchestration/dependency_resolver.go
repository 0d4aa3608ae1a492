package orchestration

import (
	"fmt"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// dfs colours
const (
	white = iota
	gray
	black
)

// ValidateGraph checks the dependency edges of tasks for cycles.
//
// The implementation uses depth-first search with colour marking:
// white (unvisited), gray (visiting), black (visited). A back edge to a gray
// node is a cycle. Dependencies outside tasks are followed as well, so a
// cycle through an unregistered task is still reported.
//
// Returns an error wrapping ErrDAGCycle naming the task the cycle was found from.
func ValidateGraph(tasks []Task) error {
	colors := make(map[*BaseTask]int, len(tasks))

	for _, t := range tasks {
		if t == nil {
			return contracts.ErrInvalidInput
		}
		if colors[t.Base()] == white {
			if hasCycle(t, colors) {
				return fmt.Errorf("starting from task %s: %w", t.Base().Name(), contracts.ErrDAGCycle)
			}
		}
	}
	return nil
}

// hasCycle performs DFS along dependency edges.
func hasCycle(t Task, colors map[*BaseTask]int) bool {
	b := t.Base()
	colors[b] = gray

	for _, dep := range b.Dependencies() {
		switch colors[dep.Base()] {
		case gray:
			return true
		case white:
			if hasCycle(dep, colors) {
				return true
			}
		}
	}

	colors[b] = black
	return false
}
