package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/report"
)

// TaskSource reports the live status of a build's tasks. It is normally
// the build's scheduler Snapshot.
type TaskSource func() []orchestration.TaskStatus

// BuildEntry represents a build stored in the BuildStore.
type BuildEntry struct {
	mu sync.RWMutex // protects state, build, Error and UpdatedAt

	ID     contracts.BuildID
	Title  string
	Cancel context.CancelFunc
	Done   chan struct{} // closed when the build goroutine returns

	tasks TaskSource
	state contracts.RunState
	build *report.Build
	Error error

	Aborting  bool // true after Abort() is called, until the build finishes
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BuildStore provides thread-safe in-memory storage for builds.
type BuildStore struct {
	mu     sync.RWMutex
	builds map[contracts.BuildID]*BuildEntry
}

// NewBuildStore creates a new BuildStore.
func NewBuildStore() *BuildStore {
	return &BuildStore{
		builds: make(map[contracts.BuildID]*BuildEntry),
	}
}

// Create stores a pending build. Returns ErrBuildExists if the ID is taken.
func (s *BuildStore) Create(id contracts.BuildID, title string, tasks TaskSource, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.builds[id]; exists {
		return fmt.Errorf("build %s: %w", id, ErrBuildExists)
	}

	now := time.Now()
	s.builds[id] = &BuildEntry{
		ID:        id,
		Title:     title,
		Cancel:    cancel,
		Done:      make(chan struct{}),
		tasks:     tasks,
		state:     contracts.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get retrieves a build entry by ID.
func (s *BuildStore) Get(id contracts.BuildID) (*BuildEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.builds[id]
	return entry, exists
}

// BuildSnapshot is a thread-safe copy of build state for API responses.
type BuildSnapshot struct {
	ID        contracts.BuildID
	Title     string
	State     contracts.RunState
	APIState  string // "aborting" if abort was called but not finished
	Tasks     []orchestration.TaskStatus
	Path      string
	Failures  []string
	CreatedAt int64
	UpdatedAt int64
	Error     error
}

// GetSnapshot returns a thread-safe copy of build state.
func (s *BuildStore) GetSnapshot(id contracts.BuildID) (*BuildSnapshot, bool) {
	s.mu.RLock()
	entry, exists := s.builds[id]
	if !exists {
		s.mu.RUnlock()
		return nil, false
	}
	aborting := entry.Aborting
	done := isDone(entry)
	s.mu.RUnlock()

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	snap := &BuildSnapshot{
		ID:        entry.ID,
		Title:     entry.Title,
		State:     entry.state,
		APIState:  entry.state.String(),
		CreatedAt: entry.CreatedAt.UnixMilli(),
		UpdatedAt: entry.UpdatedAt.UnixMilli(),
		Error:     entry.Error,
	}
	if aborting && !done {
		snap.APIState = "aborting"
	}
	if b := entry.build; b != nil {
		snap.Tasks = b.Tasks
		snap.Path = b.Path
		for _, f := range b.Failures() {
			snap.Failures = append(snap.Failures, f.Error())
		}
	} else if entry.tasks != nil {
		snap.Tasks = entry.tasks()
	}
	return snap, true
}

// Build returns the finished build, or ErrBuildRunning while it runs.
func (s *BuildStore) Build(id contracts.BuildID) (*report.Build, error) {
	entry, exists := s.Get(id)
	if !exists {
		return nil, fmt.Errorf("build %s: %w", id, contracts.ErrRunNotFound)
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if entry.build == nil {
		if entry.Error != nil {
			return nil, entry.Error
		}
		return nil, fmt.Errorf("build %s: %w", id, ErrBuildRunning)
	}
	return entry.build, nil
}

// Abort cancels a running build. Returns:
// - ErrRunNotFound if the build doesn't exist
// - ErrRunCompleted if the build already finished
func (s *BuildStore) Abort(id contracts.BuildID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.builds[id]
	if !exists {
		return fmt.Errorf("build %s: %w", id, contracts.ErrRunNotFound)
	}
	if entry.Aborting {
		return nil // idempotent
	}
	if isDone(entry) {
		return fmt.Errorf("build %s: %w", id, contracts.ErrRunCompleted)
	}

	entry.Aborting = true
	entry.mu.Lock()
	entry.UpdatedAt = time.Now()
	entry.mu.Unlock()

	if entry.Cancel != nil {
		entry.Cancel()
	}
	return nil
}

// SetState updates the state of a build.
func (s *BuildStore) SetState(id contracts.BuildID, state contracts.RunState) {
	entry, exists := s.Get(id)
	if !exists {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.state = state
	entry.UpdatedAt = time.Now()
}

// MarkDone records the outcome of a build and closes its Done channel.
// A Run error makes the build failed, or aborted when it was cancelled;
// otherwise the build is failed when any non-optional task failed.
func (s *BuildStore) MarkDone(id contracts.BuildID, build *report.Build, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.builds[id]
	if !exists {
		return
	}

	state := contracts.RunCompleted
	switch {
	case errors.Is(err, context.Canceled):
		state = contracts.RunAborted
	case err != nil:
		state = contracts.RunFailed
	case build != nil && build.Err() != nil:
		state = contracts.RunFailed
	}

	entry.mu.Lock()
	entry.state = state
	entry.build = build
	entry.Error = err
	entry.UpdatedAt = time.Now()
	entry.mu.Unlock()

	if !isDone(entry) {
		close(entry.Done)
	}
}

// IsAborting returns true if Abort was called but the build hasn't finished yet.
func (s *BuildStore) IsAborting(id contracts.BuildID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.builds[id]
	if !exists {
		return false
	}
	return entry.Aborting && !isDone(entry)
}

func isDone(entry *BuildEntry) bool {
	select {
	case <-entry.Done:
		return true
	default:
		return false
	}
}

// CancelAll cancels all active builds. Used for graceful shutdown.
// Returns the number of builds that were cancelled.
func (s *BuildStore) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for _, entry := range s.builds {
		if entry.Aborting || isDone(entry) {
			continue
		}
		entry.Aborting = true
		if entry.Cancel != nil {
			entry.Cancel()
		}
		cancelled++
	}
	return cancelled
}

// WaitAll waits for all active builds to complete, with a timeout.
// Returns the number of builds still active after timeout.
func (s *BuildStore) WaitAll(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	for {
		s.mu.RLock()
		var pending []chan struct{}
		for _, entry := range s.builds {
			if !isDone(entry) {
				pending = append(pending, entry.Done)
			}
		}
		s.mu.RUnlock()

		if len(pending) == 0 {
			return 0
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return len(pending)
		}

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
			return len(pending)
		case <-pending[0]:
			timer.Stop()
		}
	}
}

// PruneCompleted removes finished builds older than the retention duration.
// Returns the number of removed builds.
func (s *BuildStore) PruneCompleted(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-retention)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.builds {
		if !isDone(entry) {
			continue
		}
		entry.mu.RLock()
		stale := entry.UpdatedAt.Before(cutoff)
		entry.mu.RUnlock()
		if stale {
			delete(s.builds, id)
			removed++
		}
	}
	return removed
}
