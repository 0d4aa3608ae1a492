package contracts

import (
	"context"
	"errors"
)

// Sentinel errors for the extraction engine.
var (
	// Configuration errors abort the whole run.
	ErrConfiguration = errors.New("configuration error")
	ErrMissingKey    = errors.New("configuration key missing")
	ErrInvalidClass  = errors.New("invalid class name")
	ErrInvalidModule = errors.New("invalid module name")

	// Task construction errors prevent the task from being registered.
	ErrArgumentMismatch   = errors.New("argument mismatch")
	ErrArgumentValidation = errors.New("argument validation failed")
	ErrTypeMismatch       = errors.New("type mismatch")

	// Data source errors are captured as the filter's failure and are retryable.
	ErrConnectionFailure = errors.New("connection failure")
	ErrQueryRejected     = errors.New("query rejected")
	ErrNoDataSource      = errors.New("no data source attached")

	// Task errors
	ErrThreadFailed     = errors.New("task failed")
	ErrDependencyFailed = errors.New("dependency failed")
	ErrTaskTimeout      = errors.New("task execution timeout")
	ErrInvalidCallback  = errors.New("renderer callback not set")
	ErrDeadlock         = errors.New("no task can make progress")

	// Result errors
	ErrInvalidCollation = errors.New("invalid collation method")
	ErrInvalidFilename  = errors.New("invalid filename")

	// Graph errors
	ErrDAGCycle    = errors.New("cycle detected in task dependencies")
	ErrDepNotFound = errors.New("dependency task not registered")

	// Run errors
	ErrRunFailed    = errors.New("run failed")
	ErrRunNotFound  = errors.New("run not found")
	ErrRunCompleted = errors.New("run already completed")

	// Input validation errors
	ErrInvalidInput = errors.New("invalid input: nil or malformed")
)

// Retryable reports whether a task failure may be retried by the scheduler.
// Construction, callback and graph errors are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrArgumentMismatch),
		errors.Is(err, ErrArgumentValidation),
		errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrInvalidCallback),
		errors.Is(err, ErrInvalidCollation),
		errors.Is(err, ErrNoDataSource),
		errors.Is(err, ErrDependencyFailed),
		errors.Is(err, ErrDAGCycle),
		errors.Is(err, ErrDepNotFound),
		errors.Is(err, ErrDeadlock),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
