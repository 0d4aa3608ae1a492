package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// API-specific errors.
var (
	// ErrBuildExists is returned when a build is submitted with an ID already in use.
	ErrBuildExists = errors.New("build already exists")

	// ErrBuildRunning is returned when the document of an unfinished build is requested.
	ErrBuildRunning = errors.New("build still running")

	// ErrCommandsDisabled rejects configurations that would run shell commands.
	ErrCommandsDisabled = errors.New("shell commands are disabled on this server")
)

// ErrorCode represents an API error code.
type ErrorCode string

// Error codes for API responses.
const (
	CodeInvalidInput    ErrorCode = "invalid_input"
	CodeInvalidConfig   ErrorCode = "invalid_config"
	CodeDAGCycle        ErrorCode = "dag_cycle"
	CodeDepNotFound     ErrorCode = "dep_not_found"
	CodeBuildNotFound   ErrorCode = "build_not_found"
	CodeBuildExists     ErrorCode = "build_exists"
	CodeBuildCompleted  ErrorCode = "build_completed"
	CodeBuildRunning    ErrorCode = "build_running"
	CodeBuildFailed     ErrorCode = "build_failed"
	CodeForbidden       ErrorCode = "forbidden"
	CodeSourceFailure   ErrorCode = "source_failure"
	CodeCancelled       ErrorCode = "cancelled"
	CodeTimeout         ErrorCode = "timeout"
	CodeInternalError   ErrorCode = "internal_error"
	CodeDeadlock        ErrorCode = "deadlock"
	CodeTaskFailed      ErrorCode = "task_failed"
	CodeNotDocumentable ErrorCode = "not_documentable"
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	StatusCode int
	Code       ErrorCode
	Err        error
}

func (e *HTTPError) Error() string {
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// MapError maps a domain error to an HTTPError.
func MapError(err error) *HTTPError {
	if err == nil {
		return nil
	}

	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, contracts.ErrInvalidInput), errors.As(err, &syntaxErr):
		return &HTTPError{http.StatusBadRequest, CodeInvalidInput, err}

	case errors.Is(err, ErrCommandsDisabled):
		return &HTTPError{http.StatusForbidden, CodeForbidden, err}

	case errors.Is(err, contracts.ErrDAGCycle):
		return &HTTPError{http.StatusUnprocessableEntity, CodeDAGCycle, err}

	case errors.Is(err, contracts.ErrDepNotFound):
		return &HTTPError{http.StatusUnprocessableEntity, CodeDepNotFound, err}

	// Configuration and construction errors reject the submitted document.
	case errors.Is(err, contracts.ErrConfiguration),
		errors.Is(err, contracts.ErrMissingKey),
		errors.Is(err, contracts.ErrInvalidClass),
		errors.Is(err, contracts.ErrInvalidModule),
		errors.Is(err, contracts.ErrArgumentMismatch),
		errors.Is(err, contracts.ErrArgumentValidation),
		errors.Is(err, contracts.ErrTypeMismatch),
		errors.Is(err, contracts.ErrInvalidCollation):
		return &HTTPError{http.StatusUnprocessableEntity, CodeInvalidConfig, err}

	case errors.Is(err, contracts.ErrRunNotFound):
		return &HTTPError{http.StatusNotFound, CodeBuildNotFound, err}

	case errors.Is(err, ErrBuildExists):
		return &HTTPError{http.StatusConflict, CodeBuildExists, err}

	case errors.Is(err, contracts.ErrRunCompleted):
		return &HTTPError{http.StatusConflict, CodeBuildCompleted, err}

	case errors.Is(err, ErrBuildRunning):
		return &HTTPError{http.StatusConflict, CodeBuildRunning, err}

	case errors.Is(err, contracts.ErrRunFailed):
		return &HTTPError{http.StatusInternalServerError, CodeBuildFailed, err}

	case errors.Is(err, contracts.ErrConnectionFailure),
		errors.Is(err, contracts.ErrQueryRejected):
		return &HTTPError{http.StatusBadGateway, CodeSourceFailure, err}

	case errors.Is(err, contracts.ErrDeadlock):
		return &HTTPError{http.StatusInternalServerError, CodeDeadlock, err}

	case errors.Is(err, contracts.ErrThreadFailed):
		return &HTTPError{http.StatusInternalServerError, CodeTaskFailed, err}

	case errors.Is(err, context.Canceled):
		// 499: nginx convention for "client closed request"
		return &HTTPError{499, CodeCancelled, err}

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, contracts.ErrTaskTimeout):
		return &HTTPError{http.StatusGatewayTimeout, CodeTimeout, err}

	case errors.Is(err, contracts.ErrInvalidCallback):
		return &HTTPError{http.StatusNotImplemented, CodeNotDocumentable, err}

	default:
		return &HTTPError{http.StatusInternalServerError, CodeInternalError, err}
	}
}

// WriteError writes an error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, err error) {
	httpErr := MapError(err)
	if httpErr == nil {
		return
	}

	resp := ErrorDTO{
		Code:    string(httpErr.Code),
		Message: httpErr.Error(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.StatusCode)
	writeJSON(w, resp)
}
