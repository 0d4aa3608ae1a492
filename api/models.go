// Package api provides the HTTP API for submitting and following report
// builds.
package api

import (
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
)

// ============================================================================
// Response DTOs
// ============================================================================

// BuildResponse is the response body for build-related endpoints.
type BuildResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title,omitempty"`
	State     string          `json:"state"`
	Path      string          `json:"path,omitempty"`
	Tasks     []TaskStatusDTO `json:"tasks,omitempty"`
	Failures  []string        `json:"failures,omitempty"`
	Error     *ErrorDTO       `json:"error,omitempty"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at,omitempty"`
}

// TaskStatusDTO represents the status of a single task.
type TaskStatusDTO struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Priority int    `json:"priority"`
	Retries  int    `json:"retries,omitempty"`
	Observes string `json:"observes,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorDTO represents an error in the response.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ============================================================================
// Converters
// ============================================================================

// TaskToDTO converts a scheduler task status.
func TaskToDTO(st orchestration.TaskStatus) TaskStatusDTO {
	return TaskStatusDTO{
		Name:     string(st.Name),
		State:    st.State.String(),
		Priority: int(st.Priority),
		Retries:  st.Retries,
		Observes: string(st.Observes),
		Error:    st.Failure,
	}
}

// ErrorToResponse converts an error to ErrorDTO with appropriate code.
func ErrorToResponse(err error, code string) *ErrorDTO {
	return &ErrorDTO{
		Code:    code,
		Message: err.Error(),
	}
}

// SnapshotToResponse converts a BuildSnapshot to BuildResponse.
func SnapshotToResponse(snap *BuildSnapshot) *BuildResponse {
	resp := &BuildResponse{
		ID:        string(snap.ID),
		Title:     snap.Title,
		State:     snap.APIState,
		Path:      snap.Path,
		Failures:  snap.Failures,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}

	if len(snap.Tasks) > 0 {
		resp.Tasks = make([]TaskStatusDTO, len(snap.Tasks))
		for i, st := range snap.Tasks {
			resp.Tasks[i] = TaskToDTO(st)
		}
	}

	if snap.Error != nil {
		httpErr := MapError(snap.Error)
		resp.Error = ErrorToResponse(snap.Error, string(httpErr.Code))
	}

	return resp
}
