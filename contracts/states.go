package contracts

// RunState represents the state of a report build.
type RunState int

const (
	RunPending RunState = iota
	RunRunning
	RunCompleted
	RunFailed
	RunAborted
)

func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TaskState represents the state of a task.
//
//	pending → ready → running → {complete | failed}
//	failed  → pending (retry)
type TaskState int

const (
	TaskPending TaskState = iota
	TaskReady
	TaskRunning
	TaskComplete
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskComplete:
		return "complete"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is complete or failed.
func (s TaskState) Terminal() bool {
	return s == TaskComplete || s == TaskFailed
}

// MarshalText renders the state name in JSON payloads.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalText renders the state name in JSON payloads.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
