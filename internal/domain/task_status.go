package domain

// TaskStatus represents the current state of an upload Task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusRetrying  TaskStatus = "retrying"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:    {TaskStatusActive, TaskStatusCancelled},
	TaskStatusActive:    {TaskStatusCompleted, TaskStatusRetrying, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusRetrying:  {TaskStatusQueued, TaskStatusCancelled},
	TaskStatusFailed:    {TaskStatusQueued},
	TaskStatusCancelled: {TaskStatusQueued},
}

// IsTerminal reports whether no automatic transition leaves this status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsPending reports whether the task still counts toward overall progress.
func (s TaskStatus) IsPending() bool {
	return s == TaskStatusQueued || s == TaskStatusActive || s == TaskStatusRetrying
}

// IsPersisted reports whether a task in this status belongs in the durable snapshot.
func (s TaskStatus) IsPersisted() bool {
	return s.IsPending() || s == TaskStatusFailed
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusActive, TaskStatusRetrying,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}
