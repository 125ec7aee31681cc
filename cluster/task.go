package cluster

import (
	"fmt"
	"time"
)

// TaskMode selects between a full re-clustering pass and an incremental
// assignment pass.
type TaskMode uint8

const (
	TaskModeFullScan TaskMode = iota
	TaskModeIncremental
)

// String returns the name of the mode.
func (m TaskMode) String() string {
	switch m {
	case TaskModeFullScan:
		return "full-scan"
	case TaskModeIncremental:
		return "incremental"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// TaskStatus is the lifecycle state of a clustering task.
type TaskStatus uint8

const (
	TaskStatusPending TaskStatus = iota
	TaskStatusRunning
	TaskStatusCompleted
	TaskStatusFailed
	TaskStatusCancelled
)

// String returns the name of the status.
func (s TaskStatus) String() string {
	switch s {
	case TaskStatusPending:
		return "pending"
	case TaskStatusRunning:
		return "running"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusFailed:
		return "failed"
	case TaskStatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// active reports whether the status still blocks new task submissions.
func (s TaskStatus) active() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// Task is one clustering run over a fixed set of embedding ids.
type Task struct {
	ID        uint32
	Mode      TaskMode
	Status    TaskStatus
	PhotoIDs  []uint32
	Processed int

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Progress returns the completion percentage in [0, 100].
func (t *Task) Progress() float64 {
	if len(t.PhotoIDs) == 0 {
		return 0
	}
	return float64(t.Processed) / float64(len(t.PhotoIDs)) * 100
}

// TaskView is the read-only status snapshot returned to callers.
type TaskView struct {
	TaskID          uint32
	Mode            TaskMode
	Status          TaskStatus
	ProgressPercent float64
}

// Version records the assignment table state reached by one completed task.
type Version struct {
	Seq          uint64    `json:"seq"`
	TaskID       uint32    `json:"task_id"`
	ClusterCount int       `json:"cluster_count"`
	CreatedAt    time.Time `json:"created_at"`
}
