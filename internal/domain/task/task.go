package task

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrSubtaskNotFound = errors.New("subtask not found")
	ErrAssigneeMissing = errors.New("assignee not found")
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	ProjectName string     `json:"projectName,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	AssignedTo  *string    `json:"assignedTo,omitempty"`
	AssignedBy  string     `json:"assignedBy"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Subtasks    []Subtask  `json:"subtasks,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Subtask struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	Title       string    `json:"title"`
	IsCompleted bool      `json:"isCompleted"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreateRequest struct {
	Title           string     `json:"title" binding:"required,min=1,max=200"`
	Description     string     `json:"description" binding:"omitempty,max=5000"`
	Status          Status     `json:"status" binding:"omitempty,taskstatus"`
	Priority        Priority   `json:"priority" binding:"omitempty,priority"`
	AssignedTo      *string    `json:"assignedTo" binding:"omitempty,uuid"`
	AssignedToEmail string     `json:"assignedToEmail" binding:"omitempty,email"`
	Deadline        *time.Time `json:"deadline"`
}

// UpdateRequest is a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Title       *string    `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string    `json:"description" binding:"omitempty,max=5000"`
	Status      *Status    `json:"status" binding:"omitempty,taskstatus"`
	Priority    *Priority  `json:"priority" binding:"omitempty,priority"`
	Deadline    *time.Time `json:"deadline"`
}

// AssignRequest with a nil AssignedTo unassigns the task.
type AssignRequest struct {
	AssignedTo *string `json:"assignedTo" binding:"omitempty,uuid"`
}

type CreateSubtaskRequest struct {
	Title string `json:"title" binding:"required,min=1,max=200"`
}

type UpdateSubtaskRequest struct {
	Title       *string `json:"title" binding:"omitempty,min=1,max=200"`
	IsCompleted *bool   `json:"isCompleted"`
}

// Stats is the per-project distribution served by the analytics endpoint.
type Stats struct {
	StatusDistribution   map[Status]int   `json:"statusDistribution"`
	PriorityDistribution map[Priority]int `json:"priorityDistribution"`
	Total                int              `json:"total"`
}

// Defaults fills the zero status and priority.
func (r *CreateRequest) Defaults() {
	if r.Status == "" {
		r.Status = StatusTodo
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
}
