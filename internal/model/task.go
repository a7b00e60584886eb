package model

import (
	"fmt"
	"time"
)

// Priority levels for tasks
const (
	PriorityUrgent = 1 // Red - Urgent
	PriorityHigh   = 2 // Orange - High
	PriorityMedium = 3 // Yellow - Medium
	PriorityLow    = 4 // Blue - Low (default)
)

// Task statuses
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Task represents a unit of work, optionally tied to a CRM lead
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	LeadID      string     `json:"lead_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTask creates a new task with defaults
func NewTask(id, title string) Task {
	now := time.Now().UTC()
	return Task{
		ID:        id,
		Title:     title,
		Status:    StatusTodo,
		Priority:  PriorityLow,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the fields the host app relies on
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("task title is required")
	}
	switch t.Status {
	case StatusTodo, StatusInProgress, StatusDone:
	default:
		return fmt.Errorf("invalid task status %q", t.Status)
	}
	if t.Priority < PriorityUrgent || t.Priority > PriorityLow {
		return fmt.Errorf("priority must be between %d and %d", PriorityUrgent, PriorityLow)
	}
	return nil
}

// IsDone reports whether the task is finished
func (t *Task) IsDone() bool {
	return t.Status == StatusDone
}

// IsDue returns true if the task is due today or overdue
func (t *Task) IsDue() bool {
	if t.DueDate == nil {
		return false
	}
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return t.DueDate.Before(today.Add(24 * time.Hour))
}

// IsOverdue returns true if the task is past its due date
func (t *Task) IsOverdue() bool {
	if t.DueDate == nil {
		return false
	}
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return t.DueDate.Before(today)
}

// ToRecord converts the task to its synced form
func (t Task) ToRecord() Record {
	return toRecord(t)
}

// TaskFromRecord decodes a cached task record
func TaskFromRecord(r Record) (Task, error) {
	var t Task
	if err := fromRecord(r, &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task %s: %w", r.ID(), err)
	}
	return t, nil
}
