package gtd

import (
	"time"

	"github.com/vthunder/budintel/internal/types"
)

// ChecklistItem represents a sub-task within a task
type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Task represents a user's GTD task
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Notes       string          `json:"notes,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	When        string          `json:"when"`               // inbox, today, anytime, someday, or YYYY-MM-DD
	Due         *time.Time      `json:"due,omitempty"`      // exact deadline when one was given
	Project     string          `json:"project,omitempty"`  // project ID
	Priority    string          `json:"priority,omitempty"` // high, medium, low
	Repeat      string          `json:"repeat,omitempty"`   // daily, weekly, monthly, etc.
	Status      string          `json:"status"`             // open, completed, canceled
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Order       float64         `json:"order"`
}

// DueDate resolves the task deadline from Due or a dated When
func (t *Task) DueDate(loc *time.Location) *time.Time {
	if t.Due != nil {
		d := *t.Due
		return &d
	}
	if datePattern.MatchString(t.When) {
		if d, err := time.ParseInLocation("2006-01-02", t.When, loc); err == nil {
			d = d.Add(17 * time.Hour) // end of the working day
			return &d
		}
	}
	return nil
}

// ToTask converts to the intelligence layer's task model
func (t *Task) ToTask(loc *time.Location) types.Task {
	if loc == nil {
		loc = time.UTC
	}
	return types.Task{
		ID:          t.ID,
		Title:       t.Title,
		Notes:       t.Notes,
		Due:         t.DueDate(loc),
		Status:      t.Status,
		Priority:    t.Priority,
		ProjectID:   t.Project,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Project represents a GTD project (multi-step outcome)
type Project struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Notes  string  `json:"notes,omitempty"`
	When   string  `json:"when"`   // anytime, someday, or YYYY-MM-DD
	Status string  `json:"status"` // open, completed, canceled
	Order  float64 `json:"order"`
}

// userData is one user's projects and tasks
type userData struct {
	Projects []Project `json:"projects"`
	Tasks    []Task    `json:"tasks"`
}

// storeData is the on-disk layout
type storeData struct {
	Users map[string]*userData `json:"users"`
}

// Filter narrows GetTasks results. Empty fields match everything.
type Filter struct {
	When    string
	Project string
	Status  string
}
