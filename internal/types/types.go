package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is a calendar event as seen by the intelligence layer
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	Status      string    `json:"status,omitempty"`     // confirmed, tentative, cancelled
	ProjectID   string    `json:"project_id,omitempty"` // optional grouping for lifecycle tracking
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Text returns the searchable text of the event
func (e *Event) Text() string {
	return strings.TrimSpace(strings.Join([]string{e.Summary, e.Description, e.Location}, " "))
}

// HasTime reports whether the event carries a usable start time
func (e *Event) HasTime() bool {
	return !e.Start.IsZero()
}

// Task is an action item as seen by the intelligence layer
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Location    string     `json:"location,omitempty"`
	Due         *time.Time `json:"due,omitempty"`
	Status      string     `json:"status"`             // open, completed, canceled
	Priority    string     `json:"priority,omitempty"` // high, medium, low
	ProjectID   string     `json:"project_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// Text returns the searchable text of the task
func (t *Task) Text() string {
	return strings.TrimSpace(strings.Join([]string{t.Title, t.Notes, t.Location}, " "))
}

// IsCompleted reports whether the task is done
func (t *Task) IsCompleted() bool {
	return t.Status == "completed"
}

// IsOverdue reports whether an open task is past its due date
func (t *Task) IsOverdue(now time.Time) bool {
	return !t.IsCompleted() && t.Status != "canceled" && t.Due != nil && t.Due.Before(now)
}

// Knowledge is a point-in-time snapshot of a user's events and tasks
type Knowledge struct {
	UserID    string            `json:"user_id"`
	Events    []Event           `json:"events"`
	Tasks     []Task            `json:"tasks"`
	Projects  map[string]string `json:"projects,omitempty"` // project ID -> title, when known
	FetchedAt time.Time         `json:"fetched_at"`
}

// SourceKind identifies which side of a correlation a record belongs to
type SourceKind string

const (
	SourceEvent SourceKind = "event"
	SourceTask  SourceKind = "task"
)

// Recipient names the handler a delegation is addressed to
type Recipient string

const (
	RecipientSelf     Recipient = "self"
	RecipientCalendar Recipient = "calendar"
	RecipientTask     Recipient = "task"
)

// Valid reports whether r is one of the known recipients
func (r Recipient) Valid() bool {
	switch r {
	case RecipientSelf, RecipientCalendar, RecipientTask:
		return true
	}
	return false
}

// Agent names reported back to callers
const (
	AgentCalendar    = "calendar_agent"
	AgentTask        = "task_agent"
	AgentCoordinator = "coordinator"
	AgentFallback    = "fallback"
)

// Descriptor is a structured instruction naming which handler should act
type Descriptor struct {
	Recipient   Recipient `json:"recipient"`
	RequestType string    `json:"request_type"`
	Message     any       `json:"message"` // string or structured detail object
}

// MessageText serializes the descriptor message to a single string
func (d Descriptor) MessageText() string {
	switch m := d.Message.(type) {
	case nil:
		return ""
	case string:
		return m
	case fmt.Stringer:
		return m.String()
	default:
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Sprintf("%v", m)
		}
		return string(data)
	}
}

// Detail returns the structured message, or a map holding the text under "text"
func (d Descriptor) Detail() map[string]any {
	if m, ok := d.Message.(map[string]any); ok {
		return m
	}
	return map[string]any{"text": d.MessageText()}
}

// Turn is one message in a conversation
type Turn struct {
	Role        string    `json:"role"` // user, assistant
	Content     string    `json:"content"`
	Domain      Recipient `json:"domain,omitempty"`       // handler that served this turn, if any
	RequestType string    `json:"request_type,omitempty"` // request type that served this turn
	At          time.Time `json:"at"`
}

// ConversationContext is what the classifier sees besides the message
type ConversationContext struct {
	Turns []Turn            `json:"turns,omitempty"`
	Facts map[string]string `json:"facts,omitempty"` // long-lived user facts
}

// LastDomain returns the most recent calendar or task domain in the conversation
func (c ConversationContext) LastDomain() Recipient {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		switch c.Turns[i].Domain {
		case RecipientCalendar, RecipientTask:
			return c.Turns[i].Domain
		}
	}
	return ""
}

// ConfidenceLevel is a bucketed label derived from a numeric score
type ConfidenceLevel string

const (
	ConfidenceVeryLow ConfidenceLevel = "very-low"
	ConfidenceLow     ConfidenceLevel = "low"
	ConfidenceMedium  ConfidenceLevel = "medium"
	ConfidenceHigh    ConfidenceLevel = "high"
)

// LevelFor maps a score in [0,1] to its confidence bucket
func LevelFor(score float64) ConfidenceLevel {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.6:
		return ConfidenceMedium
	case score >= 0.3:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// Rank orders confidence levels so callers can compare them
func (l ConfidenceLevel) Rank() int {
	switch l {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// SameDay reports whether a and b fall on the same calendar day in a's location
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Clamp01 bounds a score to [0,1]
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
