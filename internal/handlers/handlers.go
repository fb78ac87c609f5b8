// Package handlers contains the calendar and task domain handlers the
// router delegates to, plus the knowledge-update notifications they emit.
package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/types"
)

// Result is what a handler operation returns to the router
type Result struct {
	Message string        `json:"message"`
	ID      string        `json:"id,omitempty"`
	Error   string        `json:"error,omitempty"` // set when the operation could not be carried out
	Event   *types.Event  `json:"event,omitempty"`
	Task    *types.Task   `json:"task,omitempty"`
	Events  []types.Event `json:"events,omitempty"`
	Tasks   []types.Task  `json:"tasks,omitempty"`
}

// Failed reports whether the handler declined or failed the request
func (r Result) Failed() bool {
	return r.Error != ""
}

// Operations are the request types every domain handler serves
type Operations interface {
	Create(ctx context.Context, userID string, detail map[string]any) (Result, error)
	Get(ctx context.Context, userID string, detail map[string]any) (Result, error)
	Update(ctx context.Context, userID string, detail map[string]any) (Result, error)
	Delete(ctx context.Context, userID string, detail map[string]any) (Result, error)
	Goals(ctx context.Context, userID string) (Result, error)
}

// CalendarHandler serves calendar requests
type CalendarHandler interface {
	Operations
	ListEvents(ctx context.Context, userID string, from, to time.Time) ([]types.Event, error)
}

// TaskHandler serves task requests
type TaskHandler interface {
	Operations
	Complete(ctx context.Context, userID string, detail map[string]any) (Result, error)
	ListTasks(ctx context.Context, userID string) ([]types.Task, error)
}

// EventStore is the per-user event storage a calendar handler runs on
type EventStore interface {
	CreateEvent(ctx context.Context, userID string, ev types.Event) (types.Event, error)
	GetEvent(ctx context.Context, userID, id string) (types.Event, error)
	ListEvents(ctx context.Context, userID string, from, to time.Time) ([]types.Event, error)
	UpdateEvent(ctx context.Context, userID string, ev types.Event) (types.Event, error)
	DeleteEvent(ctx context.Context, userID, id string) error
}

// Op is the kind of change a knowledge update describes
type Op string

const (
	OpCreated   Op = "created"
	OpUpdated   Op = "updated"
	OpCompleted Op = "completed"
	OpDeleted   Op = "deleted"
)

// KnowledgeUpdate describes a change to a user's events or tasks
type KnowledgeUpdate struct {
	Kind  types.SourceKind `json:"kind"`
	Op    Op               `json:"op"`
	ID    string           `json:"id"`
	Event *types.Event     `json:"event,omitempty"`
	Task  *types.Task      `json:"task,omitempty"`
}

// TopicKnowledgeUpdated is published after every successful mutation
var TopicKnowledgeUpdated = bus.NewTopic[KnowledgeUpdate]("knowledgeUpdated")

// detailString returns the first non-empty string value among keys
func detailString(detail map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := detail[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case fmt.Stringer:
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// requestText is the free text of a request, whichever key carried it
func requestText(detail map[string]any) string {
	return detailString(detail, "text", "message", "request", "query")
}

// lastTouched remembers the most recent item each user acted on so "it"
// can be resolved
type lastTouched struct {
	mu  sync.Mutex
	ids map[string]string
}

func (l *lastTouched) set(userID, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ids == nil {
		l.ids = make(map[string]string)
	}
	l.ids[userID] = id
}

func (l *lastTouched) get(userID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[userID]
}

func (l *lastTouched) forget(userID, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ids[userID] == id {
		delete(l.ids, userID)
	}
}

func formatWhen(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("Mon Jan 2 at 3:04 PM")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
