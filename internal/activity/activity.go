// Package activity is an append-only JSONL journal of what the assistant did
// for each user.
package activity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Type identifies what kind of activity this is
type Type string

const (
	TypeMessage    Type = "message"    // user message received
	TypeDelegation Type = "delegation" // routed to a handler
	TypeReply      Type = "reply"      // answered without delegating
	TypeSession    Type = "session"    // intelligence session started/stopped
	TypeInsights   Type = "insights"   // reconciliation produced new insights
	TypeError      Type = "error"
)

// Entry is a single journal line
type Entry struct {
	Timestamp   time.Time      `json:"ts"`
	Type        Type           `json:"type"`
	UserID      string         `json:"user_id"`
	Summary     string         `json:"summary"`
	Source      string         `json:"source,omitempty"` // transport that delivered the message
	Agent       string         `json:"agent,omitempty"`
	Recipient   string         `json:"recipient,omitempty"`
	RequestType string         `json:"request_type,omitempty"`
	Rule        string         `json:"rule,omitempty"` // correction rule that decided the route
	Data        map[string]any `json:"data,omitempty"`
}

// Log is the activity journal
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a journal under statePath/system
func New(statePath string) *Log {
	return &Log{
		path: filepath.Join(statePath, "system", "activity.jsonl"),
		now:  time.Now,
	}
}

// SetClock overrides the time source for entries without a timestamp
func (l *Log) SetClock(now func() time.Time) {
	l.now = now
}

// Path returns the journal file path
func (l *Log) Path() string {
	return l.path
}

// Log appends an entry
func (l *Log) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// LogMessage records an incoming user message
func (l *Log) LogMessage(userID, message, source string) error {
	return l.Log(Entry{
		Type:    TypeMessage,
		UserID:  userID,
		Summary: truncate(message, 200),
		Source:  source,
	})
}

// LogDelegation records a routed request and the reply it produced
func (l *Log) LogDelegation(userID, recipient, requestType, rule, agent, reply string, failed bool) error {
	return l.Log(Entry{
		Type:        TypeDelegation,
		UserID:      userID,
		Summary:     fmt.Sprintf("%s -> %s", requestType, agent),
		Agent:       agent,
		Recipient:   recipient,
		RequestType: requestType,
		Rule:        rule,
		Data: map[string]any{
			"reply":  truncate(reply, 500),
			"failed": failed,
		},
	})
}

// LogReply records a direct answer that needed no handler
func (l *Log) LogReply(userID, rule, reply string) error {
	return l.Log(Entry{
		Type:    TypeReply,
		UserID:  userID,
		Summary: truncate(reply, 200),
		Rule:    rule,
	})
}

// LogSession records an intelligence session starting or stopping
func (l *Log) LogSession(userID string, started bool) error {
	summary := "intelligence stopped"
	if started {
		summary = "intelligence started"
	}
	return l.Log(Entry{Type: TypeSession, UserID: userID, Summary: summary})
}

// LogInsights records a reconciliation result
func (l *Log) LogInsights(userID string, correlations, projects, recommendations int) error {
	return l.Log(Entry{
		Type:    TypeInsights,
		UserID:  userID,
		Summary: fmt.Sprintf("%d correlations, %d projects, %d recommendations", correlations, projects, recommendations),
		Data: map[string]any{
			"correlations":    correlations,
			"projects":        projects,
			"recommendations": recommendations,
		},
	})
}

// LogError records a failure
func (l *Log) LogError(userID, summary string, err error) error {
	return l.Log(Entry{
		Type:    TypeError,
		UserID:  userID,
		Summary: summary,
		Data:    map[string]any{"error": err.Error()},
	})
}

// Recent returns the last n entries
func (l *Log) Recent(n int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// ForUser returns up to limit of a user's entries, most recent first
func (l *Log) ForUser(userID string, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		if entries[i].UserID == userID {
			result = append(result, entries[i])
		}
	}
	return result, nil
}

// Search finds entries whose summary or data mention query, most recent first
func (l *Log) Search(query string, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := entries[i]
		if strings.Contains(strings.ToLower(e.Summary), query) {
			result = append(result, e)
			continue
		}
		if e.Data != nil {
			dataJSON, _ := json.Marshal(e.Data)
			if strings.Contains(strings.ToLower(string(dataJSON)), query) {
				result = append(result, e)
			}
		}
	}
	return result, nil
}

// Range returns entries in [start, end]
func (l *Log) Range(start, end time.Time) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var result []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			result = append(result, e)
		}
	}
	return result, nil
}

// LastMessageTime returns when the user last sent a message, or zero
func (l *Log) LastMessageTime(userID string) time.Time {
	entries, err := l.readAll()
	if err != nil {
		return time.Time{}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == TypeMessage && entries[i].UserID == userID {
			return entries[i].Timestamp
		}
	}
	return time.Time{}
}

func (l *Log) readAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // skip malformed lines
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
