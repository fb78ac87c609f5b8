package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/correlate"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/types"
)

var (
	eventVerbRe   = regexp.MustCompile(`(?i)^\s*(please\s+)?(can you\s+)?(schedule|book|create|add|set\s+up|put|plan|arrange|make)\s+(me\s+)?(an?\s+|the\s+)?`)
	calendarTagRe = regexp.MustCompile(`(?i)\s*\b(to|on|in|into)\s+(my|the)\s+calendar\b`)
	eventRefRe    = regexp.MustCompile(`(?i)\b(move|change|update|reschedule|edit|shift|push|delete|cancel|remove|it|that|this|the|event|meeting|appointment|please)\b`)
)

// lookahead bounds how far ahead get/update/delete search by default
const lookahead = 30 * 24 * time.Hour

// Calendar is the CalendarHandler backed by an EventStore
type Calendar struct {
	store EventStore
	bus   *bus.Bus
	loc   *time.Location
	now   func() time.Time
	last  lastTouched
}

// NewCalendar creates a calendar handler. b may be nil.
func NewCalendar(store EventStore, b *bus.Bus, loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{store: store, bus: b, loc: loc, now: time.Now}
}

// SetClock overrides the time source
func (c *Calendar) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Calendar) clock() time.Time {
	return c.now().In(c.loc)
}

func (c *Calendar) publish(userID string, op Op, ev types.Event) {
	if c.bus == nil {
		return
	}
	bus.Publish(c.bus, TopicKnowledgeUpdated, userID, KnowledgeUpdate{
		Kind: types.SourceEvent, Op: op, ID: ev.ID, Event: &ev,
	})
}

// Create schedules a new event from a structured detail or free text
func (c *Calendar) Create(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	now := c.clock()
	text := requestText(detail)

	ev := types.Event{
		Summary:     detailString(detail, "summary", "title"),
		Description: detailString(detail, "description"),
		Location:    detailString(detail, "location"),
		ProjectID:   detailString(detail, "project", "project_id"),
	}

	if s := detailString(detail, "start"); s != "" {
		t, ok := parseTimestamp(s, c.loc)
		if !ok {
			return Result{Message: fmt.Sprintf("I couldn't understand the start time %q.", s), Error: "invalid start time"}, nil
		}
		ev.Start = t
	}
	if s := detailString(detail, "end"); s != "" {
		if t, ok := parseTimestamp(s, c.loc); ok {
			ev.End = t
		}
	}

	w, rest := ParseWhen(text, now)
	if ev.Start.IsZero() {
		t, ok := w.Resolve(now)
		if !ok {
			return Result{
				Message: "When should I schedule that? Try something like \"tomorrow at 3pm\".",
				Error:   "missing start time",
			}, nil
		}
		ev.Start = t
	}
	if ev.Summary == "" {
		ev.Summary = eventTitle(rest)
	}
	if ev.Summary == "" {
		return Result{Message: "What should I call the event?", Error: "missing summary"}, nil
	}

	created, err := c.store.CreateEvent(ctx, userID, ev)
	if err != nil {
		return Result{}, fmt.Errorf("create event: %w", err)
	}
	c.last.set(userID, created.ID)
	c.publish(userID, OpCreated, created)
	logging.Debug("calendar", "Created event %s for %s", created.ID, userID)

	return Result{
		Message: fmt.Sprintf("Scheduled %q for %s.", created.Summary, formatWhen(created.Start, c.loc)),
		ID:      created.ID,
		Event:   &created,
	}, nil
}

// Get lists events on the mentioned day, or over the coming week
func (c *Calendar) Get(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	now := c.clock()
	w, _ := ParseWhen(requestText(detail), now)

	from, to, label := now, now.AddDate(0, 0, 7), "in the next 7 days"
	if w.HasDate {
		from, to = w.Date, w.Date.AddDate(0, 0, 1)
		label = "on " + w.Date.Format("Mon Jan 2")
	}

	events, err := c.store.ListEvents(ctx, userID, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return Result{Message: "You have no events " + label + "."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d event(s) %s:", len(events), label)
	for _, ev := range events {
		fmt.Fprintf(&sb, "\n• %s: %s", formatWhen(ev.Start, c.loc), ev.Summary)
	}
	return Result{Message: sb.String(), Events: events}, nil
}

// Update moves or renames an event, resolving "it" to the last event touched
func (c *Calendar) Update(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	now := c.clock()
	w, rest := ParseWhen(requestText(detail), now)

	ev, ok, err := c.resolve(ctx, userID, detail, rest)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Message: "I couldn't tell which event you meant.", Error: "event not found"}, nil
	}

	changed := false
	if s := detailString(detail, "start"); s != "" {
		if t, ok := parseTimestamp(s, c.loc); ok {
			ev.End = t.Add(ev.End.Sub(ev.Start))
			ev.Start = t
			changed = true
		}
	} else if w.Found() {
		duration := ev.End.Sub(ev.Start)
		ev.Start = w.Apply(ev.Start.In(c.loc))
		ev.End = ev.Start.Add(duration)
		changed = true
	}
	if s := detailString(detail, "summary", "title"); s != "" {
		ev.Summary = s
		changed = true
	}
	if s := detailString(detail, "location"); s != "" {
		ev.Location = s
		changed = true
	}
	if !changed {
		return Result{Message: fmt.Sprintf("What should I change about %q?", ev.Summary), ID: ev.ID, Error: "no changes"}, nil
	}

	updated, err := c.store.UpdateEvent(ctx, userID, ev)
	if err != nil {
		return Result{}, fmt.Errorf("update event: %w", err)
	}
	c.last.set(userID, updated.ID)
	c.publish(userID, OpUpdated, updated)

	return Result{
		Message: fmt.Sprintf("Updated %q to %s.", updated.Summary, formatWhen(updated.Start, c.loc)),
		ID:      updated.ID,
		Event:   &updated,
	}, nil
}

// Delete removes an event
func (c *Calendar) Delete(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	_, rest := ParseWhen(requestText(detail), c.clock())
	ev, ok, err := c.resolve(ctx, userID, detail, rest)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Message: "I couldn't tell which event you meant.", Error: "event not found"}, nil
	}
	if err := c.store.DeleteEvent(ctx, userID, ev.ID); err != nil {
		return Result{}, fmt.Errorf("delete event: %w", err)
	}
	c.last.forget(userID, ev.ID)
	c.publish(userID, OpDeleted, ev)
	return Result{Message: fmt.Sprintf("Cancelled %q.", ev.Summary), ID: ev.ID}, nil
}

// Goals describes what the calendar handler can do
func (c *Calendar) Goals(context.Context, string) (Result, error) {
	return Result{Message: "I'm the calendar agent. I can schedule events, show what's on your calendar, " +
		"move or rename events, and cancel them. Try \"schedule a design review tomorrow at 2pm\"."}, nil
}

// ListEvents returns events in [from, to)
func (c *Calendar) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]types.Event, error) {
	return c.store.ListEvents(ctx, userID, from, to)
}

// resolve finds the event a request refers to: an explicit id, the best
// title match among upcoming events, or the last event touched
func (c *Calendar) resolve(ctx context.Context, userID string, detail map[string]any, rest string) (types.Event, bool, error) {
	if id := detailString(detail, "id", "event_id"); id != "" {
		ev, err := c.store.GetEvent(ctx, userID, id)
		if err != nil {
			return types.Event{}, false, nil
		}
		return ev, true, nil
	}

	if query := strings.TrimSpace(eventRefRe.ReplaceAllString(rest, " ")); query != "" {
		now := c.clock()
		events, err := c.store.ListEvents(ctx, userID, now.Add(-24*time.Hour), now.Add(lookahead))
		if err != nil {
			return types.Event{}, false, fmt.Errorf("list events: %w", err)
		}
		want := correlate.NewTokenSet(query)
		best, bestScore := -1, 0.0
		for i := range events {
			if s := correlate.Jaccard(want, correlate.NewTokenSet(events[i].Summary)); s > bestScore {
				best, bestScore = i, s
			}
		}
		if best >= 0 {
			return events[best], true, nil
		}
	}

	if id := c.last.get(userID); id != "" {
		ev, err := c.store.GetEvent(ctx, userID, id)
		if err == nil {
			return ev, true, nil
		}
	}
	return types.Event{}, false, nil
}

func eventTitle(rest string) string {
	title := eventVerbRe.ReplaceAllString(rest, "")
	title = calendarTagRe.ReplaceAllString(title, "")
	title = trailingRe.ReplaceAllString(strings.TrimSpace(title), "")
	return capitalize(strings.TrimSpace(title))
}

// parseTimestamp accepts the formats structured classifier output uses
func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, f := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(f, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
