package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/correlate"
	"github.com/vthunder/budintel/internal/gtd"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/types"
)

var (
	taskVerbRe   = regexp.MustCompile(`(?i)^\s*(please\s+)?(can you\s+)?(remind\s+me\s+to|remember\s+to|don'?t\s+forget\s+to|i\s+need\s+to|need\s+to|(add|create)\s+(an?\s+)?(task|todo|to-do|reminder)(\s+to)?|add|todo:?)\s+`)
	taskTagRe    = regexp.MustCompile(`(?i)\s*\b(to|on|in|into)\s+(my|the)\s+(task\s+list|todo\s+list|to-do\s+list|list|tasks)\b`)
	urgentRe     = regexp.MustCompile(`(?i)\b(urgent|urgently|asap|important|high\s+priority)\b`)
	lowRe        = regexp.MustCompile(`(?i)\b(low\s+priority|whenever|eventually)\b`)
	taskRefRe    = regexp.MustCompile(`(?i)\b(mark|complete|completed|finish|finished|done|delete|remove|cancel|update|change|move|push|reschedule|rename|set|due|it|that|this|the|task|todo|reminder|as|please|i)\b`)
	projectTagRe = regexp.MustCompile(`(?i)\s*\b(for|in)\s+(the\s+)?project\s+(.+)$`)
)

// Tasks is the TaskHandler backed by the GTD store
type Tasks struct {
	store *gtd.GTDStore
	bus   *bus.Bus
	loc   *time.Location
	now   func() time.Time
	last  lastTouched
}

// NewTasks creates a task handler. b may be nil.
func NewTasks(store *gtd.GTDStore, b *bus.Bus, loc *time.Location) *Tasks {
	if loc == nil {
		loc = time.Local
	}
	return &Tasks{store: store, bus: b, loc: loc, now: time.Now}
}

// SetClock overrides the time source
func (h *Tasks) SetClock(now func() time.Time) {
	h.now = now
}

func (h *Tasks) clock() time.Time {
	return h.now().In(h.loc)
}

func (h *Tasks) publish(userID string, op Op, t *gtd.Task) {
	if h.bus == nil {
		return
	}
	converted := t.ToTask(h.loc)
	bus.Publish(h.bus, TopicKnowledgeUpdated, userID, KnowledgeUpdate{
		Kind: types.SourceTask, Op: op, ID: t.ID, Task: &converted,
	})
}

func (h *Tasks) save() {
	if err := h.store.Save(); err != nil {
		logging.Warn("tasks", "Failed to save task store: %v", err)
	}
}

// Create adds a task from a structured detail or free text
func (h *Tasks) Create(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	now := h.clock()
	text := requestText(detail)

	task := &gtd.Task{
		Title:    detailString(detail, "title", "summary"),
		Notes:    detailString(detail, "notes", "description"),
		Priority: strings.ToLower(detailString(detail, "priority")),
		Repeat:   detailString(detail, "repeat"),
	}

	projectName := detailString(detail, "project", "project_id")
	if projectName == "" {
		if m := projectTagRe.FindStringSubmatch(text); m != nil {
			projectName = strings.TrimSpace(m[3])
			text = projectTagRe.ReplaceAllString(text, "")
		}
	}

	w, rest := ParseWhen(text, now)
	if s := detailString(detail, "due"); s != "" {
		if t, ok := parseTimestamp(s, h.loc); ok {
			task.Due = &t
		}
	} else if t, ok := w.Resolve(now); ok {
		task.Due = &t
	}

	if task.Title == "" {
		task.Title = taskTitle(rest)
	}
	if task.Title == "" {
		return Result{Message: "What should the task say?", Error: "missing title"}, nil
	}
	if task.Priority == "" {
		switch {
		case urgentRe.MatchString(text):
			task.Priority = "high"
		case lowRe.MatchString(text):
			task.Priority = "low"
		}
	}

	switch {
	case task.Due != nil && types.SameDay(*task.Due, now):
		task.When = "today"
	case task.Due != nil:
		task.When = task.Due.Format("2006-01-02")
	case projectName != "":
		task.When = "anytime"
	}
	if projectName != "" {
		task.Project = h.projectID(userID, projectName)
	}

	if err := h.store.AddTask(userID, task); err != nil {
		return Result{Message: fmt.Sprintf("I couldn't add that task: %v", err), Error: err.Error()}, nil
	}
	h.save()
	h.last.set(userID, task.ID)
	h.publish(userID, OpCreated, task)

	converted := task.ToTask(h.loc)
	msg := fmt.Sprintf("Added task %q", task.Title)
	if task.Due != nil {
		msg += " due " + formatWhen(*task.Due, h.loc)
	}
	return Result{Message: msg + ".", ID: task.ID, Task: &converted}, nil
}

// projectID finds a project by ID or title, creating it when unknown
func (h *Tasks) projectID(userID, name string) string {
	if p := h.store.GetProject(userID, name); p != nil {
		return p.ID
	}
	for _, p := range h.store.GetProjects(userID) {
		if strings.EqualFold(p.Title, name) {
			return p.ID
		}
	}
	p := &gtd.Project{Title: capitalize(name)}
	h.store.AddProject(userID, p)
	logging.Debug("tasks", "Created project %q for %s", p.Title, userID)
	return p.ID
}

// Get lists open tasks in list order
func (h *Tasks) Get(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	open := h.store.GetTasks(userID, gtd.Filter{Status: "open"})
	if len(open) == 0 {
		return Result{Message: "You have no open tasks."}, nil
	}

	tasks := make([]types.Task, 0, len(open))
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d open task(s):", len(open))
	for i := range open {
		t := open[i].ToTask(h.loc)
		tasks = append(tasks, t)
		fmt.Fprintf(&sb, "\n• %s", t.Title)
		if t.Due != nil {
			fmt.Fprintf(&sb, " (due %s)", formatWhen(*t.Due, h.loc))
		}
	}
	return Result{Message: sb.String(), Tasks: tasks}, nil
}

// Update changes a task's deadline, title or priority
func (h *Tasks) Update(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	now := h.clock()
	text := requestText(detail)
	w, rest := ParseWhen(text, now)

	task := h.resolve(userID, detail, rest)
	if task == nil {
		return Result{Message: "I couldn't tell which task you meant.", Error: "task not found"}, nil
	}

	changed := false
	if s := detailString(detail, "due"); s != "" {
		if t, ok := parseTimestamp(s, h.loc); ok {
			task.Due = &t
			changed = true
		}
	} else if w.Found() {
		base := now
		if d := task.DueDate(h.loc); d != nil {
			base = d.In(h.loc)
		} else if !w.HasClock {
			base = time.Date(now.Year(), now.Month(), now.Day(), 17, 0, 0, 0, h.loc)
		}
		d := w.Apply(base)
		task.Due = &d
		changed = true
	}
	if task.Due != nil && changed {
		if types.SameDay(*task.Due, now) {
			task.When = "today"
		} else {
			task.When = task.Due.Format("2006-01-02")
		}
	}
	if s := detailString(detail, "title", "summary"); s != "" {
		task.Title = s
		changed = true
	}
	if p := strings.ToLower(detailString(detail, "priority")); p != "" {
		task.Priority = p
		changed = true
	} else if urgentRe.MatchString(text) {
		task.Priority = "high"
		changed = true
	}
	if !changed {
		return Result{Message: fmt.Sprintf("What should I change about %q?", task.Title), ID: task.ID, Error: "no changes"}, nil
	}

	if err := h.store.UpdateTask(userID, task); err != nil {
		return Result{Message: fmt.Sprintf("I couldn't update that task: %v", err), Error: err.Error()}, nil
	}
	h.save()
	h.last.set(userID, task.ID)
	h.publish(userID, OpUpdated, task)

	converted := task.ToTask(h.loc)
	return Result{Message: fmt.Sprintf("Updated task %q.", task.Title), ID: task.ID, Task: &converted}, nil
}

// Complete marks a task done
func (h *Tasks) Complete(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	_, rest := ParseWhen(requestText(detail), h.clock())
	task := h.resolve(userID, detail, rest)
	if task == nil {
		return Result{Message: "I couldn't tell which task you meant.", Error: "task not found"}, nil
	}

	done, err := h.store.CompleteTask(userID, task.ID)
	if err != nil {
		return Result{}, fmt.Errorf("complete task: %w", err)
	}
	h.save()
	h.last.forget(userID, done.ID)
	h.publish(userID, OpCompleted, done)

	converted := done.ToTask(h.loc)
	msg := fmt.Sprintf("Marked %q as done.", done.Title)
	if done.Repeat != "" {
		msg += " The next one is on your list."
	}
	return Result{Message: msg, ID: done.ID, Task: &converted}, nil
}

// Delete removes a task
func (h *Tasks) Delete(ctx context.Context, userID string, detail map[string]any) (Result, error) {
	_, rest := ParseWhen(requestText(detail), h.clock())
	task := h.resolve(userID, detail, rest)
	if task == nil {
		return Result{Message: "I couldn't tell which task you meant.", Error: "task not found"}, nil
	}
	if err := h.store.DeleteTask(userID, task.ID); err != nil {
		return Result{}, fmt.Errorf("delete task: %w", err)
	}
	h.save()
	h.last.forget(userID, task.ID)
	h.publish(userID, OpDeleted, task)
	return Result{Message: fmt.Sprintf("Deleted task %q.", task.Title), ID: task.ID}, nil
}

// Goals describes what the task handler can do
func (h *Tasks) Goals(context.Context, string) (Result, error) {
	return Result{Message: "I'm the task agent. I can add tasks and reminders with deadlines and priorities, " +
		"list what's open, update or reschedule tasks, mark them done, and delete them. " +
		"Try \"remind me to send the invoice by friday\"."}, nil
}

// ListTasks returns every task the user has, including completed ones
func (h *Tasks) ListTasks(ctx context.Context, userID string) ([]types.Task, error) {
	all := h.store.GetTasks(userID, gtd.Filter{})
	out := make([]types.Task, 0, len(all))
	for i := range all {
		out = append(out, all[i].ToTask(h.loc))
	}
	return out, nil
}

// ListProjects returns the user's project titles by ID
func (h *Tasks) ListProjects(ctx context.Context, userID string) (map[string]string, error) {
	projects := h.store.GetProjects(userID)
	out := make(map[string]string, len(projects))
	for _, p := range projects {
		out[p.ID] = p.Title
	}
	return out, nil
}

// resolve finds the task a request refers to: an explicit id, a title
// match among open tasks, or the last task touched
func (h *Tasks) resolve(userID string, detail map[string]any, rest string) *gtd.Task {
	if id := detailString(detail, "id", "task_id"); id != "" {
		return h.store.GetTask(userID, id)
	}

	query := strings.TrimSpace(spaceRe.ReplaceAllString(taskRefRe.ReplaceAllString(rest, " "), " "))
	if query != "" {
		if t := h.store.FindTaskByTitle(userID, query); t != nil {
			return t
		}
		open := h.store.GetTasks(userID, gtd.Filter{Status: "open"})
		want := correlate.NewTokenSet(query)
		best, bestScore := -1, 0.0
		for i := range open {
			if s := correlate.Jaccard(want, correlate.NewTokenSet(open[i].Title)); s > bestScore {
				best, bestScore = i, s
			}
		}
		if best >= 0 {
			t := open[best]
			return &t
		}
	}

	if id := h.last.get(userID); id != "" {
		return h.store.GetTask(userID, id)
	}
	return nil
}

func taskTitle(rest string) string {
	title := taskVerbRe.ReplaceAllString(rest, "")
	title = taskTagRe.ReplaceAllString(title, "")
	title = urgentRe.ReplaceAllString(title, "")
	title = trailingRe.ReplaceAllString(strings.TrimSpace(spaceRe.ReplaceAllString(title, " ")), "")
	return capitalize(strings.TrimSpace(title))
}
