package gtd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const storeFilename = "user_tasks.json"

// GTDStore manages per-user GTD data with thread-safe operations
type GTDStore struct {
	path string
	data storeData
	mu   sync.RWMutex
	now  func() time.Time
}

// NewGTDStore creates a new GTD store with the given state directory path
func NewGTDStore(statePath string) *GTDStore {
	return &GTDStore{
		path: filepath.Join(statePath, storeFilename),
		data: storeData{Users: make(map[string]*userData)},
		now:  time.Now,
	}
}

// SetClock overrides the time source
func (s *GTDStore) SetClock(now func() time.Time) {
	s.now = now
}

// Load reads the GTD data from disk
func (s *GTDStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.data = storeData{Users: make(map[string]*userData)}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read GTD store: %w", err)
	}

	var loaded storeData
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse GTD store: %w", err)
	}
	if loaded.Users == nil {
		loaded.Users = make(map[string]*userData)
	}
	s.data = loaded
	return nil
}

// Save writes the GTD data to disk
func (s *GTDStore) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal GTD store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// write-then-rename
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write GTD store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace GTD store: %w", err)
	}
	return nil
}

func generateID() string {
	return uuid.NewString()
}

func (s *GTDStore) user(userID string) *userData {
	u, ok := s.data.Users[userID]
	if !ok {
		u = &userData{Projects: []Project{}, Tasks: []Task{}}
		s.data.Users[userID] = u
	}
	return u
}

// AddProject adds a new project for a user
func (s *GTDStore) AddProject(userID string, project *Project) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if project.ID == "" {
		project.ID = generateID()
	}
	if project.Status == "" {
		project.Status = "open"
	}
	if project.When == "" {
		project.When = "anytime"
	}
	if project.Order == 0 {
		project.Order = float64(s.now().UnixNano())
	}
	u := s.user(userID)
	u.Projects = append(u.Projects, *project)
}

// GetProjects returns a user's projects ordered by Order
func (s *GTDStore) GetProjects(userID string) []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.data.Users[userID]
	if !ok {
		return nil
	}
	result := make([]Project, len(u.Projects))
	copy(result, u.Projects)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Order < result[j].Order })
	return result
}

// GetProject returns a project by ID
func (s *GTDStore) GetProject(userID, id string) *Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.data.Users[userID]; ok {
		for i := range u.Projects {
			if u.Projects[i].ID == id {
				p := u.Projects[i]
				return &p
			}
		}
	}
	return nil
}

// AddTask validates and adds a new task for a user
func (s *GTDStore) AddTask(userID string, task *Task) error {
	if err := s.ValidateTask(userID, task); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if task.ID == "" {
		task.ID = generateID()
	}
	if task.Status == "" {
		task.Status = "open"
	}
	if task.When == "" {
		task.When = "inbox"
	}
	if task.Order == 0 {
		task.Order = float64(now.UnixNano())
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	u := s.user(userID)
	u.Tasks = append(u.Tasks, *task)
	return nil
}

// GetTask returns a task by ID
func (s *GTDStore) GetTask(userID, id string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.data.Users[userID]; ok {
		for i := range u.Tasks {
			if u.Tasks[i].ID == id {
				t := u.Tasks[i]
				return &t
			}
		}
	}
	return nil
}

// GetTasks returns a user's tasks matching f, ordered by Order
func (s *GTDStore) GetTasks(userID string, f Filter) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.data.Users[userID]
	if !ok {
		return nil
	}
	var result []Task
	for _, t := range u.Tasks {
		if f.When != "" && t.When != f.When {
			continue
		}
		if f.Project != "" && t.Project != f.Project {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		result = append(result, t)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Order < result[j].Order
	})
	return result
}

// UpdateTask replaces an existing task
func (s *GTDStore) UpdateTask(userID string, task *Task) error {
	if err := s.ValidateTask(userID, task); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.data.Users[userID]; ok {
		for i := range u.Tasks {
			if u.Tasks[i].ID == task.ID {
				task.UpdatedAt = s.now()
				u.Tasks[i] = *task
				return nil
			}
		}
	}
	return fmt.Errorf("task not found: %s", task.ID)
}

// DeleteTask removes a task
func (s *GTDStore) DeleteTask(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.data.Users[userID]; ok {
		for i := range u.Tasks {
			if u.Tasks[i].ID == id {
				u.Tasks = append(u.Tasks[:i], u.Tasks[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("task not found: %s", id)
}

// CompleteTask marks a task as completed and creates the next occurrence for
// repeating tasks. The completed task is returned.
func (s *GTDStore) CompleteTask(userID, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.Users[userID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	taskIndex := -1
	for i := range u.Tasks {
		if u.Tasks[i].ID == id {
			taskIndex = i
			break
		}
	}
	if taskIndex == -1 {
		return nil, fmt.Errorf("task not found: %s", id)
	}

	task := &u.Tasks[taskIndex]
	now := s.now()
	task.Status = "completed"
	task.CompletedAt = &now
	task.UpdatedAt = now
	done := *task

	if task.Repeat != "" {
		u.Tasks = append(u.Tasks, *s.createNextOccurrence(task, now))
	}
	return &done, nil
}

// createNextOccurrence creates the next occurrence of a repeating task
func (s *GTDStore) createNextOccurrence(task *Task, now time.Time) *Task {
	next := &Task{
		ID:        generateID(),
		Title:     task.Title,
		Notes:     task.Notes,
		Checklist: resetChecklist(task.Checklist),
		When:      task.When,
		Project:   task.Project,
		Priority:  task.Priority,
		Repeat:    task.Repeat,
		Status:    "open",
		CreatedAt: now,
		UpdatedAt: now,
		Order:     float64(now.UnixNano()),
	}

	if datePattern.MatchString(task.When) {
		if baseDate, err := time.Parse("2006-01-02", task.When); err == nil {
			next.When = calculateNextDate(baseDate, task.Repeat).Format("2006-01-02")
		}
	}
	if task.Due != nil {
		d := calculateNextDate(*task.Due, task.Repeat)
		next.Due = &d
	}
	return next
}

// resetChecklist returns a copy of the checklist with all items unchecked
func resetChecklist(items []ChecklistItem) []ChecklistItem {
	if items == nil {
		return nil
	}
	result := make([]ChecklistItem, len(items))
	for i, item := range items {
		result[i] = ChecklistItem{Text: item.Text}
	}
	return result
}

// calculateNextDate calculates the next occurrence date based on repeat pattern
func calculateNextDate(base time.Time, repeat string) time.Time {
	switch repeat {
	case "weekly":
		return base.AddDate(0, 0, 7)
	case "biweekly":
		return base.AddDate(0, 0, 14)
	case "monthly":
		return base.AddDate(0, 1, 0)
	case "quarterly":
		return base.AddDate(0, 3, 0)
	case "yearly":
		return base.AddDate(1, 0, 0)
	default:
		return base.AddDate(0, 0, 1)
	}
}

// FindTaskByTitle finds the newest open task whose title contains title (case-insensitive)
func (s *GTDStore) FindTaskByTitle(userID, title string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.data.Users[userID]
	if !ok {
		return nil
	}
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return nil
	}
	for i := len(u.Tasks) - 1; i >= 0; i-- {
		t := u.Tasks[i]
		if t.Status == "open" && strings.Contains(strings.ToLower(t.Title), title) {
			return &t
		}
	}
	return nil
}

// Users returns the IDs of every user with stored data
func (s *GTDStore) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data.Users))
	for id := range s.data.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
