package gtd

import (
	"fmt"
	"regexp"
	"strings"
)

// validWhenValues contains the allowed static values for the When field
var validWhenValues = map[string]bool{
	"inbox":   true,
	"today":   true,
	"anytime": true,
	"someday": true,
}

var validPriorities = map[string]bool{
	"":       true,
	"high":   true,
	"medium": true,
	"low":    true,
}

// datePattern matches YYYY-MM-DD format
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// isValidWhen checks if a when value is valid (static value or date pattern)
func isValidWhen(when string) bool {
	if when == "" {
		return true // empty defaults to "inbox" in AddTask
	}
	if validWhenValues[when] {
		return true
	}
	return datePattern.MatchString(when)
}

// ValidateTask validates a task against GTD rules
func (s *GTDStore) ValidateTask(userID string, task *Task) error {
	if strings.TrimSpace(task.Title) == "" {
		return fmt.Errorf("task title is required")
	}
	if !isValidWhen(task.When) {
		return fmt.Errorf("invalid when value '%s': must be inbox, today, anytime, someday, or a date (YYYY-MM-DD)", task.When)
	}
	if !validPriorities[task.Priority] {
		return fmt.Errorf("invalid priority '%s': must be high, medium or low", task.Priority)
	}

	// Inbox tasks cannot have a project
	if task.When == "inbox" && task.Project != "" {
		return fmt.Errorf("inbox tasks cannot be in a project")
	}

	if task.Project != "" && s.GetProject(userID, task.Project) == nil {
		return fmt.Errorf("project not found: %s", task.Project)
	}
	return nil
}
