// Package knowledge assembles a user's events and tasks into one snapshot.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vthunder/budintel/internal/handlers"
	"github.com/vthunder/budintel/internal/types"
)

// Default event window around now
const (
	DefaultLookback  = 30 * 24 * time.Hour
	DefaultLookahead = 60 * 24 * time.Hour
)

// Provider is anything that can produce a knowledge snapshot
type Provider interface {
	GetComprehensiveUserKnowledge(ctx context.Context, userID string) (types.Knowledge, error)
}

// ProjectLister is implemented by task handlers that know project titles
type ProjectLister interface {
	ListProjects(ctx context.Context, userID string) (map[string]string, error)
}

// Source reads from the calendar and task handlers
type Source struct {
	calendar  handlers.CalendarHandler
	tasks     handlers.TaskHandler
	lookback  time.Duration
	lookahead time.Duration
	now       func() time.Time
}

// NewSource creates a source over the given handlers. Either may be nil.
func NewSource(calendar handlers.CalendarHandler, tasks handlers.TaskHandler) *Source {
	return &Source{
		calendar:  calendar,
		tasks:     tasks,
		lookback:  DefaultLookback,
		lookahead: DefaultLookahead,
		now:       time.Now,
	}
}

// SetWindow changes how far back and ahead events are fetched
func (s *Source) SetWindow(lookback, lookahead time.Duration) {
	s.lookback, s.lookahead = lookback, lookahead
}

// SetClock overrides the time source
func (s *Source) SetClock(now func() time.Time) {
	s.now = now
}

// GetComprehensiveUserKnowledge fetches events and tasks in parallel. When
// one side fails the other is still returned together with the error.
func (s *Source) GetComprehensiveUserKnowledge(ctx context.Context, userID string) (types.Knowledge, error) {
	now := s.now()
	k := types.Knowledge{UserID: userID, FetchedAt: now}

	var (
		mu   sync.Mutex
		errs []error
	)
	addError := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if s.calendar != nil {
		eg.Go(func() error {
			events, err := s.calendar.ListEvents(egCtx, userID, now.Add(-s.lookback), now.Add(s.lookahead))
			if err != nil {
				addError(fmt.Errorf("events: %w", err))
				return nil
			}
			k.Events = events
			return nil
		})
	}

	if s.tasks != nil {
		eg.Go(func() error {
			tasks, err := s.tasks.ListTasks(egCtx, userID)
			if err != nil {
				addError(fmt.Errorf("tasks: %w", err))
				return nil
			}
			k.Tasks = tasks
			return nil
		})

		if pl, ok := s.tasks.(ProjectLister); ok {
			eg.Go(func() error {
				projects, err := pl.ListProjects(egCtx, userID)
				if err != nil {
					addError(fmt.Errorf("projects: %w", err))
					return nil
				}
				k.Projects = projects
				return nil
			})
		}
	}

	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return k, errors.Join(errs...)
}
