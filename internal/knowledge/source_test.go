package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/budintel/internal/handlers"
	"github.com/vthunder/budintel/internal/types"
)

var fixedNow = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

type stubOps struct{}

func (stubOps) Create(context.Context, string, map[string]any) (handlers.Result, error) {
	return handlers.Result{}, nil
}
func (stubOps) Get(context.Context, string, map[string]any) (handlers.Result, error) {
	return handlers.Result{}, nil
}
func (stubOps) Update(context.Context, string, map[string]any) (handlers.Result, error) {
	return handlers.Result{}, nil
}
func (stubOps) Delete(context.Context, string, map[string]any) (handlers.Result, error) {
	return handlers.Result{}, nil
}
func (stubOps) Goals(context.Context, string) (handlers.Result, error) {
	return handlers.Result{}, nil
}

type stubCalendar struct {
	stubOps
	events   []types.Event
	err      error
	from, to time.Time
}

func (s *stubCalendar) ListEvents(_ context.Context, _ string, from, to time.Time) ([]types.Event, error) {
	s.from, s.to = from, to
	return s.events, s.err
}

type stubTasks struct {
	stubOps
	tasks []types.Task
	err   error
}

func (stubTasks) Complete(context.Context, string, map[string]any) (handlers.Result, error) {
	return handlers.Result{}, nil
}

func (s stubTasks) ListTasks(context.Context, string) ([]types.Task, error) {
	return s.tasks, s.err
}

func TestKnowledgeCombinesBothSources(t *testing.T) {
	cal := &stubCalendar{events: []types.Event{{ID: "e1", Summary: "Design review"}}}
	tasks := stubTasks{tasks: []types.Task{{ID: "t1", Title: "Mockups"}, {ID: "t2", Title: "Copy"}}}

	s := NewSource(cal, tasks)
	s.SetClock(func() time.Time { return fixedNow })

	k, err := s.GetComprehensiveUserKnowledge(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "u", k.UserID)
	assert.Len(t, k.Events, 1)
	assert.Len(t, k.Tasks, 2)
	assert.Equal(t, fixedNow, k.FetchedAt)
	assert.Equal(t, fixedNow.Add(-DefaultLookback), cal.from)
	assert.Equal(t, fixedNow.Add(DefaultLookahead), cal.to)
}

func TestKnowledgePartialFailure(t *testing.T) {
	cal := &stubCalendar{err: errors.New("calendar offline")}
	tasks := stubTasks{tasks: []types.Task{{ID: "t1", Title: "Mockups"}}}

	k, err := NewSource(cal, tasks).GetComprehensiveUserKnowledge(context.Background(), "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar offline")
	assert.Empty(t, k.Events)
	assert.Len(t, k.Tasks, 1)
}

func TestKnowledgeNilHandlers(t *testing.T) {
	k, err := NewSource(nil, nil).GetComprehensiveUserKnowledge(context.Background(), "u")
	require.NoError(t, err)
	assert.Empty(t, k.Events)
	assert.Empty(t, k.Tasks)
}

func TestKnowledgeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSource(&stubCalendar{}, stubTasks{}).GetComprehensiveUserKnowledge(ctx, "u")
	assert.ErrorIs(t, err, context.Canceled)
}
