package calstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/budintel/internal/types"
)

var fixedNow = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	s.SetClock(func() time.Time { return fixedNow })
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 4, 6, 15, 0, 0, 0, time.UTC)

	ev, err := s.CreateEvent(ctx, "alice", types.Event{Summary: "Website redesign meeting", Start: start, ProjectID: "web"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.True(t, ev.Start.Equal(start))
	assert.True(t, ev.End.Equal(start.Add(time.Hour)), "end defaults to one hour")
	assert.Equal(t, "confirmed", ev.Status)
	assert.Equal(t, "web", ev.ProjectID)
	assert.True(t, ev.UpdatedAt.Equal(fixedNow))

	got, err := s.GetEvent(ctx, "alice", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = s.GetEvent(ctx, "bob", ev.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateEvent(ctx, "u", types.Event{Start: fixedNow})
	assert.Error(t, err)
	_, err = s.CreateEvent(ctx, "u", types.Event{Summary: "No time"})
	assert.Error(t, err)
}

func TestListEventsByRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)

	for i, h := range []int{9, 13, 30} {
		_, err := s.CreateEvent(ctx, "u", types.Event{
			Summary: []string{"standup", "lunch", "tomorrow sync"}[i],
			Start:   day.Add(time.Duration(h) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := s.CreateEvent(ctx, "other", types.Event{Summary: "not mine", Start: day.Add(10 * time.Hour)})
	require.NoError(t, err)

	events, err := s.ListEvents(ctx, "u", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "standup", events[0].Summary)
	assert.Equal(t, "lunch", events[1].Summary)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "u"}, users)
}

func TestUpdateAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 4, 6, 14, 0, 0, 0, time.UTC)

	ev, err := s.CreateEvent(ctx, "u", types.Event{Summary: "Design review", Start: start})
	require.NoError(t, err)

	ev.Start = start.Add(time.Hour)
	ev.End = time.Time{}
	updated, err := s.UpdateEvent(ctx, "u", ev)
	require.NoError(t, err)
	assert.Equal(t, 15, updated.Start.Hour())
	assert.Equal(t, 16, updated.End.Hour())

	_, err = s.UpdateEvent(ctx, "u", types.Event{ID: "missing", Summary: "x", Start: start})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteEvent(ctx, "u", ev.ID))
	assert.ErrorIs(t, s.DeleteEvent(ctx, "u", ev.ID), ErrNotFound)
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.db")
	s, err := OpenPath(path)
	require.NoError(t, err)
	_, err = s.CreateEvent(context.Background(), "u", types.Event{Summary: "Persisted", Start: fixedNow})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := OpenPath(path)
	require.NoError(t, err)
	defer s2.Close()
	events, err := s2.ListEvents(context.Background(), "u", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
