package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/types"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return now.Add(-time.Duration(n) * 24 * time.Hour) }

func ptr(t time.Time) *time.Time { return &t }

func TestDefaultTemplatesParse(t *testing.T) {
	tmpls := DefaultTemplates()
	require.Len(t, tmpls, 5)
	assert.Equal(t, "software_development", tmpls[0].Type)
	assert.Equal(t, GeneralType, tmpls[len(tmpls)-1].Type)
	for _, tmpl := range tmpls {
		assert.NotEmpty(t, tmpl.Phases, tmpl.Type)
	}
}

func TestParseTemplatesRejectsEmptyPhases(t *testing.T) {
	_, err := ParseTemplates([]byte("- type: broken\n  keywords: [x]\n"))
	assert.Error(t, err)
	_, err = ParseTemplates([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestClassifiesSoftwareProjectInDesign(t *testing.T) {
	data := ProjectData{
		Name: "Website redesign",
		Events: []types.Event{
			{ID: "e1", Summary: "Website redesign meeting", Start: daysAgo(2)},
		},
		Tasks: []types.Task{
			{ID: "t1", Title: "Create website redesign mockups", Status: "open", CreatedAt: daysAgo(3)},
			{ID: "t2", Title: "Wireframe the checkout", Status: "open", CreatedAt: daysAgo(1)},
		},
	}
	rec := Analyze(DefaultTemplates(), "web", data, now)
	assert.Equal(t, "software_development", rec.ProjectType)
	assert.Equal(t, "design", rec.CurrentPhase)
	assert.Equal(t, 1, rec.PhaseIndex)
	assert.Equal(t, 5, rec.TotalPhases)
	assert.GreaterOrEqual(t, rec.PhaseProgress, 20.0)
	assert.LessOrEqual(t, rec.PhaseProgress, 30.0)
	assert.Equal(t, HealthHealthy, rec.TimelineHealth)
}

func TestNoKeywordsFallsBackToGeneral(t *testing.T) {
	rec := Analyze(DefaultTemplates(), "misc", ProjectData{Name: "Zzz"}, now)
	assert.Equal(t, GeneralType, rec.ProjectType)
	assert.Equal(t, HealthUnknown, rec.TimelineHealth)
	assert.Empty(t, rec.Bottlenecks)
}

func TestProgressMonotoneWithMoreCompletedTasks(t *testing.T) {
	base := []types.Task{
		{ID: "t1", Title: "Implement login feature", Status: "open", CreatedAt: daysAgo(20)},
		{ID: "t2", Title: "Build API feature", Status: "open", CreatedAt: daysAgo(20)},
		{ID: "t3", Title: "Refactor code", Status: "open", CreatedAt: daysAgo(20)},
	}
	prev := -1.0
	for done := 0; done <= len(base); done++ {
		tasks := make([]types.Task, len(base))
		copy(tasks, base)
		for i := 0; i < done; i++ {
			tasks[i].Status = "completed"
			tasks[i].CompletedAt = ptr(daysAgo(1))
		}
		rec := Analyze(DefaultTemplates(), "app", ProjectData{Tasks: tasks}, now)
		assert.GreaterOrEqual(t, rec.PhaseProgress, prev, "completed=%d", done)
		assert.LessOrEqual(t, rec.PhaseProgress, 100.0)
		prev = rec.PhaseProgress
	}
}

func TestTimelineHealth(t *testing.T) {
	tmpl := Template{Type: "x", Phases: []Phase{
		{Name: "a", DurationDays: 5},
		{Name: "b", DurationDays: 5},
		{Name: "c", DurationDays: 5},
		{Name: "d", DurationDays: 5},
	}}
	// started 12 days ago: a and b have ended
	dates := []time.Time{daysAgo(12)}
	assert.Equal(t, HealthHealthy, timelineHealth(tmpl, 2, dates, now))
	assert.Equal(t, HealthAtRisk, timelineHealth(tmpl, 1, dates, now))
	assert.Equal(t, HealthAtRisk, timelineHealth(tmpl, 0, dates, now))

	dates = []time.Time{daysAgo(40)}
	assert.Equal(t, HealthBehind, timelineHealth(tmpl, 0, dates, now))
	assert.Equal(t, HealthUnknown, timelineHealth(tmpl, 0, nil, now))
}

func TestBottlenecks(t *testing.T) {
	dates := []time.Time{daysAgo(40), daysAgo(38), daysAgo(28), daysAgo(10)}
	got := bottlenecks(dates, now)
	require.Len(t, got, 3)
	assert.Equal(t, "medium", got[0].Severity) // 10 days
	assert.Equal(t, "high", got[1].Severity)   // 18 days
	assert.Equal(t, "medium", got[2].Severity) // 10 days to now

	assert.Empty(t, bottlenecks([]time.Time{daysAgo(3), daysAgo(1)}, now))
}

func TestCompletionPrediction(t *testing.T) {
	data := ProjectData{
		Events: []types.Event{{ID: "e1", Summary: "Sync", Start: daysAgo(1)}},
		Tasks: []types.Task{
			{ID: "t1", Status: "completed", CreatedAt: daysAgo(10), CompletedAt: ptr(daysAgo(8))},
			{ID: "t2", Status: "completed", CreatedAt: daysAgo(10), CompletedAt: ptr(daysAgo(6))},
			{ID: "t3", Status: "open", CreatedAt: daysAgo(2)},
			{ID: "t4", Status: "open", CreatedAt: daysAgo(2)},
			{ID: "t5", Status: "canceled", CreatedAt: daysAgo(2)},
		},
	}
	p := predictCompletion(data, activityDates(data), now)
	assert.Equal(t, 2, p.Remaining)
	assert.Equal(t, 1.0, p.Confidence)
	// average 3 days per task, 2 remaining
	assert.WithinDuration(t, now.Add(6*24*time.Hour), p.Date, time.Minute)
	assert.True(t, p.Optimistic.Before(p.Date))
	assert.True(t, p.Pessimistic.After(p.Date))

	empty := predictCompletion(ProjectData{}, nil, now)
	assert.Equal(t, 0.0, empty.Confidence)
	assert.Equal(t, now, empty.Date)
}

func TestTrackerReplacesAndPublishes(t *testing.T) {
	b := bus.New()
	tr := NewTracker(nil, b)
	tr.SetClock(func() time.Time { return now })

	var published []Record
	bus.Subscribe(b, TopicLifecycleUpdated, func(userID string, r Record) {
		published = append(published, r)
	})

	tr.Track("u", "p1", ProjectData{Name: "Plan the marketing campaign"})
	tr.Track("u", "p1", ProjectData{Name: "Launch the marketing campaign"})
	tr.Track("u", "p2", ProjectData{Name: "Conference venue booking"})

	recs := tr.Records("u")
	require.Len(t, recs, 2)
	assert.Equal(t, "p1", recs[0].ProjectID)
	assert.Equal(t, "launch", recs[0].CurrentPhase)
	assert.Equal(t, "event_planning", recs[1].ProjectType)
	assert.Len(t, published, 3)

	tr.Untrack("u", "p1")
	_, ok := tr.Get("u", "p1")
	assert.False(t, ok)

	tr.Purge("u")
	assert.Empty(t, tr.Records("u"))
}
