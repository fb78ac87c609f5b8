package correlate

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/types"
)

var day = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func due(t time.Time) *time.Time { return &t }

func TestTokens(t *testing.T) {
	toks := Tokens("Create the Website redesign mockups, ok?")
	assert.Contains(t, toks, "website")
	assert.Contains(t, toks, "redesign")
	assert.Contains(t, toks, "mockups")
	assert.Contains(t, toks, "the")
	assert.NotContains(t, toks, "ok")
	assert.NotContains(t, toks, "Website")
	assert.Empty(t, Tokens("   "))
}

func TestKeywordSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"Website redesign meeting", "Create website redesign mockups"},
		{"Quarterly budget review", "Prepare budget spreadsheet for review"},
		{"Dentist", "Buy groceries"},
	}
	for _, p := range pairs {
		assert.Equal(t, KeywordSimilarity(p[0], p[1]), KeywordSimilarity(p[1], p[0]), "pair %v", p)
	}
	assert.Equal(t, 0.0, KeywordSimilarity("Dentist", "Buy groceries"))
}

func TestTimelineBuckets(t *testing.T) {
	ev := types.Event{ID: "e", Start: day}
	cases := []struct {
		gap  time.Duration
		want float64
	}{
		{6 * time.Hour, 1.0},
		{48 * time.Hour, 0.8},
		{5 * 24 * time.Hour, 0.6},
		{10 * 24 * time.Hour, 0.4},
		{30 * 24 * time.Hour, 0.2},
		{-30 * 24 * time.Hour, 0.2},
	}
	for _, c := range cases {
		task := types.Task{ID: "t", Due: due(day.Add(c.gap))}
		got, ok := timelineScore(&ev, &task)
		require.True(t, ok)
		assert.Equal(t, c.want, got, "gap %v", c.gap)
	}

	_, ok := timelineScore(&ev, &types.Task{ID: "t"})
	assert.False(t, ok)
}

func TestMissingDatesExcludedFromMean(t *testing.T) {
	rec := Score(types.Event{ID: "e", Summary: "Dentist"}, types.Task{ID: "t", Title: "Buy groceries"}, day)
	_, hasTimeline := rec.Breakdown[AlgorithmTimeline]
	assert.False(t, hasTimeline)
	assert.Len(t, rec.Breakdown, 3)
	// keyword 0, contextual 0, behavioral 0.5
	assert.InDelta(t, 0.5/3, rec.Score, 1e-9)
	assert.Equal(t, []Algorithm{AlgorithmBehavioral}, rec.Stubbed)
}

func TestWebsiteRedesignScenario(t *testing.T) {
	ev := types.Event{ID: "e1", Summary: "Website redesign meeting", Start: day}
	task := types.Task{ID: "t1", Title: "Create website redesign mockups", Due: due(day.Add(6 * time.Hour))}

	rec := Score(ev, task, day)
	assert.Greater(t, rec.Breakdown[AlgorithmKeyword], 0.0)
	assert.GreaterOrEqual(t, rec.Breakdown[AlgorithmContextual], 0.3)
	assert.GreaterOrEqual(t, rec.Level.Rank(), types.ConfidenceLow.Rank())
}

func TestContextualBonusesCap(t *testing.T) {
	ev := types.Event{ID: "e", Summary: "Follow-up meeting: send notes", Start: day}
	task := types.Task{ID: "t", Title: "send notes", Notes: "follow-up from meeting", Due: due(day)}
	assert.InDelta(t, 1.0, contextualScore(&ev, &task), 1e-9)
}

func TestScoresAlwaysInRange(t *testing.T) {
	titles := []string{"", "a", "Website redesign meeting", "follow-up meeting meeting", "x y z"}
	for i, a := range titles {
		for j, b := range titles {
			ev := types.Event{ID: fmt.Sprint("e", i), Summary: a, Start: day.Add(time.Duration(i) * 72 * time.Hour)}
			task := types.Task{ID: fmt.Sprint("t", j), Title: b, Due: due(day)}
			rec := Score(ev, task, day)
			assert.GreaterOrEqual(t, rec.Score, 0.0)
			assert.LessOrEqual(t, rec.Score, 1.0)
			assert.Equal(t, types.LevelFor(rec.Score), rec.Level)
		}
	}
}

func TestUpdateRecomputesRatherThanAppends(t *testing.T) {
	e := NewEngine(nil)
	e.SetClock(func() time.Time { return day })

	e.UpdateTask("u", types.Task{ID: "t1", Title: "Write report", Due: due(day)})
	e.UpdateEvent("u", types.Event{ID: "e1", Summary: "Planning", Start: day})
	require.Equal(t, 1, e.Len("u"))
	before := e.GetRealTimeCorrelations("u").Correlations[0].Score

	e.UpdateEvent("u", types.Event{ID: "e1", Summary: "Write report session", Start: day})
	snap := e.GetRealTimeCorrelations("u")
	require.Len(t, snap.Correlations, 1)
	assert.Greater(t, snap.Correlations[0].Score, before)
}

func TestUpdateDispatchesByKind(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.Update("u", types.SourceTask, &types.Task{ID: "t1", Title: "x"})
	require.NoError(t, err)
	_, err = e.Update("u", types.SourceEvent, types.Event{ID: "e1", Summary: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Len("u"))

	_, err = e.Update("u", types.SourceEvent, types.Task{ID: "t2"})
	assert.Error(t, err)
	_, err = e.Update("u", "note", types.Task{ID: "t2"})
	assert.Error(t, err)
}

func TestOverallConfidence(t *testing.T) {
	e := NewEngine(nil)
	snap := e.GetRealTimeCorrelations("nobody")
	assert.Equal(t, 0.0, snap.OverallConfidence)
	assert.Empty(t, snap.Correlations)

	e.UpdateEvent("u", types.Event{ID: "e1", Summary: "Website redesign meeting", Start: day})
	e.UpdateTask("u", types.Task{ID: "t1", Title: "Create website redesign mockups", Due: due(day)})
	e.UpdateTask("u", types.Task{ID: "t2", Title: "Dentist", Due: due(day.Add(40 * 24 * time.Hour))})

	snap = e.GetRealTimeCorrelations("u")
	require.Len(t, snap.Correlations, 2)
	mean := (snap.Correlations[0].Score + snap.Correlations[1].Score) / 2
	assert.InDelta(t, mean, snap.OverallConfidence, 1e-9)
	assert.Equal(t, "t1", snap.Correlations[0].TaskID)
}

func TestCleanupPrunesStalePairs(t *testing.T) {
	now := day
	e := NewEngine(nil)
	e.SetClock(func() time.Time { return now })

	e.UpdateEvent("u", types.Event{ID: "e1", Summary: "a"})
	e.UpdateTask("u", types.Task{ID: "t1", Title: "b"})
	require.Equal(t, 1, e.Len("u"))

	now = day.Add(25 * time.Hour)
	e.UpdateTask("u", types.Task{ID: "t2", Title: "c"})
	assert.Equal(t, 2, e.Len("u"))

	assert.Equal(t, 1, e.Cleanup("u", DefaultMaxAge))
	assert.Equal(t, 1, e.Len("u"))
	assert.Equal(t, 0, e.Cleanup("missing", 0))
}

func TestRemoveAndPurge(t *testing.T) {
	e := NewEngine(nil)
	e.UpdateEvent("u", types.Event{ID: "e1"})
	e.UpdateTask("u", types.Task{ID: "t1"})
	e.UpdateTask("u", types.Task{ID: "t2"})
	require.Equal(t, 2, e.Len("u"))

	e.Remove("u", types.SourceTask, "t1")
	assert.Equal(t, 1, e.Len("u"))

	e.Purge("u")
	assert.Equal(t, 0, e.Len("u"))
}

func TestSyncSkipsFinishedWork(t *testing.T) {
	e := NewEngine(nil)
	k := types.Knowledge{
		Events: []types.Event{{ID: "e1", Summary: "Sprint review"}, {ID: "e2", Status: "cancelled"}},
		Tasks: []types.Task{
			{ID: "t1", Title: "Review sprint", Status: "open"},
			{ID: "t2", Title: "Old", Status: "completed"},
		},
	}
	assert.Equal(t, 1, e.Sync("u", k))
}

func TestUpdatesArePublished(t *testing.T) {
	b := bus.New()
	e := NewEngine(b)

	var got []Update
	bus.Subscribe(b, TopicCorrelationsUpdated, func(userID string, u Update) {
		assert.Equal(t, "u", userID)
		got = append(got, u)
	})

	e.UpdateEvent("u", types.Event{ID: "e1"})
	e.UpdateTask("u", types.Task{ID: "t1"})
	require.Len(t, got, 2)
	assert.Equal(t, types.SourceTask, got[1].Kind)
	assert.Equal(t, 1, got[1].Pairs)
}

func workload(n int) types.Knowledge {
	var k types.Knowledge
	for i := range n {
		k.Events = append(k.Events, types.Event{
			ID:          fmt.Sprintf("e%d", i),
			Summary:     fmt.Sprintf("Planning session %d for the website redesign", i),
			Description: "Walk through mockups, budget and launch checklist with the design team",
			Start:       day.Add(time.Duration(i) * time.Hour),
		})
		k.Tasks = append(k.Tasks, types.Task{
			ID:     fmt.Sprintf("t%d", i),
			Title:  fmt.Sprintf("Draft redesign mockups batch %d", i),
			Notes:  "Share with the design team before the planning session",
			Status: "open",
			Due:    due(day.Add(time.Duration(i) * 24 * time.Hour)),
		})
	}
	return k
}

func TestSyncTwentyByTwentyIsFast(t *testing.T) {
	e := NewEngine(nil)
	k := workload(20)

	start := time.Now()
	assert.Equal(t, 400, e.Sync("u", k))
	assert.Less(t, time.Since(start), 2*time.Second)

	start = time.Now()
	e.UpdateTask("u", types.Task{ID: "t-new", Title: "Website launch checklist", Status: "open"})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 420, e.Len("u"))
}

func TestConcurrentUpdatesKeepPairsConsistent(t *testing.T) {
	e := NewEngine(nil)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.UpdateEvent("u", types.Event{ID: fmt.Sprintf("e%d", i), Summary: "Budget review"})
		}()
		go func() {
			defer wg.Done()
			e.UpdateTask("u", types.Task{ID: fmt.Sprintf("t%d", i), Title: "Prepare budget"})
		}()
	}
	wg.Wait()

	// each pair is scored by whichever side arrived second
	assert.Equal(t, 100, e.Len("u"))
	for _, rec := range e.GetRealTimeCorrelations("u").Correlations {
		assert.Greater(t, rec.Breakdown[AlgorithmKeyword], 0.0, rec.ID)
	}
}

func TestScoreTokensMatchesScore(t *testing.T) {
	ev := types.Event{ID: "e", Summary: "Website redesign meeting", Start: day}
	task := types.Task{ID: "t", Title: "Create website redesign mockups", Due: due(day)}
	want := Score(ev, task, day)
	got := ScoreTokens(ev, NewTokenSet(ev.Text()), task, NewTokenSet(task.Text()), day)
	assert.Equal(t, want.Score, got.Score)
	assert.Equal(t, want.Breakdown, got.Breakdown)
}

func BenchmarkSync(b *testing.B) {
	e := NewEngine(nil)
	k := workload(20)
	b.ResetTimer()
	for range b.N {
		e.Sync("u", k)
	}
}
