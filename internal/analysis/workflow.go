package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vthunder/budintel/internal/correlate"
	"github.com/vthunder/budintel/internal/types"
)

const (
	staleAfter          = 14 * 24 * time.Hour
	unscheduledMinimum  = 3
	followUpLookbackDay = 7
)

// Workflow looks for work that is not connected across calendar and tasks
type Workflow struct{}

func (Workflow) Name() string { return "workflow" }

func (w Workflow) Analyze(k types.Knowledge, now time.Time) Bundle {
	b := newBundle(w.Name(), now)
	open := openTasks(k)
	events := activeEvents(k)
	eventTokens := make([]correlate.TokenSet, len(events))
	for i, e := range events {
		eventTokens[i] = correlate.NewTokenSet(e.Text())
	}

	unscheduled := 0
	for _, t := range open {
		if !overlapsAny(correlate.NewTokenSet(t.Text()), eventTokens) {
			unscheduled++
		}
	}
	b.Metrics["tasks_without_events"] = float64(unscheduled)
	if unscheduled >= unscheduledMinimum {
		b.add("Schedule time for open tasks",
			fmt.Sprintf("%d open tasks have no related calendar time", unscheduled),
			PriorityMedium, float64(unscheduled)/float64(len(open)))
	}

	taskTokens := make([]correlate.TokenSet, len(k.Tasks))
	for i, t := range k.Tasks {
		taskTokens[i] = correlate.NewTokenSet(t.Text())
	}
	orphanMeetings := 0
	lookback := now.Add(-followUpLookbackDay * 24 * time.Hour)
	for i, e := range events {
		if e.Start.Before(lookback) || e.Start.After(now) {
			continue
		}
		if !strings.Contains(strings.ToLower(e.Summary), "meeting") {
			continue
		}
		if !overlapsAny(eventTokens[i], taskTokens) {
			orphanMeetings++
		}
	}
	b.Metrics["events_without_tasks"] = float64(orphanMeetings)
	if orphanMeetings > 0 {
		b.add("Capture meeting follow-ups",
			fmt.Sprintf("%d recent meetings have no follow-up tasks", orphanMeetings),
			PriorityLow, math.Min(1, float64(orphanMeetings)/3))
	}

	stale := 0
	for _, t := range open {
		if touched := lastActivity(t); !touched.IsZero() && now.Sub(touched) > staleAfter {
			stale++
		}
	}
	b.Metrics["stale_tasks"] = float64(stale)
	if stale > 0 {
		b.add("Review stale tasks",
			fmt.Sprintf("%d tasks have not been touched in two weeks", stale),
			PriorityLow, math.Min(1, float64(stale)/5))
	}
	return b
}

func overlapsAny(tokens correlate.TokenSet, others []correlate.TokenSet) bool {
	for _, o := range others {
		if tokens.Overlaps(o) {
			return true
		}
	}
	return false
}

func lastActivity(t types.Task) time.Time {
	if t.UpdatedAt.After(t.CreatedAt) {
		return t.UpdatedAt
	}
	return t.CreatedAt
}
