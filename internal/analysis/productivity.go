package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/vthunder/budintel/internal/types"
)

const workdayHours = 8.0

// Productivity reports throughput metrics and flags slipping work
type Productivity struct{}

func (Productivity) Name() string { return "productivity" }

func (p Productivity) Analyze(k types.Knowledge, now time.Time) Bundle {
	b := newBundle(p.Name(), now)

	total, done, overdue, doneThisWeek := 0, 0, 0, 0
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, t := range k.Tasks {
		if t.Status == "canceled" {
			continue
		}
		total++
		if t.IsCompleted() {
			done++
			if t.CompletedAt != nil && t.CompletedAt.After(weekAgo) {
				doneThisWeek++
			}
		}
		if t.IsOverdue(now) {
			overdue++
		}
	}

	rate := 0.0
	if total > 0 {
		rate = float64(done) / float64(total)
	}
	b.Metrics["completion_rate"] = rate
	b.Metrics["overdue"] = float64(overdue)
	b.Metrics["tasks_per_day"] = float64(doneThisWeek) / 7

	// focus score: share of the next workday not spent in meetings
	var meeting time.Duration
	for _, evs := range eventsByDay(activeEvents(k), now, 1) {
		for _, e := range evs {
			meeting += eventDuration(e)
		}
	}
	focus := types.Clamp01(1 - meeting.Hours()/workdayHours)
	b.Metrics["focus_score"] = focus

	if total >= 4 && rate < 0.5 {
		b.add("Completion rate is low",
			fmt.Sprintf("Only %.0f%% of tasks are done; trim or delegate the backlog", rate*100),
			PriorityMedium, 1-rate)
	}
	if overdue > 0 {
		priority := PriorityMedium
		if overdue > 3 {
			priority = PriorityHigh
		}
		b.add("Clear overdue tasks",
			fmt.Sprintf("%d tasks are past due; reschedule or close them", overdue),
			priority, math.Min(1, float64(overdue)/5))
	}
	if focus < 0.5 {
		b.add("Protect focus time",
			fmt.Sprintf("Meetings take %.1f hours today; decline or shorten one", meeting.Hours()),
			PriorityMedium, 1-focus)
	}
	return b
}
