package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vthunder/budintel/internal/types"
)

const (
	heavyMeetingDay = 5
	backToBackSlack = 5 * time.Minute
	freeBlockMin    = 2 * time.Hour
	dayStartHour    = 9
	dayEndHour      = 17
	deadlineCluster = 3
)

// TimeManagement inspects the coming week of calendar and deadlines
type TimeManagement struct{}

func (TimeManagement) Name() string { return "time_management" }

func (tm TimeManagement) Analyze(k types.Knowledge, now time.Time) Bundle {
	b := newBundle(tm.Name(), now)
	byDay := eventsByDay(activeEvents(k), now, 7)

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	totalEvents, backToBack, freeBlocks := 0, 0, 0
	heaviest, heaviestDay := 0, ""
	for _, d := range days {
		evs := byDay[d]
		totalEvents += len(evs)
		if len(evs) > heaviest {
			heaviest, heaviestDay = len(evs), d
		}
		for i := 1; i < len(evs); i++ {
			prevEnd := evs[i-1].Start.Add(eventDuration(evs[i-1]))
			if gap := evs[i].Start.Sub(prevEnd); gap >= 0 && gap <= backToBackSlack {
				backToBack++
			}
		}
		freeBlocks += countFreeBlocks(evs)
	}

	perDay := 0.0
	if len(days) > 0 {
		perDay = float64(totalEvents) / float64(len(days))
	}
	b.Metrics["meetings_per_day"] = perDay
	b.Metrics["back_to_back"] = float64(backToBack)
	b.Metrics["free_blocks"] = float64(freeBlocks)

	if heaviest >= heavyMeetingDay {
		b.add("Lighten your heaviest day",
			fmt.Sprintf("%s has %d events scheduled", heaviestDay, heaviest),
			PriorityMedium, math.Min(1, float64(heaviest)/8))
	}
	if backToBack > 0 {
		b.add("Add buffers between meetings",
			fmt.Sprintf("%d meetings start right after another ends", backToBack),
			PriorityLow, math.Min(1, float64(backToBack)/4))
	}
	if len(days) > 0 && freeBlocks > 0 {
		b.add("Use your free blocks",
			fmt.Sprintf("%d blocks of two hours or more are open on busy days this week", freeBlocks),
			PriorityLow, 0.4)
	}

	dueByDay := make(map[string]int)
	for _, t := range openTasks(k) {
		if t.Due != nil && !t.Due.Before(startOfDay(now)) {
			dueByDay[t.Due.Format("2006-01-02")]++
		}
	}
	worst, worstDay := 0, ""
	for d, n := range dueByDay {
		if n > worst || (n == worst && d < worstDay) {
			worst, worstDay = n, d
		}
	}
	b.Metrics["max_deadlines_per_day"] = float64(worst)
	if worst >= deadlineCluster {
		b.add("Spread out clustered deadlines",
			fmt.Sprintf("%d tasks are due on %s", worst, worstDay),
			PriorityHigh, math.Min(1, float64(worst)/5))
	}
	return b
}

// countFreeBlocks counts working-hour gaps of at least freeBlockMin between sorted events
func countFreeBlocks(evs []types.Event) int {
	if len(evs) == 0 {
		return 0
	}
	day := startOfDay(evs[0].Start)
	cursor := day.Add(dayStartHour * time.Hour)
	end := day.Add(dayEndHour * time.Hour)

	n := 0
	for _, e := range evs {
		if e.Start.After(cursor) {
			s := e.Start
			if s.After(end) {
				s = end
			}
			if s.Sub(cursor) >= freeBlockMin {
				n++
			}
		}
		if eEnd := e.Start.Add(eventDuration(e)); eEnd.After(cursor) {
			cursor = eEnd
		}
		if !cursor.Before(end) {
			return n
		}
	}
	if end.Sub(cursor) >= freeBlockMin {
		n++
	}
	return n
}
