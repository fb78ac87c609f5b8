package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vthunder/budintel/internal/correlate"
	"github.com/vthunder/budintel/internal/types"
)

const (
	smallTaskWords    = 4
	pomodoroThreshold = 5
	fragmentedDay     = 4
	batchThreshold    = 3
)

// Technique suggests working methods that fit the shape of the workload
type Technique struct{}

func (Technique) Name() string { return "technique" }

func (t Technique) Analyze(k types.Knowledge, now time.Time) Bundle {
	b := newBundle(t.Name(), now)
	open := openTasks(k)

	small := 0
	for _, task := range open {
		if n := len(strings.Fields(task.Title)); n > 0 && n <= smallTaskWords {
			small++
		}
	}
	b.Metrics["small_tasks"] = float64(small)
	if small >= pomodoroThreshold {
		b.add("Try the Pomodoro technique",
			fmt.Sprintf("%d short tasks are open; work through them in 25-minute sprints", small),
			PriorityMedium, float64(small)/float64(len(open)))
	}

	busiest, busiestDay := 0, ""
	for day, evs := range eventsByDay(activeEvents(k), now, 7) {
		if len(evs) > busiest || (len(evs) == busiest && day < busiestDay) {
			busiest, busiestDay = len(evs), day
		}
	}
	b.Metrics["max_events_per_day"] = float64(busiest)
	if busiest >= fragmentedDay {
		b.add("Use time blocking",
			fmt.Sprintf("%s has %d separate events; block the gaps for focused work", busiestDay, busiest),
			PriorityMedium, float64(busiest)/8)
	}

	var frogs []string
	for _, task := range open {
		if task.Priority == "high" && task.IsOverdue(now) {
			frogs = append(frogs, task.Title)
		}
	}
	sort.Strings(frogs)
	b.Metrics["overdue_high_priority"] = float64(len(frogs))
	if len(frogs) > 0 {
		b.add("Eat the frog",
			fmt.Sprintf("Start tomorrow with %q before anything else", frogs[0]),
			PriorityHigh, 0.9)
	}

	if word, n := largestCluster(open); n >= batchThreshold {
		b.add("Batch similar tasks",
			fmt.Sprintf("%d open tasks mention %q; handle them in one session", n, word),
			PriorityLow, float64(n)/float64(len(open)))
	}
	return b
}

// largestCluster finds the token shared by the most open tasks
func largestCluster(tasks []types.Task) (string, int) {
	counts := make(map[string]int)
	for _, t := range tasks {
		seen := make(map[string]bool)
		for _, tok := range correlate.Tokens(t.Title) {
			if !seen[tok] {
				seen[tok] = true
				counts[tok]++
			}
		}
	}
	best, bestN := "", 0
	for tok, n := range counts {
		if n > bestN || (n == bestN && tok < best) {
			best, bestN = tok, n
		}
	}
	return best, bestN
}
