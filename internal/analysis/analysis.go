// Package analysis turns a knowledge snapshot into recommendation bundles.
// Engines are stateless; the same snapshot always yields the same bundle.
package analysis

import (
	"sort"
	"time"

	"github.com/vthunder/budintel/internal/types"
)

// Priorities, highest first
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Recommendation is one actionable suggestion
type Recommendation struct {
	Title    string  `json:"title"`
	Detail   string  `json:"detail"`
	Priority string  `json:"priority"`
	Score    float64 `json:"score"` // relevance in [0,1]
	Engine   string  `json:"engine"`
}

// Bundle is an engine's output for one snapshot
type Bundle struct {
	Engine          string             `json:"engine"`
	Recommendations []Recommendation   `json:"recommendations"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// Engine produces a bundle from a snapshot
type Engine interface {
	Name() string
	Analyze(k types.Knowledge, now time.Time) Bundle
}

// Defaults returns every built-in engine
func Defaults() []Engine {
	return []Engine{
		Technique{},
		Productivity{},
		Workflow{},
		TimeManagement{},
	}
}

// RunAll runs each engine against k
func RunAll(engines []Engine, k types.Knowledge, now time.Time) []Bundle {
	out := make([]Bundle, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Analyze(k, now))
	}
	return out
}

// PriorityRank orders priorities, higher is more urgent
func PriorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Rank merges recommendations from all bundles, most urgent first, and keeps at most limit
func Rank(bundles []Bundle, limit int) []Recommendation {
	var all []Recommendation
	for _, b := range bundles {
		all = append(all, b.Recommendations...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		pi, pj := PriorityRank(all[i].Priority), PriorityRank(all[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return all[i].Score > all[j].Score
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

func newBundle(engine string, now time.Time) Bundle {
	return Bundle{
		Engine:          engine,
		Recommendations: []Recommendation{},
		Metrics:         make(map[string]float64),
		GeneratedAt:     now,
	}
}

func (b *Bundle) add(title, detail, priority string, score float64) {
	b.Recommendations = append(b.Recommendations, Recommendation{
		Title:    title,
		Detail:   detail,
		Priority: priority,
		Score:    types.Clamp01(score),
		Engine:   b.Engine,
	})
}

func openTasks(k types.Knowledge) []types.Task {
	var out []types.Task
	for _, t := range k.Tasks {
		if !t.IsCompleted() && t.Status != "canceled" {
			out = append(out, t)
		}
	}
	return out
}

func activeEvents(k types.Knowledge) []types.Event {
	var out []types.Event
	for _, e := range k.Events {
		if e.Status != "cancelled" && e.HasTime() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// eventsByDay groups timed, non-all-day events in [now, now+days) by calendar day
func eventsByDay(events []types.Event, now time.Time, days int) map[string][]types.Event {
	end := now.Add(time.Duration(days) * 24 * time.Hour)
	out := make(map[string][]types.Event)
	for _, e := range events {
		if e.AllDay || e.Start.Before(startOfDay(now)) || !e.Start.Before(end) {
			continue
		}
		key := e.Start.Format("2006-01-02")
		out[key] = append(out[key], e)
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func eventDuration(e types.Event) time.Duration {
	if e.End.After(e.Start) {
		return e.End.Sub(e.Start)
	}
	return time.Hour
}
