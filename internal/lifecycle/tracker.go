// Package lifecycle classifies projects against phase templates and
// estimates their progress, timeline health and completion date.
package lifecycle

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/types"
)

// Timeline health values
const (
	HealthHealthy = "healthy"
	HealthAtRisk  = "at-risk"
	HealthBehind  = "behind"
	HealthUnknown = "unknown"
)

const (
	recentWindow        = 7 * 24 * time.Hour
	gapThresholdDays    = 7.0
	highSeverityDays    = 14.0
	defaultTaskDuration = 3.0 // days, when nothing has been completed yet
	maxActivityBonus    = 10.0
)

// TopicLifecycleUpdated carries every freshly computed record
var TopicLifecycleUpdated = bus.NewTopic[Record]("lifecycleUpdated")

// ProjectData is the raw material for one project
type ProjectData struct {
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Events      []types.Event `json:"events,omitempty"`
	Tasks       []types.Task  `json:"tasks,omitempty"`
}

// Bottleneck is a stretch with no project activity
type Bottleneck struct {
	Kind     string    `json:"kind"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	GapDays  float64   `json:"gap_days"`
	Severity string    `json:"severity"` // medium, high
}

// Prediction estimates when the remaining work finishes
type Prediction struct {
	Date        time.Time `json:"date"`
	Optimistic  time.Time `json:"optimistic"`
	Pessimistic time.Time `json:"pessimistic"`
	Confidence  float64   `json:"confidence"`
	Remaining   int       `json:"remaining_tasks"`
}

// Record is the lifecycle state of one project
type Record struct {
	ProjectID            string       `json:"project_id"`
	ProjectType          string       `json:"project_type"`
	CurrentPhase         string       `json:"current_phase"`
	PhaseIndex           int          `json:"phase_index"`
	TotalPhases          int          `json:"total_phases"`
	PhaseProgress        float64      `json:"phase_progress"`
	TimelineHealth       string       `json:"timeline_health"`
	Bottlenecks          []Bottleneck `json:"bottlenecks"`
	CompletionPrediction Prediction   `json:"completion_prediction"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Tracker keeps the latest lifecycle record per user and project
type Tracker struct {
	mu        sync.RWMutex
	templates []Template
	records   map[string]map[string]Record // userID -> projectID -> record
	bus       *bus.Bus
	now       func() time.Time
}

// NewTracker creates a tracker. Nil templates selects the built-in set; b may be nil.
func NewTracker(templates []Template, b *bus.Bus) *Tracker {
	if len(templates) == 0 {
		templates = DefaultTemplates()
	}
	return &Tracker{
		templates: templates,
		records:   make(map[string]map[string]Record),
		bus:       b,
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Track recomputes the record for projectID, replacing any previous one
func (t *Tracker) Track(userID, projectID string, data ProjectData) Record {
	rec := Analyze(t.templates, projectID, data, t.now())

	t.mu.Lock()
	m, ok := t.records[userID]
	if !ok {
		m = make(map[string]Record)
		t.records[userID] = m
	}
	m[projectID] = rec
	t.mu.Unlock()

	logging.Debug("lifecycle", "%s/%s: %s phase %s (%.0f%%, %s)",
		userID, projectID, rec.ProjectType, rec.CurrentPhase, rec.PhaseProgress, rec.TimelineHealth)
	if t.bus != nil {
		bus.Publish(t.bus, TopicLifecycleUpdated, userID, rec)
	}
	return rec
}

// Untrack removes a single project record
func (t *Tracker) Untrack(userID, projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.records[userID]; ok {
		delete(m, projectID)
	}
}

// Purge drops every record for a user
func (t *Tracker) Purge(userID string) {
	t.mu.Lock()
	delete(t.records, userID)
	t.mu.Unlock()
}

// Get returns one project record
func (t *Tracker) Get(userID, projectID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID][projectID]
	return rec, ok
}

// Records returns all of a user's records ordered by project ID
func (t *Tracker) Records(userID string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records[userID]))
	for _, r := range t.records[userID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

// Analyze computes a lifecycle record without storing it
func Analyze(templates []Template, projectID string, data ProjectData, now time.Time) Record {
	docs := documents(data)
	tmpl := classifyType(templates, docs)
	idx := currentPhase(tmpl, docs)
	total := len(tmpl.Phases)
	dates := activityDates(data)

	progress := float64(idx) / float64(total) * 100
	progress += math.Min(maxActivityBonus, 2*float64(recentHits(tmpl.Phases[idx], docs, now)))

	return Record{
		ProjectID:            projectID,
		ProjectType:          tmpl.Type,
		CurrentPhase:         tmpl.Phases[idx].Name,
		PhaseIndex:           idx,
		TotalPhases:          total,
		PhaseProgress:        math.Min(progress, 100),
		TimelineHealth:       timelineHealth(tmpl, idx, dates, now),
		Bottlenecks:          bottlenecks(dates, now),
		CompletionPrediction: predictCompletion(data, dates, now),
		UpdatedAt:            now,
	}
}

// doc is one piece of project text with the last time it was touched
type doc struct {
	tokens []string
	at     time.Time
}

func documents(data ProjectData) []doc {
	var docs []doc
	if head := strings.TrimSpace(data.Name + " " + data.Description); head != "" {
		docs = append(docs, doc{tokens: words(head)})
	}
	for i := range data.Events {
		ev := &data.Events[i]
		docs = append(docs, doc{tokens: words(ev.Text()), at: ev.Start})
	}
	for i := range data.Tasks {
		task := &data.Tasks[i]
		docs = append(docs, doc{tokens: words(task.Text()), at: lastTouched(task)})
	}
	return docs
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-'
	})
}

func lastTouched(t *types.Task) time.Time {
	at := t.CreatedAt
	if t.UpdatedAt.After(at) {
		at = t.UpdatedAt
	}
	if t.CompletedAt != nil && t.CompletedAt.After(at) {
		at = *t.CompletedAt
	}
	return at
}

func hits(keywords []string, docs []doc) int {
	if len(keywords) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[k] = struct{}{}
	}
	n := 0
	for _, d := range docs {
		for _, w := range d.tokens {
			if _, ok := set[w]; ok {
				n++
			}
		}
	}
	return n
}

// classifyType votes by total keyword hits. Ties keep the earlier template;
// no hits at all selects the general template.
func classifyType(templates []Template, docs []doc) Template {
	best, bestHits := -1, 0
	for i, t := range templates {
		if h := hits(t.Keywords, docs); h > bestHits {
			best, bestHits = i, h
		}
	}
	if best >= 0 {
		return templates[best]
	}
	for _, t := range templates {
		if t.Type == GeneralType {
			return t
		}
	}
	return templates[len(templates)-1]
}

func currentPhase(t Template, docs []doc) int {
	best, bestHits := 0, 0
	for i, p := range t.Phases {
		if h := hits(p.Keywords, docs); h > bestHits {
			best, bestHits = i, h
		}
	}
	return best
}

func recentHits(p Phase, docs []doc, now time.Time) int {
	var recent []doc
	for _, d := range docs {
		if !d.at.IsZero() && now.Sub(d.at) <= recentWindow {
			recent = append(recent, d)
		}
	}
	return hits(p.Keywords, recent)
}

func activityDates(data ProjectData) []time.Time {
	var dates []time.Time
	for i := range data.Events {
		if !data.Events[i].Start.IsZero() {
			dates = append(dates, data.Events[i].Start)
		}
	}
	for i := range data.Tasks {
		t := &data.Tasks[i]
		if !t.CreatedAt.IsZero() {
			dates = append(dates, t.CreatedAt)
		}
		if t.CompletedAt != nil && !t.CompletedAt.IsZero() {
			dates = append(dates, *t.CompletedAt)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// timelineHealth lays the template's phases out from the first activity date.
// A phase is behind when its planned end has passed while the project has not
// moved beyond it.
func timelineHealth(t Template, idx int, dates []time.Time, now time.Time) string {
	if len(dates) == 0 {
		return HealthUnknown
	}
	start := dates[0]
	behind := 0
	end := start
	for i, p := range t.Phases {
		end = end.Add(time.Duration(p.DurationDays) * 24 * time.Hour)
		if i >= idx && end.Before(now) {
			behind++
		}
	}
	switch {
	case behind == 0:
		return HealthHealthy
	case float64(behind) <= float64(len(t.Phases))/2:
		return HealthAtRisk
	default:
		return HealthBehind
	}
}

func bottlenecks(dates []time.Time, now time.Time) []Bottleneck {
	out := []Bottleneck{}
	if len(dates) == 0 {
		return out
	}
	check := func(from, to time.Time) {
		gap := to.Sub(from).Hours() / 24
		if gap <= gapThresholdDays {
			return
		}
		severity := "medium"
		if gap > highSeverityDays {
			severity = "high"
		}
		out = append(out, Bottleneck{Kind: "activity_gap", From: from, To: to, GapDays: math.Round(gap*10) / 10, Severity: severity})
	}
	for i := 1; i < len(dates); i++ {
		check(dates[i-1], dates[i])
	}
	if last := dates[len(dates)-1]; last.Before(now) {
		check(last, now)
	}
	return out
}

func predictCompletion(data ProjectData, dates []time.Time, now time.Time) Prediction {
	remaining := 0
	var total float64
	completed := 0
	for i := range data.Tasks {
		t := &data.Tasks[i]
		switch {
		case t.IsCompleted():
			if t.CompletedAt != nil && !t.CreatedAt.IsZero() && t.CompletedAt.After(t.CreatedAt) {
				total += t.CompletedAt.Sub(t.CreatedAt).Hours() / 24
				completed++
			}
		case t.Status != "canceled":
			remaining++
		}
	}
	avg := defaultTaskDuration
	if completed > 0 {
		avg = total / float64(completed)
	}

	at := func(mult float64) time.Time {
		days := float64(remaining) * avg * mult
		return now.Add(time.Duration(days * 24 * float64(time.Hour)))
	}

	confidence := 0.0
	if len(data.Events) > 0 {
		confidence += 0.25
	}
	if len(data.Tasks) > 0 {
		confidence += 0.25
	}
	if completed > 0 {
		confidence += 0.25
	}
	if len(dates) > 0 {
		confidence += 0.25
	}

	return Prediction{
		Date:        at(1.0),
		Optimistic:  at(0.8),
		Pessimistic: at(1.3),
		Confidence:  confidence,
		Remaining:   remaining,
	}
}
