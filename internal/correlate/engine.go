package correlate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/types"
)

// DefaultMaxAge is how long a scored pair stays cached without being recomputed
const DefaultMaxAge = 24 * time.Hour

// TopicCorrelationsUpdated carries pairs rescored after an update
var TopicCorrelationsUpdated = bus.NewTopic[Update]("correlationsUpdated")

// Record is a scored association between one event and one task
type Record struct {
	ID         string                `json:"id"`
	EventID    string                `json:"event_id"`
	TaskID     string                `json:"task_id"`
	Event      types.Event           `json:"event"`
	Task       types.Task            `json:"task"`
	Score      float64               `json:"score"`
	Level      types.ConfidenceLevel `json:"level"`
	Algorithm  Algorithm             `json:"algorithm"`
	Breakdown  map[Algorithm]float64 `json:"breakdown"`
	Stubbed    []Algorithm           `json:"stubbed,omitempty"` // placeholder algorithms included in Score
	ComputedAt time.Time             `json:"computed_at"`
}

// Update is published whenever pairs are rescored for a user
type Update struct {
	Kind     types.SourceKind `json:"kind,omitempty"`
	RecordID string           `json:"record_id,omitempty"`
	Pairs    int              `json:"pairs"`
	Overall  float64          `json:"overall_confidence"`
}

// Snapshot is the current correlation state for a user
type Snapshot struct {
	Correlations      []Record              `json:"correlations"`
	OverallConfidence float64               `json:"overall_confidence"`
	Level             types.ConfidenceLevel `json:"level"`
}

// PairID builds the cache key for an (event, task) pair
func PairID(eventID, taskID string) string {
	return eventID + "::" + taskID
}

// scoredEvent and scoredTask carry tokens computed once per update
type scoredEvent struct {
	types.Event
	tokens TokenSet
}

type scoredTask struct {
	types.Task
	tokens TokenSet
}

type userCache struct {
	events map[string]scoredEvent
	tasks  map[string]scoredTask
	pairs  map[string]Record
}

func newUserCache() *userCache {
	return &userCache{
		events: make(map[string]scoredEvent),
		tasks:  make(map[string]scoredTask),
		pairs:  make(map[string]Record),
	}
}

// Engine scores event/task similarity and caches the results per user
type Engine struct {
	mu    sync.Mutex
	users map[string]*userCache
	bus   *bus.Bus
	now   func() time.Time
}

// NewEngine creates a correlation engine. b may be nil.
func NewEngine(b *bus.Bus) *Engine {
	return &Engine{
		users: make(map[string]*userCache),
		bus:   b,
		now:   time.Now,
	}
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Score computes the weighted correlation between an event and a task.
// Algorithms that cannot apply are left out of the mean.
func Score(ev types.Event, task types.Task, now time.Time) Record {
	return ScoreTokens(ev, NewTokenSet(ev.Text()), task, NewTokenSet(task.Text()), now)
}

// ScoreTokens is Score with both sides already tokenized
func ScoreTokens(ev types.Event, evTokens TokenSet, task types.Task, taskTokens TokenSet, now time.Time) Record {
	breakdown := make(map[Algorithm]float64, 4)

	breakdown[AlgorithmKeyword] = Jaccard(evTokens, taskTokens)
	if s, ok := timelineScore(&ev, &task); ok {
		breakdown[AlgorithmTimeline] = s
	}
	breakdown[AlgorithmContextual] = contextualScore(&ev, &task)
	breakdown[AlgorithmBehavioral] = behavioralPrior

	sum := 0.0
	for _, v := range breakdown {
		sum += v
	}
	score := types.Clamp01(sum / float64(len(breakdown)))

	return Record{
		ID:         PairID(ev.ID, task.ID),
		EventID:    ev.ID,
		TaskID:     task.ID,
		Event:      ev,
		Task:       task,
		Score:      score,
		Level:      types.LevelFor(score),
		Algorithm:  AlgorithmWeighted,
		Breakdown:  breakdown,
		Stubbed:    []Algorithm{AlgorithmBehavioral},
		ComputedAt: now,
	}
}

// Update rescores record against every counterpart on file for userID.
// record must be a types.Event or types.Task (value or pointer).
func (e *Engine) Update(userID string, kind types.SourceKind, record any) ([]Record, error) {
	switch kind {
	case types.SourceEvent:
		ev, ok := asEvent(record)
		if !ok {
			return nil, fmt.Errorf("event update for %s: unexpected record %T", userID, record)
		}
		return e.UpdateEvent(userID, ev), nil
	case types.SourceTask:
		t, ok := asTask(record)
		if !ok {
			return nil, fmt.Errorf("task update for %s: unexpected record %T", userID, record)
		}
		return e.UpdateTask(userID, t), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

func asEvent(v any) (types.Event, bool) {
	switch r := v.(type) {
	case types.Event:
		return r, true
	case *types.Event:
		if r != nil {
			return *r, true
		}
	}
	return types.Event{}, false
}

func asTask(v any) (types.Task, bool) {
	switch r := v.(type) {
	case types.Task:
		return r, true
	case *types.Task:
		if r != nil {
			return *r, true
		}
	}
	return types.Task{}, false
}

// UpdateEvent stores ev and rescores it against all known tasks. Scoring
// runs outside the engine lock.
func (e *Engine) UpdateEvent(userID string, ev types.Event) []Record {
	if ev.ID == "" {
		logging.Debug("correlate", "Skipping event without ID for %s", userID)
		return nil
	}
	now := e.now()
	se := scoredEvent{Event: ev, tokens: NewTokenSet(ev.Text())}

	e.mu.Lock()
	c := e.cache(userID)
	c.events[ev.ID] = se
	tasks := make([]scoredTask, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	updated := make([]Record, 0, len(tasks))
	for _, t := range tasks {
		updated = append(updated, ScoreTokens(se.Event, se.tokens, t.Task, t.tokens, now))
	}

	overall := e.store(userID, c, updated)
	e.publish(userID, Update{Kind: types.SourceEvent, RecordID: ev.ID, Pairs: len(updated), Overall: overall})
	return updated
}

// UpdateTask stores t and rescores it against all known events. Scoring
// runs outside the engine lock.
func (e *Engine) UpdateTask(userID string, t types.Task) []Record {
	if t.ID == "" {
		logging.Debug("correlate", "Skipping task without ID for %s", userID)
		return nil
	}
	now := e.now()
	st := scoredTask{Task: t, tokens: NewTokenSet(t.Text())}

	e.mu.Lock()
	c := e.cache(userID)
	c.tasks[t.ID] = st
	events := make([]scoredEvent, 0, len(c.events))
	for _, ev := range c.events {
		events = append(events, ev)
	}
	e.mu.Unlock()

	updated := make([]Record, 0, len(events))
	for _, ev := range events {
		updated = append(updated, ScoreTokens(ev.Event, ev.tokens, st.Task, st.tokens, now))
	}

	overall := e.store(userID, c, updated)
	e.publish(userID, Update{Kind: types.SourceTask, RecordID: t.ID, Pairs: len(updated), Overall: overall})
	return updated
}

// store saves freshly scored pairs into c. Pairs whose event or task was
// removed meanwhile, or a cache replaced by Sync or Purge, are discarded.
func (e *Engine) store(userID string, c *userCache, recs []Record) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.users[userID] != c {
		if cur, ok := e.users[userID]; ok {
			return overallLocked(cur)
		}
		return 0
	}
	for _, rec := range recs {
		_, hasEvent := c.events[rec.EventID]
		_, hasTask := c.tasks[rec.TaskID]
		if hasEvent && hasTask {
			c.pairs[rec.ID] = rec
		}
	}
	return overallLocked(c)
}

// Remove forgets a record and every pair it participates in
func (e *Engine) Remove(userID string, kind types.SourceKind, id string) {
	e.mu.Lock()
	c, ok := e.users[userID]
	if !ok {
		e.mu.Unlock()
		return
	}
	switch kind {
	case types.SourceEvent:
		delete(c.events, id)
		for pid, rec := range c.pairs {
			if rec.EventID == id {
				delete(c.pairs, pid)
			}
		}
	case types.SourceTask:
		delete(c.tasks, id)
		for pid, rec := range c.pairs {
			if rec.TaskID == id {
				delete(c.pairs, pid)
			}
		}
	}
	overall := overallLocked(c)
	pairs := len(c.pairs)
	e.mu.Unlock()

	e.publish(userID, Update{Kind: kind, RecordID: id, Pairs: pairs, Overall: overall})
}

// Sync replaces the user's records with a fresh knowledge snapshot and
// rescores every pair. Completed and canceled tasks are skipped.
func (e *Engine) Sync(userID string, k types.Knowledge) int {
	now := e.now()
	c := newUserCache()
	for _, ev := range k.Events {
		if ev.ID == "" || ev.Status == "cancelled" {
			continue
		}
		c.events[ev.ID] = scoredEvent{Event: ev, tokens: NewTokenSet(ev.Text())}
	}
	for _, t := range k.Tasks {
		if t.ID == "" || t.IsCompleted() || t.Status == "canceled" {
			continue
		}
		c.tasks[t.ID] = scoredTask{Task: t, tokens: NewTokenSet(t.Text())}
	}
	for _, ev := range c.events {
		for _, t := range c.tasks {
			rec := ScoreTokens(ev.Event, ev.tokens, t.Task, t.tokens, now)
			c.pairs[rec.ID] = rec
		}
	}

	e.mu.Lock()
	e.users[userID] = c
	overall := overallLocked(c)
	pairs := len(c.pairs)
	e.mu.Unlock()

	e.publish(userID, Update{Pairs: pairs, Overall: overall})
	return pairs
}

// GetRealTimeCorrelations returns cached pairs (best first) and their mean score
func (e *Engine) GetRealTimeCorrelations(userID string) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.users[userID]
	if !ok || len(c.pairs) == 0 {
		return Snapshot{Correlations: []Record{}, Level: types.LevelFor(0)}
	}

	recs := make([]Record, 0, len(c.pairs))
	for _, r := range c.pairs {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].ID < recs[j].ID
	})

	overall := overallLocked(c)
	return Snapshot{
		Correlations:      recs,
		OverallConfidence: overall,
		Level:             types.LevelFor(overall),
	}
}

// Cleanup prunes pairs older than maxAge and returns how many were removed
func (e *Engine) Cleanup(userID string, maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := e.now().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.users[userID]
	if !ok {
		return 0
	}
	removed := 0
	for id, rec := range c.pairs {
		if rec.ComputedAt.Before(cutoff) {
			delete(c.pairs, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("correlate", "Pruned %d stale pairs for %s", removed, userID)
	}
	return removed
}

// Purge drops everything cached for a user
func (e *Engine) Purge(userID string) {
	e.mu.Lock()
	delete(e.users, userID)
	e.mu.Unlock()
}

// Len returns the number of cached pairs for a user
func (e *Engine) Len(userID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.users[userID]; ok {
		return len(c.pairs)
	}
	return 0
}

func (e *Engine) cache(userID string) *userCache {
	c, ok := e.users[userID]
	if !ok {
		c = newUserCache()
		e.users[userID] = c
	}
	return c
}

func overallLocked(c *userCache) float64 {
	if len(c.pairs) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range c.pairs {
		sum += r.Score
	}
	return sum / float64(len(c.pairs))
}

func (e *Engine) publish(userID string, u Update) {
	if e.bus == nil {
		return
	}
	bus.Publish(e.bus, TopicCorrelationsUpdated, userID, u)
}
