// Package coordinator runs per-user intelligence sessions and answers chat
// messages by classifying them and routing to the calendar or task handler.
//
// A session owns a bounded queue of pending updates and a reconciliation
// timer. Handler mutations flow in over the bus, are folded into the
// correlation cache immediately and queued; each tick drains the queue,
// refetches the user's knowledge and recomputes lifecycle and analysis
// results.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vthunder/budintel/internal/activity"
	"github.com/vthunder/budintel/internal/analysis"
	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/config"
	"github.com/vthunder/budintel/internal/correlate"
	"github.com/vthunder/budintel/internal/handlers"
	"github.com/vthunder/budintel/internal/intent"
	"github.com/vthunder/budintel/internal/knowledge"
	"github.com/vthunder/budintel/internal/lifecycle"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/profiling"
	"github.com/vthunder/budintel/internal/router"
	"github.com/vthunder/budintel/internal/types"
)

// InsightsUpdate summarizes one committed reconciliation
type InsightsUpdate struct {
	Correlations    int       `json:"correlations"`
	Projects        int       `json:"projects"`
	Recommendations int       `json:"recommendations"`
	Processed       int       `json:"processed_updates"`
	At              time.Time `json:"at"`
}

// TopicUserInsightsUpdated is published after every reconciliation
var TopicUserInsightsUpdated = bus.NewTopic[InsightsUpdate]("userInsightsUpdated")

// Options tunes session behavior
type Options struct {
	ReconcileInterval time.Duration
	QueueCapacity     int
	CorrelationMaxAge time.Duration
	HistoryTurns      int
	MessageTimeout    time.Duration // bounds one ProcessMessage call
	FetchTimeout      time.Duration // bounds the knowledge fetch of one reconciliation
}

// OptionsFrom converts the config section
func OptionsFrom(cfg config.Intelligence) Options {
	return Options{
		ReconcileInterval: cfg.ReconcileInterval,
		QueueCapacity:     cfg.QueueCapacity,
		CorrelationMaxAge: cfg.CorrelationMaxAge,
		HistoryTurns:      cfg.HistoryTurns,
		MessageTimeout:    cfg.MessageTimeout,
		FetchTimeout:      cfg.FetchTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := OptionsFrom(config.Defaults().Intelligence)
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = d.ReconcileInterval
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = d.QueueCapacity
	}
	if o.CorrelationMaxAge <= 0 {
		o.CorrelationMaxAge = d.CorrelationMaxAge
	}
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = d.HistoryTurns
	}
	if o.MessageTimeout <= 0 {
		o.MessageTimeout = d.MessageTimeout
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	return o
}

// Deps are the collaborators a coordinator needs. Only Calendar and Tasks
// are required; everything else has a default.
type Deps struct {
	Bus          *bus.Bus
	Sessions     SessionStore
	Calendar     handlers.CalendarHandler
	Tasks        handlers.TaskHandler
	Knowledge    knowledge.Provider
	Correlations *correlate.Engine
	Lifecycle    *lifecycle.Tracker
	Engines      []analysis.Engine
	Classifier   *intent.Classifier
	Journal      *activity.Log
	Profiler     *profiling.Profiler
}

// Coordinator is the central orchestrator
type Coordinator struct {
	bus          *bus.Bus
	sessions     SessionStore
	knowledge    knowledge.Provider
	correlations *correlate.Engine
	lifecycle    *lifecycle.Tracker
	engines      []analysis.Engine
	classifier   *intent.Classifier
	router       *router.Router
	journal      *activity.Log
	profiler     *profiling.Profiler
	opts         Options
	now          func() time.Time

	convMu        sync.Mutex
	conversations map[string]*types.ConversationContext

	unsubscribe []func()
}

// New wires a coordinator and subscribes it to handler, correlation and
// lifecycle notifications
func New(d Deps, opts Options) *Coordinator {
	if d.Bus == nil {
		d.Bus = bus.New()
	}
	if d.Sessions == nil {
		d.Sessions = NewMemoryStore()
	}
	if d.Knowledge == nil {
		d.Knowledge = knowledge.NewSource(d.Calendar, d.Tasks)
	}
	if d.Correlations == nil {
		d.Correlations = correlate.NewEngine(d.Bus)
	}
	if d.Lifecycle == nil {
		d.Lifecycle = lifecycle.NewTracker(lifecycle.DefaultTemplates(), d.Bus)
	}
	if d.Engines == nil {
		d.Engines = analysis.Defaults()
	}
	if d.Classifier == nil {
		d.Classifier = intent.NewClassifier(nil)
	}

	c := &Coordinator{
		bus:           d.Bus,
		sessions:      d.Sessions,
		knowledge:     d.Knowledge,
		correlations:  d.Correlations,
		lifecycle:     d.Lifecycle,
		engines:       d.Engines,
		classifier:    d.Classifier,
		journal:       d.Journal,
		profiler:      d.Profiler,
		opts:          opts.withDefaults(),
		now:           time.Now,
		conversations: make(map[string]*types.ConversationContext),
	}
	c.router = router.New(d.Calendar, d.Tasks, c)

	c.unsubscribe = []func(){
		bus.Subscribe(c.bus, handlers.TopicKnowledgeUpdated, c.onKnowledgeUpdated),
		bus.Subscribe(c.bus, correlate.TopicCorrelationsUpdated, func(userID string, u correlate.Update) {
			c.enqueue(userID, Update{Source: SourceCorrelation, Kind: string(u.Kind), RecordID: u.RecordID})
		}),
		bus.Subscribe(c.bus, lifecycle.TopicLifecycleUpdated, func(userID string, r lifecycle.Record) {
			c.enqueue(userID, Update{Source: SourceLifecycle, Kind: r.TimelineHealth, RecordID: r.ProjectID})
		}),
	}
	return c
}

// SetClock overrides the time source
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Bus returns the bus the coordinator listens on
func (c *Coordinator) Bus() *bus.Bus {
	return c.bus
}

// Session returns the user's session if one is running
func (c *Coordinator) Session(userID string) (*Session, bool) {
	s, ok := c.sessions.Get(userID)
	if !ok || !s.Active() {
		return nil, false
	}
	return s, true
}

// ActiveUsers lists users with a running session
func (c *Coordinator) ActiveUsers() []string {
	return c.sessions.Users()
}

// Start begins intelligence for a user: it allocates the session, arms the
// reconciliation timer and runs one analysis right away. Starting a running
// session is a no-op.
func (c *Coordinator) Start(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("start intelligence: empty user ID")
	}

	var loopCtx context.Context
	s, created := c.sessions.Open(userID, func() *Session {
		s := newSession(userID, c.opts.QueueCapacity, c.now())
		loopCtx, s.cancel = context.WithCancel(context.Background())
		s.active.Store(true)
		return s
	})
	if !created {
		return s, nil
	}
	go c.run(loopCtx, s)

	logging.Info("coordinator", "Intelligence started for %s (interval=%v)", userID, c.opts.ReconcileInterval)
	c.logActivity(func(j *activity.Log) error { return j.LogSession(userID, true) })

	if err := c.reconcile(ctx, s, false); err != nil {
		logging.Warn("coordinator", "Initial analysis for %s: %v", userID, err)
	}
	return s, nil
}

// Stop ends a user's session. The timer is cancelled synchronously; a
// reconciliation already in flight finishes but is not rescheduled, and the
// user's correlation and lifecycle state is discarded. Stop may be called
// from a TopicUserInsightsUpdated subscriber.
func (c *Coordinator) Stop(userID string) error {
	s, ok := c.sessions.Get(userID)
	if !ok {
		return fmt.Errorf("stop %s: %w", userID, ErrSessionNotFound)
	}

	s.active.Store(false)
	s.cancel()

	s.reconcileMu.Lock()
	c.correlations.Purge(userID)
	c.lifecycle.Purge(userID)
	c.sessions.Close(userID)
	s.reconcileMu.Unlock()

	logging.Info("coordinator", "Intelligence stopped for %s", userID)
	c.logActivity(func(j *activity.Log) error { return j.LogSession(userID, false) })
	return nil
}

// Close stops every session, waits for their timers to exit and detaches
// from the bus
func (c *Coordinator) Close() {
	var stopped []*Session
	for _, userID := range c.sessions.Users() {
		s, ok := c.sessions.Get(userID)
		if !ok {
			continue
		}
		if err := c.Stop(userID); err != nil {
			logging.Debug("coordinator", "Close: %v", err)
			continue
		}
		stopped = append(stopped, s)
	}
	for _, s := range stopped {
		<-s.done
	}
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.unsubscribe = nil
}

// Reconcile runs one reconciliation for the user now
func (c *Coordinator) Reconcile(ctx context.Context, userID string) error {
	s, ok := c.Session(userID)
	if !ok {
		return fmt.Errorf("reconcile %s: %w", userID, ErrSessionNotFound)
	}
	return c.reconcile(ctx, s, true)
}

func (c *Coordinator) run(ctx context.Context, s *Session) {
	defer close(s.done)

	ticker := time.NewTicker(c.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if err := c.reconcile(ctx, s, true); err != nil && !errors.Is(err, ErrSessionNotFound) {
				logging.Warn("coordinator", "Reconcile %s: %v", s.UserID, err)
			}
		}
	}
}

// reconcile drains the queue, refetches knowledge and recomputes derived
// state. seed controls whether the correlation cache is rebuilt from the
// snapshot; the initial analysis at start leaves it empty. The result is
// published after the session lock is released so subscribers may call
// back into the coordinator.
func (c *Coordinator) reconcile(ctx context.Context, s *Session, seed bool) error {
	update, ok, err := c.reconcileLocked(ctx, s, seed)
	if err != nil || !ok || !s.Active() {
		return err
	}
	userID := s.UserID
	bus.Publish(c.bus, TopicUserInsightsUpdated, userID, update)
	c.logActivity(func(j *activity.Log) error {
		return j.LogInsights(userID, update.Correlations, update.Projects, update.Recommendations)
	})
	return nil
}

func (c *Coordinator) reconcileLocked(ctx context.Context, s *Session, seed bool) (InsightsUpdate, bool, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	if !s.Active() {
		return InsightsUpdate{}, false, ErrSessionNotFound
	}
	userID := s.UserID
	defer c.profiler.Start(userID, profiling.StageReconcile, profiling.LevelMinimal)()
	pending := s.queue.Drain()

	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	doneKnowledge := c.profiler.Start(userID, profiling.StageKnowledge, profiling.LevelDetailed)
	k, kerr := c.knowledge.GetComprehensiveUserKnowledge(fetchCtx, userID)
	doneKnowledge()
	cancel()
	if kerr != nil {
		logging.Warn("coordinator", "Knowledge for %s is incomplete: %v", userID, kerr)
		c.logActivity(func(j *activity.Log) error { return j.LogError(userID, "knowledge fetch", kerr) })
	}
	// Stopped while fetching; results belong to nobody
	if !s.Active() {
		return InsightsUpdate{}, false, nil
	}

	now := c.now()
	if seed {
		c.correlations.Sync(userID, k)
		if n := c.correlations.Cleanup(userID, c.opts.CorrelationMaxAge); n > 0 {
			logging.Debug("coordinator", "Pruned %d stale correlations for %s", n, userID)
		}
	}

	projects := projectData(k)
	for _, rec := range c.lifecycle.Records(userID) {
		if _, ok := projects[rec.ProjectID]; !ok {
			c.lifecycle.Untrack(userID, rec.ProjectID)
		}
	}
	for id, data := range projects {
		c.lifecycle.Track(userID, id, data)
	}

	doneAnalysis := c.profiler.Start(userID, profiling.StageAnalysis, profiling.LevelDetailed)
	bundles := analysis.RunAll(c.engines, k, now)
	doneAnalysis()
	s.commit(k, kerr, bundles, len(pending), now)

	update := InsightsUpdate{
		Correlations:    c.correlations.Len(userID),
		Projects:        len(projects),
		Recommendations: countRecommendations(bundles),
		Processed:       len(pending),
		At:              now,
	}
	logging.Debug("coordinator", "Reconciled %s: %d updates, %d correlations, %d projects, %d recommendations",
		userID, update.Processed, update.Correlations, update.Projects, update.Recommendations)
	return update, true, nil
}

func (c *Coordinator) onKnowledgeUpdated(userID string, u handlers.KnowledgeUpdate) {
	s, ok := c.Session(userID)
	if !ok {
		return
	}
	switch {
	case u.Op == handlers.OpDeleted:
		c.correlations.Remove(userID, u.Kind, u.ID)
	case u.Event != nil:
		c.correlations.UpdateEvent(userID, *u.Event)
	case u.Task != nil:
		c.correlations.UpdateTask(userID, *u.Task)
	}
	c.add(s, Update{Source: SourceKnowledge, Kind: string(u.Op), RecordID: u.ID})
}

func (c *Coordinator) enqueue(userID string, u Update) {
	if s, ok := c.Session(userID); ok {
		c.add(s, u)
	}
}

func (c *Coordinator) add(s *Session, u Update) {
	u.At = c.now()
	if s.queue.Add(u) {
		logging.Debug("coordinator", "Update queue full for %s, dropped oldest", s.UserID)
	}
}

func (c *Coordinator) logActivity(fn func(j *activity.Log) error) {
	if c.journal == nil {
		return
	}
	if err := fn(c.journal); err != nil {
		logging.Warn("coordinator", "Activity log: %v", err)
	}
}

// projectData groups a snapshot's events and tasks by project
func projectData(k types.Knowledge) map[string]lifecycle.ProjectData {
	out := make(map[string]lifecycle.ProjectData)
	for _, ev := range k.Events {
		if ev.ProjectID == "" {
			continue
		}
		pd := out[ev.ProjectID]
		pd.Events = append(pd.Events, ev)
		out[ev.ProjectID] = pd
	}
	for _, t := range k.Tasks {
		if t.ProjectID == "" {
			continue
		}
		pd := out[t.ProjectID]
		pd.Tasks = append(pd.Tasks, t)
		out[t.ProjectID] = pd
	}
	for id, pd := range out {
		pd.Name = projectName(k, id)
		out[id] = pd
	}
	return out
}

func projectName(k types.Knowledge, id string) string {
	if name, ok := k.Projects[id]; ok && name != "" {
		return name
	}
	return id
}

func countRecommendations(bundles []analysis.Bundle) int {
	n := 0
	for _, b := range bundles {
		n += len(b.Recommendations)
	}
	return n
}
