package coordinator

import (
	"fmt"
	"time"

	"github.com/vthunder/budintel/internal/analysis"
	"github.com/vthunder/budintel/internal/correlate"
	"github.com/vthunder/budintel/internal/intent"
	"github.com/vthunder/budintel/internal/lifecycle"
	"github.com/vthunder/budintel/internal/profiling"
	"github.com/vthunder/budintel/internal/types"
)

const (
	recommendationLimit = 10
	strongLinkage       = 0.6
	linkedScore         = 0.3 // lowest score that still counts as related
	riskBottlenecks     = 2
)

// Insight kinds
const (
	InsightStrongLinkage = "strong_linkage"
	InsightProductivity  = "productivity_risk"
	InsightProjectBehind = "project_behind"
	InsightUnlinked      = "unlinked_work"
)

// Insight severities
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Insight is an observation drawn from more than one engine
type Insight struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Meta describes the session behind an intelligence report
type Meta struct {
	StartedAt       time.Time                       `json:"started_at"`
	QueueDepth      int                             `json:"queue_depth"`
	DroppedUpdates  int                             `json:"dropped_updates"`
	ProcessedTotal  int                             `json:"processed_updates"`
	LastReconcileAt *time.Time                      `json:"last_reconcile_at,omitempty"`
	LastMessageAt   *time.Time                      `json:"last_message_at,omitempty"`
	KnowledgeError  string                          `json:"knowledge_error,omitempty"`
	Classifier      intent.Stats                    `json:"classifier"`
	Timings         map[string]profiling.StageStats `json:"timings,omitempty"`
}

// Intelligence is the unified view returned to callers
type Intelligence struct {
	UserID          string                    `json:"user_id"`
	Correlations    correlate.Snapshot        `json:"correlations"`
	Lifecycle       []lifecycle.Record        `json:"lifecycle"`
	Insights        []Insight                 `json:"insights"`
	Recommendations []analysis.Recommendation `json:"recommendations"`
	Engines         []string                  `json:"engines"`
	LastAnalysisAt  *time.Time                `json:"last_analysis_at"`
	Meta            Meta                      `json:"meta"`
}

// GetUserIntelligence returns the latest results for a user with a running
// session and stamps the session's last analysis time
func (c *Coordinator) GetUserIntelligence(userID string) (Intelligence, error) {
	s, ok := c.Session(userID)
	if !ok {
		return Intelligence{}, fmt.Errorf("intelligence for %s: %w", userID, ErrSessionNotFound)
	}

	snap := c.correlations.GetRealTimeCorrelations(userID)
	records := c.lifecycle.Records(userID)

	s.mu.RLock()
	k := s.knowledge
	bundles := s.bundles
	meta := Meta{
		StartedAt:       s.StartedAt,
		QueueDepth:      s.queue.Len(),
		DroppedUpdates:  s.queue.Dropped(),
		ProcessedTotal:  s.processed,
		LastReconcileAt: copyTime(s.lastReconcileAt),
		KnowledgeError:  s.knowledgeErr,
	}
	s.mu.RUnlock()
	meta.Classifier = c.classifier.Stats()
	meta.Timings = c.profiler.Stats()
	if c.journal != nil {
		if t := c.journal.LastMessageTime(userID); !t.IsZero() {
			meta.LastMessageAt = &t
		}
	}

	now := c.now()
	s.markAnalyzed(now)

	return Intelligence{
		UserID:          userID,
		Correlations:    snap,
		Lifecycle:       records,
		Insights:        crossInsights(snap, records, k),
		Recommendations: analysis.Rank(bundles, recommendationLimit),
		Engines:         engineNames(bundles),
		LastAnalysisAt:  &now,
		Meta:            meta,
	}, nil
}

// crossInsights combines correlation, lifecycle and snapshot state
func crossInsights(snap correlate.Snapshot, records []lifecycle.Record, k types.Knowledge) []Insight {
	var out []Insight

	if snap.OverallConfidence >= strongLinkage && len(records) > 0 {
		out = append(out, Insight{
			Kind:     InsightStrongLinkage,
			Severity: SeverityInfo,
			Message: fmt.Sprintf("Your calendar and tasks are closely linked (%.0f%% correlation confidence) across %d active project(s).",
				snap.OverallConfidence*100, len(records)),
		})
	}

	gaps := 0
	for _, r := range records {
		gaps += len(r.Bottlenecks)
	}
	if gaps > riskBottlenecks {
		out = append(out, Insight{
			Kind:     InsightProductivity,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%d stretches without activity across your projects may slow delivery.", gaps),
		})
	}

	for _, r := range records {
		if r.TimelineHealth != lifecycle.HealthBehind {
			continue
		}
		out = append(out, Insight{
			Kind:     InsightProjectBehind,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s is behind schedule in the %s phase.", projectName(k, r.ProjectID), r.CurrentPhase),
		})
	}

	if len(k.Events) > 0 && len(k.Tasks) > 0 && !anyLinked(snap) {
		out = append(out, Insight{
			Kind:     InsightUnlinked,
			Severity: SeverityInfo,
			Message:  "None of your events relate to your tasks yet. Linking meetings to the work they drive makes planning easier.",
		})
	}
	return out
}

func anyLinked(snap correlate.Snapshot) bool {
	for _, r := range snap.Correlations {
		if r.Score >= linkedScore {
			return true
		}
	}
	return false
}

// engineNames lists engines that produced at least one recommendation
func engineNames(bundles []analysis.Bundle) []string {
	names := []string{}
	for _, b := range bundles {
		if len(b.Recommendations) > 0 {
			names = append(names, b.Engine)
		}
	}
	return names
}
