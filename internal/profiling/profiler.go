// Package profiling times the stages of message handling and
// reconciliation. Timings are appended to a JSONL file and summarized
// in memory per stage.
package profiling

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Level determines how detailed the profiling is
type Level string

const (
	LevelOff      Level = "off"      // No profiling
	LevelMinimal  Level = "minimal"  // Top-level stages only
	LevelDetailed Level = "detailed" // Substages included
)

// Stage names recorded by the coordinator
const (
	StageMessage   = "message"
	StageClassify  = "message.classify"
	StageRoute     = "message.route"
	StageReconcile = "reconcile"
	StageKnowledge = "reconcile.knowledge"
	StageAnalysis  = "reconcile.analysis"
)

// Timing is one recorded measurement
type Timing struct {
	UserID     string         `json:"user_id"`
	Stage      string         `json:"stage"`
	StartTime  time.Time      `json:"start_time"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StageStats aggregates timings for a stage
type StageStats struct {
	Count   int     `json:"count"`
	TotalMs float64 `json:"total_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// AvgMs returns the mean duration
func (s StageStats) AvgMs() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.TotalMs / float64(s.Count)
}

// Profiler records stage timings. A nil *Profiler is valid and records nothing.
type Profiler struct {
	level   Level
	mu      sync.Mutex
	logFile *os.File
	encoder *json.Encoder
	stats   map[string]*StageStats
}

// ParseLevel maps a config string to a level; unknown values are off
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelMinimal, LevelDetailed:
		return Level(s)
	default:
		return LevelOff
	}
}

// New creates a profiler. logPath may be empty to keep stats in memory only.
// LevelOff returns nil.
func New(level Level, logPath string) (*Profiler, error) {
	if level == LevelOff {
		return nil, nil
	}
	p := &Profiler{level: level, stats: make(map[string]*StageStats)}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open profiling log: %w", err)
		}
		p.logFile = f
		p.encoder = json.NewEncoder(f)
	}
	return p, nil
}

// Close closes the log file
func (p *Profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logFile != nil {
		err := p.logFile.Close()
		p.logFile, p.encoder = nil, nil
		return err
	}
	return nil
}

// Start begins timing a stage at the given level and returns a function to
// call when done
func (p *Profiler) Start(userID, stage string, level Level) func() {
	return p.StartWithMetadata(userID, stage, level, nil)
}

// StartWithMetadata is Start with extra fields attached to the timing
func (p *Profiler) StartWithMetadata(userID, stage string, level Level, metadata map[string]any) func() {
	if !p.ShouldProfile(level) {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.Record(userID, stage, time.Since(start), metadata)
	}
}

// Record stores a timing measurement
func (p *Profiler) Record(userID, stage string, d time.Duration, metadata map[string]any) {
	if p == nil {
		return
	}
	ms := float64(d.Nanoseconds()) / 1e6

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.stats[stage]
	if !ok {
		st = &StageStats{}
		p.stats[stage] = st
	}
	st.Count++
	st.TotalMs += ms
	if ms > st.MaxMs {
		st.MaxMs = ms
	}

	if p.encoder != nil {
		_ = p.encoder.Encode(Timing{
			UserID:     userID,
			Stage:      stage,
			StartTime:  time.Now().Add(-d),
			DurationMs: ms,
			Metadata:   metadata,
		})
	}
}

// ShouldProfile reports whether stages at level are recorded
func (p *Profiler) ShouldProfile(level Level) bool {
	if p == nil {
		return false
	}
	switch p.level {
	case LevelDetailed:
		return level == LevelMinimal || level == LevelDetailed
	case LevelMinimal:
		return level == LevelMinimal
	default:
		return false
	}
}

// Level returns the configured level
func (p *Profiler) Level() Level {
	if p == nil {
		return LevelOff
	}
	return p.level
}

// Stats returns a copy of the per-stage summary
func (p *Profiler) Stats() map[string]StageStats {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]StageStats, len(p.stats))
	for k, v := range p.stats {
		out[k] = *v
	}
	return out
}

// Stages lists recorded stage names in order
func (p *Profiler) Stages() []string {
	stats := p.Stats()
	names := make([]string, 0, len(stats))
	for k := range stats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
