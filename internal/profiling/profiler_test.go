package profiling

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// readTimings reads all recorded timings from a file.
func readTimings(t *testing.T, path string) []Timing {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read timings: %v", err)
	}

	var timings []Timing
	dec := json.NewDecoder(strings.NewReader(string(data)))
	for dec.More() {
		var mt Timing
		if err := dec.Decode(&mt); err != nil {
			t.Fatalf("decode timing: %v", err)
		}
		timings = append(timings, mt)
	}
	return timings
}

// --- New / ParseLevel ---

func TestNew_OffReturnsNil(t *testing.T) {
	p, err := New(LevelOff, "")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Error("expected nil profiler for LevelOff")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"minimal":  LevelMinimal,
		"detailed": LevelDetailed,
		"off":      LevelOff,
		"":         LevelOff,
		"trace":    LevelOff,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_BadPath(t *testing.T) {
	_, err := New(LevelMinimal, filepath.Join(t.TempDir(), "missing", "profile.jsonl"))
	if err == nil {
		t.Error("expected error for unwritable path")
	}
}

// --- nil safety ---

func TestNilProfiler(t *testing.T) {
	var p *Profiler
	done := p.Start("u", StageMessage, LevelMinimal)
	done()
	p.Record("u", StageMessage, time.Millisecond, nil)
	if p.ShouldProfile(LevelMinimal) {
		t.Error("nil profiler should not profile")
	}
	if p.Level() != LevelOff {
		t.Errorf("nil level = %q", p.Level())
	}
	if p.Stats() != nil {
		t.Error("nil profiler should have no stats")
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}

// --- ShouldProfile ---

func TestShouldProfile(t *testing.T) {
	minimal, _ := New(LevelMinimal, "")
	if !minimal.ShouldProfile(LevelMinimal) {
		t.Error("minimal should profile minimal stages")
	}
	if minimal.ShouldProfile(LevelDetailed) {
		t.Error("minimal should skip detailed stages")
	}

	detailed, _ := New(LevelDetailed, "")
	if !detailed.ShouldProfile(LevelMinimal) || !detailed.ShouldProfile(LevelDetailed) {
		t.Error("detailed should profile both levels")
	}
}

// --- Record / Stats ---

func TestRecord_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.jsonl")
	p, err := New(LevelDetailed, path)
	if err != nil {
		t.Fatal(err)
	}

	p.Record("u1", StageClassify, 2*time.Millisecond, map[string]any{"rule": "capability"})
	p.Record("u1", StageRoute, 500*time.Microsecond, nil)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	timings := readTimings(t, path)
	if len(timings) != 2 {
		t.Fatalf("expected 2 timings, got %d", len(timings))
	}
	if timings[0].Stage != StageClassify || timings[0].UserID != "u1" {
		t.Errorf("first timing: %+v", timings[0])
	}
	if timings[0].DurationMs != 2 {
		t.Errorf("duration: %v", timings[0].DurationMs)
	}
	if timings[0].Metadata["rule"] != "capability" {
		t.Errorf("metadata: %v", timings[0].Metadata)
	}
	if timings[1].DurationMs != 0.5 {
		t.Errorf("sub-ms duration: %v", timings[1].DurationMs)
	}
}

func TestStats_Aggregates(t *testing.T) {
	p, _ := New(LevelMinimal, "")
	p.Record("u", StageReconcile, 10*time.Millisecond, nil)
	p.Record("u", StageReconcile, 30*time.Millisecond, nil)
	p.Record("u", StageMessage, time.Millisecond, nil)

	stats := p.Stats()
	rec := stats[StageReconcile]
	if rec.Count != 2 || rec.TotalMs != 40 || rec.MaxMs != 30 {
		t.Errorf("reconcile stats: %+v", rec)
	}
	if rec.AvgMs() != 20 {
		t.Errorf("avg: %v", rec.AvgMs())
	}
	if (StageStats{}).AvgMs() != 0 {
		t.Error("empty avg should be 0")
	}

	stages := p.Stages()
	if len(stages) != 2 || stages[0] != StageMessage || stages[1] != StageReconcile {
		t.Errorf("stages: %v", stages)
	}
}

func TestStart_SkipsHigherLevels(t *testing.T) {
	p, _ := New(LevelMinimal, "")
	p.Start("u", StageKnowledge, LevelDetailed)()
	p.Start("u", StageReconcile, LevelMinimal)()

	stats := p.Stats()
	if _, ok := stats[StageKnowledge]; ok {
		t.Error("detailed stage recorded at minimal level")
	}
	if stats[StageReconcile].Count != 1 {
		t.Errorf("reconcile not recorded: %+v", stats)
	}
}
