package activity

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// helper: create a Log backed by a temp directory
func newTestLog(t *testing.T) *Log {
	t.Helper()
	return New(t.TempDir())
}

// helper: read all raw entries from the JSONL file
func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

// --- Basic write/read ---

func TestLog_WritesJSONL(t *testing.T) {
	log := newTestLog(t)

	ts := time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)
	err := log.Log(Entry{
		Timestamp: ts,
		Type:      TypeMessage,
		UserID:    "alice",
		Summary:   "move it to 3pm",
		Source:    "discord",
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries := readEntries(t, log.Path())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Type != TypeMessage {
		t.Errorf("type: got %q, want %q", e.Type, TypeMessage)
	}
	if e.UserID != "alice" || e.Source != "discord" {
		t.Errorf("user/source: %q/%q", e.UserID, e.Source)
	}
	if !e.Timestamp.Equal(ts) {
		t.Errorf("timestamp: got %v, want %v", e.Timestamp, ts)
	}
}

func TestLog_AutoTimestamp(t *testing.T) {
	log := newTestLog(t)
	fixed := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	log.SetClock(func() time.Time { return fixed })

	if err := log.Log(Entry{Type: TypeReply, Summary: "auto-ts"}); err != nil {
		t.Fatal(err)
	}
	entries := readEntries(t, log.Path())
	if !entries[0].Timestamp.Equal(fixed) {
		t.Errorf("auto-timestamp: got %v, want %v", entries[0].Timestamp, fixed)
	}
}

func TestLog_SkipsMalformedLines(t *testing.T) {
	log := newTestLog(t)

	if err := log.Log(Entry{Type: TypeReply, Summary: "good"}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(log.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json at all\n")
	f.Close()
	if err := log.Log(Entry{Type: TypeReply, Summary: "good2"}); err != nil {
		t.Fatal(err)
	}

	entries, err := log.readAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestLog_MissingFileReturnsNil(t *testing.T) {
	log := newTestLog(t)
	entries, err := log.readAll()
	if err != nil {
		t.Fatalf("readAll on missing file: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil entries for missing file")
	}
}

// --- Helper methods ---

func TestLogDelegation(t *testing.T) {
	log := newTestLog(t)
	if err := log.LogDelegation("u", "calendar", "update_event", "unresolved_reference", "calendar_agent", "Updated.", false); err != nil {
		t.Fatal(err)
	}
	entries, _ := log.readAll()
	e := entries[0]
	if e.Type != TypeDelegation {
		t.Errorf("type: %q", e.Type)
	}
	if e.Agent != "calendar_agent" || e.RequestType != "update_event" || e.Rule != "unresolved_reference" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Data["failed"] != false || e.Data["reply"] != "Updated." {
		t.Errorf("data: %v", e.Data)
	}
}

func TestLogMessageTruncates(t *testing.T) {
	log := newTestLog(t)
	long := strings.Repeat("x", 300)
	if err := log.LogMessage("u", long, "cli"); err != nil {
		t.Fatal(err)
	}
	entries, _ := log.readAll()
	if len(entries[0].Summary) != 203 {
		t.Errorf("expected truncated summary, got %d chars", len(entries[0].Summary))
	}
}

func TestLogSessionAndInsights(t *testing.T) {
	log := newTestLog(t)
	log.LogSession("u", true)
	log.LogInsights("u", 3, 1, 5)
	log.LogSession("u", false)
	log.LogError("u", "reconcile failed", errors.New("calendar offline"))

	entries, _ := log.readAll()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].Summary != "intelligence started" || entries[2].Summary != "intelligence stopped" {
		t.Errorf("session summaries: %q, %q", entries[0].Summary, entries[2].Summary)
	}
	if entries[1].Data["correlations"] != float64(3) {
		t.Errorf("correlations: %v", entries[1].Data["correlations"])
	}
	if entries[3].Data["error"] != "calendar offline" {
		t.Errorf("error data: %v", entries[3].Data)
	}
}

// --- Queries ---

func TestForUserAndLastMessage(t *testing.T) {
	log := newTestLog(t)
	base := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	log.Log(Entry{Timestamp: base, Type: TypeMessage, UserID: "alice", Summary: "first"})
	log.Log(Entry{Timestamp: base.Add(time.Minute), Type: TypeMessage, UserID: "bob", Summary: "bob's"})
	log.Log(Entry{Timestamp: base.Add(2 * time.Minute), Type: TypeMessage, UserID: "alice", Summary: "second"})
	log.Log(Entry{Timestamp: base.Add(3 * time.Minute), Type: TypeReply, UserID: "alice", Summary: "reply"})

	got, err := log.ForUser("alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Summary != "reply" || got[1].Summary != "second" {
		t.Errorf("ForUser: %+v", got)
	}

	if ts := log.LastMessageTime("alice"); !ts.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("LastMessageTime: %v", ts)
	}
	if ts := log.LastMessageTime("carol"); !ts.IsZero() {
		t.Errorf("expected zero time for unknown user, got %v", ts)
	}
}

func TestSearchAndRange(t *testing.T) {
	log := newTestLog(t)
	base := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	log.Log(Entry{Timestamp: base, Type: TypeReply, Summary: "Design review"})
	log.Log(Entry{Timestamp: base.Add(time.Hour), Type: TypeDelegation, Summary: "create_task", Data: map[string]any{"reply": "Added task \"Mockups\""}})
	log.Log(Entry{Timestamp: base.Add(2 * time.Hour), Type: TypeReply, Summary: "design sync"})

	found, _ := log.Search("DESIGN", 10)
	if len(found) != 2 || found[0].Summary != "design sync" {
		t.Errorf("Search summary: %+v", found)
	}
	found, _ = log.Search("mockups", 10)
	if len(found) != 1 {
		t.Errorf("Search data: %+v", found)
	}

	inRange, _ := log.Range(base.Add(30*time.Minute), base.Add(2*time.Hour))
	if len(inRange) != 2 {
		t.Errorf("Range: expected 2, got %d", len(inRange))
	}

	recent, _ := log.Recent(1)
	if len(recent) != 1 || recent[0].Summary != "design sync" {
		t.Errorf("Recent: %+v", recent)
	}
}

func TestLog_ConcurrentWrites(t *testing.T) {
	log := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.LogMessage("u", "hello", "test")
		}()
	}
	wg.Wait()

	entries := readEntries(t, log.Path())
	if len(entries) != 20 {
		t.Errorf("expected 20 entries, got %d", len(entries))
	}
}
