package logging

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetDebugConcurrentWithDebug(t *testing.T) {
	t.Cleanup(func() { SetDebug(false) })

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetDebug(i%2 == 0)
		}()
		go func() {
			defer wg.Done()
			Debug("test", "tick %d", i)
		}()
	}
	wg.Wait()
}

func TestDebugGatedBySetDebug(t *testing.T) {
	t.Cleanup(func() { SetDebug(false) })

	core, logs := observer.New(zapcore.DebugLevel)
	SetDebug(false)
	SetLogger(zap.New(core))

	Debug("test", "hidden")
	Info("test", "shown %d", 1)
	if n := logs.Len(); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
	if got := logs.All()[0].Message; got != "[test] shown 1" {
		t.Errorf("message = %q", got)
	}

	debugEnabled.Store(true)
	Debug("test", "visible")
	if n := logs.FilterMessage("[test] visible").Len(); n != 1 {
		t.Errorf("expected debug entry, got %d", n)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("line one\nline two", 8); got != "line one..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("  short  ", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
}
