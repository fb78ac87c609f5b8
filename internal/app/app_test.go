package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/budintel/internal/config"
	"github.com/vthunder/budintel/internal/types"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Defaults()
	cfg.StatePath = t.TempDir()
	return cfg
}

func TestLocalWiringPersistsTasks(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := New(cfg, Options{RulesOnly: true})
	require.NoError(t, err)

	reply := a.Coordinator.ProcessMessage(ctx, "u", "remind me to renew the passport", "test")
	assert.Equal(t, types.AgentTask, reply.Agent)
	require.Empty(t, reply.Error)
	require.NoError(t, a.Close())

	reopened, err := New(cfg, Options{RulesOnly: true})
	require.NoError(t, err)
	defer reopened.Close()

	tasks, err := reopened.Tasks.ListTasks(ctx, "u")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].Title, "passport")
	assert.FileExists(t, filepath.Join(cfg.StatePath, "system", "calendar.db"))
}

func TestGoogleBackendNeedsCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.CalendarBackend = config.CalendarGoogle
	cfg.GoogleCredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	cfg.GoogleCalendarID = "primary"

	_, err := New(cfg, Options{RulesOnly: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google calendar")
}

func TestIntelligenceSessionThroughApp(t *testing.T) {
	a, err := New(testConfig(t), Options{RulesOnly: true})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Coordinator.Start(context.Background(), "u")
	require.NoError(t, err)
	intel, err := a.Coordinator.GetUserIntelligence("u")
	require.NoError(t, err)
	assert.Equal(t, "u", intel.UserID)
}

func TestProfilingWritesTimings(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProfilingLevel = "minimal"

	a, err := New(cfg, Options{RulesOnly: true})
	require.NoError(t, err)
	require.NotNil(t, a.Profiler)

	a.Coordinator.ProcessMessage(context.Background(), "u", "remind me to water the plants", "test")
	require.NoError(t, a.Close())

	assert.FileExists(t, filepath.Join(cfg.StatePath, "system", "profile.jsonl"))
}
