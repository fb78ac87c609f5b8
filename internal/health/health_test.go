package health

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSampleReportsThisProcess(t *testing.T) {
	m, err := NewMonitor()
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, m.Latest().Status)

	snap, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), snap.PID)
	assert.Contains(t, []string{StatusOK, StatusBusy}, snap.Status)
	assert.Greater(t, snap.Goroutines, 0)
	assert.GreaterOrEqual(t, snap.CPUPercent, 0.0)
	assert.Equal(t, snap, m.Latest())
}

func TestHistoryIsBounded(t *testing.T) {
	m, err := NewMonitor()
	require.NoError(t, err)
	for i := 0; i < historyLen+3; i++ {
		_, err := m.Sample(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, m.history, historyLen)
}

func TestStartStopDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, err := NewMonitor()
	require.NoError(t, err)
	m.SetInterval(5 * time.Millisecond)
	m.Start(context.Background())
	m.Start(context.Background()) // second start is a no-op

	require.Eventually(t, func() bool { return m.Latest().Status != StatusUnknown }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestAverage(t *testing.T) {
	assert.Equal(t, 0.0, average(nil))
	assert.Equal(t, 2.0, average([]float64{1, 2, 3}))
}
