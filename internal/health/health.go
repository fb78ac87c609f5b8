// Package health reports the running process's resource usage.
package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/budintel/internal/logging"
)

// Status values
const (
	StatusOK      = "ok"
	StatusBusy    = "busy"
	StatusUnknown = "unknown"
)

// Snapshot is one resource reading
type Snapshot struct {
	PID        int32     `json:"pid"`
	Status     string    `json:"status"`
	CPUPercent float64   `json:"cpu_percent"`
	AvgCPU     float64   `json:"avg_cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	Threads    int32     `json:"threads"`
	Goroutines int       `json:"goroutines"`
	Uptime     string    `json:"uptime"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Monitor samples the current process on an interval and keeps a short
// CPU history to smooth out spikes
type Monitor struct {
	mu            sync.Mutex
	proc          *process.Process
	interval      time.Duration
	busyThreshold float64
	history       []float64
	latest        Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

const historyLen = 5

// NewMonitor creates a monitor for this process
func NewMonitor() (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	return &Monitor{
		proc:          proc,
		interval:      10 * time.Second,
		busyThreshold: 80.0,
		latest:        Snapshot{PID: proc.Pid, Status: StatusUnknown},
	}, nil
}

// SetInterval changes the sampling interval; call before Start
func (m *Monitor) SetInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}

// Start begins periodic sampling until ctx is done or Stop is called
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval, done := m.interval, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Sample(ctx); err != nil {
					logging.Debug("health", "Sample failed: %v", err)
				}
			}
		}
	}()
	logging.Debug("health", "Started (interval=%v, busy>%.0f%%)", interval, m.busyThreshold)
}

// Stop ends sampling and waits for the loop to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Sample takes a reading now
func (m *Monitor) Sample(ctx context.Context) (Snapshot, error) {
	cpu, err := m.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cpu percent: %w", err)
	}

	snap := Snapshot{
		PID:        m.proc.Pid,
		CPUPercent: cpu,
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  time.Now(),
	}
	if mem, err := m.proc.MemoryInfoWithContext(ctx); err == nil {
		snap.RSSBytes = mem.RSS
	}
	if n, err := m.proc.NumThreadsWithContext(ctx); err == nil {
		snap.Threads = n
	}
	if created, err := m.proc.CreateTimeWithContext(ctx); err == nil {
		snap.Uptime = time.Since(time.UnixMilli(created)).Truncate(time.Second).String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, cpu)
	if len(m.history) > historyLen {
		m.history = m.history[1:]
	}
	snap.AvgCPU = average(m.history)
	snap.Status = StatusOK
	if snap.AvgCPU > m.busyThreshold {
		snap.Status = StatusBusy
	}
	if m.latest.Status != snap.Status && m.latest.Status != StatusUnknown {
		logging.Info("health", "Status %s -> %s (avg CPU: %.1f%%)", m.latest.Status, snap.Status, snap.AvgCPU)
	}
	m.latest = snap
	return snap, nil
}

// Latest returns the most recent reading
func (m *Monitor) Latest() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func average(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	return sum / float64(len(history))
}
