package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Update sources
const (
	SourceKnowledge   = "knowledge"
	SourceCorrelation = "correlation"
	SourceLifecycle   = "lifecycle"
)

// Update is one pending change waiting for the next reconciliation
type Update struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Kind     string    `json:"kind"`
	RecordID string    `json:"record_id,omitempty"`
	At       time.Time `json:"at"`
}

// UpdateQueue is a bounded FIFO of pending updates. When full, the oldest
// update is dropped to make room for the newest.
type UpdateQueue struct {
	mu       sync.Mutex
	items    []Update
	maxSize  int
	dropped  int
	notifyCh chan struct{}
}

// NewUpdateQueue creates a queue holding at most maxSize updates
func NewUpdateQueue(maxSize int) *UpdateQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &UpdateQueue{
		items:    make([]Update, 0, maxSize),
		maxSize:  maxSize,
		notifyCh: make(chan struct{}, 1),
	}
}

// NotifyChannel signals when updates are added
func (q *UpdateQueue) NotifyChannel() <-chan struct{} {
	return q.notifyCh
}

// Add enqueues u, assigning an ID and timestamp if missing.
// Returns true when an older update had to be dropped.
func (q *UpdateQueue) Add(u Update) bool {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.At.IsZero() {
		u.At = time.Now()
	}

	q.mu.Lock()
	q.items = append(q.items, u)
	dropped := q.trim()
	q.mu.Unlock()

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return dropped
}

// trim drops from the front until the queue fits. Caller holds q.mu.
func (q *UpdateQueue) trim() bool {
	over := len(q.items) - q.maxSize
	if over <= 0 {
		return false
	}
	q.items = append(q.items[:0:0], q.items[over:]...)
	q.dropped += over
	return true
}

// Drain removes and returns every queued update, oldest first
func (q *UpdateQueue) Drain() []Update {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]Update, 0, q.maxSize)
	return out
}

// Items returns a copy of the queued updates, oldest first
func (q *UpdateQueue) Items() []Update {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Update, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued updates
func (q *UpdateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many updates were discarded for space
func (q *UpdateQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
