package pipeline

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// WorkerStatus is one worker's most recent heartbeat
type WorkerStatus struct {
	PID           int
	Category      TaskCategory
	Idle          bool
	LastHeartbeat time.Time
}

// StatusTable maps worker id to status. Each worker writes only its own
// entry; the monitor reads all of them and tolerates slightly stale data.
type StatusTable struct {
	mu      sync.RWMutex
	workers map[int]WorkerStatus
}

// NewStatusTable builds an empty table
func NewStatusTable() *StatusTable {
	return &StatusTable{workers: make(map[int]WorkerStatus)}
}

// Update a worker's heartbeat
func (t *StatusTable) Update(workerID int, cat TaskCategory, idle bool) {
	now := time.Now()
	t.mu.Lock()
	t.workers[workerID] = WorkerStatus{
		PID:           os.Getpid(),
		Category:      cat,
		Idle:          idle,
		LastHeartbeat: now,
	}
	t.mu.Unlock()
	workerHeartbeatMetric.WithLabelValues(strconv.Itoa(workerID)).Set(float64(now.Unix()))
}

// Remove a worker's entry once it exits
func (t *StatusTable) Remove(workerID int) {
	t.mu.Lock()
	delete(t.workers, workerID)
	t.mu.Unlock()
}

// Snapshot of every worker's status
func (t *StatusTable) Snapshot() map[int]WorkerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := make(map[int]WorkerStatus, len(t.workers))
	for id, st := range t.workers {
		snap[id] = st
	}
	return snap
}

// ActiveCount is the number of workers currently on a category
func (t *StatusTable) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	active := 0
	for _, st := range t.workers {
		if !st.Idle {
			active++
		}
	}
	return active
}
