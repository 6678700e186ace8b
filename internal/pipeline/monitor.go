package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Monitor publishes a periodic human-readable snapshot of queue depths
// and worker liveness. It observes; it never steers.
type Monitor struct {
	logger   *zap.Logger
	queue    *CentralQueue
	status   *StatusTable
	coord    *Coordinator
	interval time.Duration
}

// NewMonitor with the given reporting interval (0 means one second)
func NewMonitor(logger *zap.Logger, queue *CentralQueue, status *StatusTable, coord *Coordinator, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		logger:   logger,
		queue:    queue,
		status:   status,
		coord:    coord,
		interval: interval,
	}
}

// Run until terminate is signalled or the context dies
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.coord.Terminating():
			return
		case <-ticker.C:
			m.Report()
		}
	}
}

// Report logs one snapshot
func (m *Monitor) Report() {
	snap := m.queue.Snapshot()
	total := 0
	depths := make(map[string]int, len(snap))
	for cat, depth := range snap {
		total += depth
		depths[cat.String()] = depth
	}

	backed := make([]string, 0)
	for _, cat := range m.queue.BackedUp() {
		backed = append(backed, cat.String())
	}

	now := time.Now()
	workers := m.status.Snapshot()
	ids := make([]int, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	liveness := make([]string, 0, len(workers))
	for _, id := range ids {
		st := workers[id]
		cat := st.Category.String()
		if st.Idle {
			cat = "idle"
		}
		liveness = append(liveness, fmt.Sprintf("worker %d pid=%d cat=%s heartbeat=%.2fs ago",
			id, st.PID, cat, now.Sub(st.LastHeartbeat).Seconds()))
	}

	m.logger.Info("pipeline status",
		zap.Int("backlog", total),
		zap.Any("depths", depths),
		zap.Strings("backed_up", backed),
		zap.Int("active_workers", m.status.ActiveCount()),
		zap.Strings("workers", liveness))
}
