package pipeline

import (
	"sync"

	"go.uber.org/zap"

	"github.com/warpcomdev/dashcam2/internal/fifo"
)

// DefaultRecoverRatio clears the backed-up flag once a queue drains
// below this fraction of its soft limit.
const DefaultRecoverRatio = 0.8

// QueueOptions bound each per-category queue
type QueueOptions struct {
	SoftLimit    int     // advisory threshold, toggles the backed-up flag
	HardLimit    int     // pushes fail at this depth
	RecoverRatio float64 // 0 means DefaultRecoverRatio
}

type categoryQueue struct {
	mu       sync.Mutex
	ring     *fifo.Fifo[*Task]
	backedUp bool
}

// CentralQueue routes tasks by category. Each category holds a bounded
// FIFO with a soft threshold (advisory backpressure) and a hard one
// (push refusal). The per-category lock is the only source of truth for
// depth; there are no side counters to drift.
type CentralQueue struct {
	logger  *zap.Logger
	soft    int
	hard    int
	recover int // depth below which the backed-up flag clears
	queues  [numCategories]categoryQueue
}

// NewCentralQueue builds one bounded queue per category
func NewCentralQueue(logger *zap.Logger, opts QueueOptions) *CentralQueue {
	if opts.SoftLimit <= 0 {
		opts.SoftLimit = 64
	}
	if opts.HardLimit < opts.SoftLimit {
		opts.HardLimit = 2 * opts.SoftLimit
	}
	if opts.RecoverRatio <= 0 || opts.RecoverRatio > 1 {
		opts.RecoverRatio = DefaultRecoverRatio
	}
	q := &CentralQueue{
		logger:  logger,
		soft:    opts.SoftLimit,
		hard:    opts.HardLimit,
		recover: int(opts.RecoverRatio * float64(opts.SoftLimit)),
	}
	for c := range q.queues {
		q.queues[c].ring = fifo.New[*Task](opts.HardLimit)
	}
	return q
}

// Push enqueues a task at the tail of its category. Returns false only
// when the category sits at its hard limit; the caller retries.
func (q *CentralQueue) Push(task *Task) bool {
	cq := &q.queues[task.Category]
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if !cq.ring.Push(task) {
		queueRejectedMetric.WithLabelValues(task.Category.String()).Inc()
		return false
	}
	depth := cq.ring.Len()
	if depth >= q.soft && !cq.backedUp {
		cq.backedUp = true
		queueBackedUpMetric.WithLabelValues(task.Category.String()).Set(1)
		q.logger.Warn("category backed up",
			zap.Stringer("category", task.Category),
			zap.Int("depth", depth))
	}
	queueDepthMetric.WithLabelValues(task.Category.String()).Set(float64(depth))
	return true
}

// Pop removes the oldest task of a category, or nil when it is empty
func (q *CentralQueue) Pop(cat TaskCategory) *Task {
	cq := &q.queues[cat]
	cq.mu.Lock()
	defer cq.mu.Unlock()
	task, ok := cq.ring.Pop()
	if !ok {
		return nil
	}
	depth := cq.ring.Len()
	if cq.backedUp && depth < q.recover {
		cq.backedUp = false
		queueBackedUpMetric.WithLabelValues(cat.String()).Set(0)
		q.logger.Info("category recovered",
			zap.Stringer("category", cat),
			zap.Int("depth", depth))
	}
	queueDepthMetric.WithLabelValues(cat.String()).Set(float64(depth))
	return task
}

// Backlog of one category
func (q *CentralQueue) Backlog(cat TaskCategory) int {
	cq := &q.queues[cat]
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.ring.Len()
}

// Snapshot of every category's depth
func (q *CentralQueue) Snapshot() map[TaskCategory]int {
	snap := make(map[TaskCategory]int, numCategories)
	for _, cat := range Categories() {
		snap[cat] = q.Backlog(cat)
	}
	return snap
}

// TotalBacklog across all categories
func (q *CentralQueue) TotalBacklog() int {
	total := 0
	for _, cat := range Categories() {
		total += q.Backlog(cat)
	}
	return total
}

// GPUBacklog is the combined depth of the GPU lane
func (q *CentralQueue) GPUBacklog() int {
	total := 0
	for _, cat := range GPUCategories() {
		total += q.Backlog(cat)
	}
	return total
}

// CPUBacklog is the combined depth of the CPU lane
func (q *CentralQueue) CPUBacklog() int {
	total := 0
	for _, cat := range CPUCategories() {
		total += q.Backlog(cat)
	}
	return total
}

// IsBackedUp reports whether a category is above its advisory threshold
func (q *CentralQueue) IsBackedUp(cat TaskCategory) bool {
	cq := &q.queues[cat]
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.backedUp
}

// BackedUp lists the categories currently flagged
func (q *CentralQueue) BackedUp() []TaskCategory {
	var cats []TaskCategory
	for _, cat := range Categories() {
		if q.IsBackedUp(cat) {
			cats = append(cats, cat)
		}
	}
	return cats
}

// HardLimit of every category queue
func (q *CentralQueue) HardLimit() int {
	return q.hard
}

// Shutdown empties every queue and returns the abandoned tasks so the
// caller can release their frame references.
func (q *CentralQueue) Shutdown() []*Task {
	var abandoned []*Task
	for _, cat := range Categories() {
		for {
			task := q.Pop(cat)
			if task == nil {
				break
			}
			abandoned = append(abandoned, task)
		}
	}
	return abandoned
}
