package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warpcomdev/dashcam2/internal/framestore"
)

// Loader builds the per-category resource a processor needs (a model
// handle, a sink connection). Called lazily on category switch.
type Loader func(ctx context.Context) (any, error)

// Processor runs one task against the loaded resource
type Processor func(ctx context.Context, task *Task, resource any) (any, error)

// Handler turns a processor result into downstream tasks
type Handler func(ctx context.Context, task *Task, result any) error

// Releaser releases frame references once a task terminates
type Releaser interface {
	ReleaseRefs(refs []framestore.Ref)
}

// Resources that hold memory or device state free it on category
// switch. Shared resources (the sink, trackers) simply don't implement
// Free and survive the swap.
type freer interface {
	Free()
}

// WorkerOptions wire one worker into the pipeline
type WorkerOptions struct {
	ID         int
	Categories []TaskCategory // the worker's lane, in declaration order
	Queue      *CentralQueue
	Loaders    map[TaskCategory]Loader
	Processors map[TaskCategory]Processor
	Handlers   map[TaskCategory]Handler
	Store      Releaser
	Status     *StatusTable
	Coord      *Coordinator
	IdleSleep  time.Duration // 0 means 20ms
}

// Worker drains tasks from its lane, busiest category first. It owns at
// most one loaded resource at a time, swapping it on category change,
// and publishes a heartbeat on every loop iteration.
type Worker struct {
	opts   WorkerOptions
	logger *zap.Logger
	label  string

	current TaskCategory
	loaded  bool
	res     any
}

// NewWorker builds a worker; call Run to start it
func NewWorker(logger *zap.Logger, opts WorkerOptions) *Worker {
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = 20 * time.Millisecond
	}
	label := fmt.Sprintf("worker-%d", opts.ID)
	return &Worker{
		opts:   opts,
		logger: logger.With(zap.String("worker", label)),
		label:  label,
	}
}

// Run the worker loop until terminate is signalled or the context dies
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker starting", zap.Stringers("lane", w.opts.Categories))
	defer w.opts.Status.Remove(w.opts.ID)
	defer w.unload()

	for !w.opts.Coord.Terminated() {
		cat, ok := w.choose()
		if !ok {
			w.opts.Status.Update(w.opts.ID, 0, true)
			select {
			case <-ctx.Done():
				return
			case <-w.opts.Coord.Terminating():
				return
			case <-time.After(w.opts.IdleSleep):
			}
			continue
		}
		w.opts.Status.Update(w.opts.ID, cat, false)
		if !w.loaded || cat != w.current {
			w.switchTo(ctx, cat)
		}
		w.drain(ctx, cat)
		if ctx.Err() != nil {
			return
		}
	}
	w.logger.Info("worker exiting")
}

// choose picks the lane category with the deepest backlog. Ties break
// toward the loaded category (no switch), then declaration order.
func (w *Worker) choose() (TaskCategory, bool) {
	var best TaskCategory
	bestSize := 0
	for _, cat := range w.opts.Categories {
		size := w.opts.Queue.Backlog(cat)
		switch {
		case size > bestSize:
			best, bestSize = cat, size
		case size == bestSize && size > 0 && w.loaded && cat == w.current:
			best = cat
		}
	}
	return best, bestSize > 0
}

// switchTo evicts the current resource and loads the one for cat
func (w *Worker) switchTo(ctx context.Context, cat TaskCategory) {
	w.unload()
	w.logger.Info("switching category", zap.Stringer("category", cat))
	categorySwitchMetric.WithLabelValues(w.label).Inc()
	w.current = cat
	w.loaded = true
	loader := w.opts.Loaders[cat]
	if loader == nil {
		w.res = nil
		return
	}
	res, err := loader(ctx)
	if err != nil {
		w.logger.Error("resource load failed", zap.Stringer("category", cat), zap.Error(err))
		w.res = nil
		return
	}
	w.res = res
}

func (w *Worker) unload() {
	if !w.loaded {
		return
	}
	if f, ok := w.res.(freer); ok {
		f.Free()
	}
	w.res = nil
	w.loaded = false
}

// drain pops tasks of cat until it is empty or shutdown is requested
func (w *Worker) drain(ctx context.Context, cat TaskCategory) {
	for !w.opts.Coord.Terminated() && ctx.Err() == nil {
		task := w.opts.Queue.Pop(cat)
		if task == nil {
			return
		}
		w.process(ctx, task)
		w.opts.Status.Update(w.opts.ID, cat, false)
	}
}

// process runs one task through its processor and dispatch handler.
// Failures abandon the task; there are no retries here. Whatever
// happens, the task's frame dependencies are released exactly once.
func (w *Worker) process(ctx context.Context, task *Task) {
	defer w.opts.Store.ReleaseRefs(task.Meta.Dependencies)
	defer func() {
		if r := recover(); r != nil {
			tasksFailedMetric.WithLabelValues(task.Category.String()).Inc()
			w.logger.Error("task panicked",
				zap.String("task", task.String()),
				zap.Any("panic", r))
		}
	}()

	processor := w.opts.Processors[task.Category]
	if processor == nil {
		tasksFailedMetric.WithLabelValues(task.Category.String()).Inc()
		w.logger.Error("no processor for category", zap.Stringer("category", task.Category))
		return
	}
	result, err := processor(ctx, task, w.res)
	if err != nil {
		tasksFailedMetric.WithLabelValues(task.Category.String()).Inc()
		w.logger.Error("processor failed", zap.String("task", task.String()), zap.Error(err))
		return
	}
	if handler := w.opts.Handlers[task.Category]; handler != nil {
		if err := handler(ctx, task, result); err != nil {
			tasksFailedMetric.WithLabelValues(task.Category.String()).Inc()
			w.logger.Error("dispatch failed", zap.String("task", task.String()), zap.Error(err))
			return
		}
	}
	tasksDoneMetric.WithLabelValues(task.Category.String()).Inc()
}
