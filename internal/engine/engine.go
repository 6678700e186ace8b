// Package engine assembles the pipeline: queue, frame store, readers,
// worker pools, monitor and the two-phase shutdown sequence.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/warpcomdev/dashcam2/internal/dispatch"
	"github.com/warpcomdev/dashcam2/internal/framestore"
	"github.com/warpcomdev/dashcam2/internal/ingest"
	"github.com/warpcomdev/dashcam2/internal/pipeline"
	"github.com/warpcomdev/dashcam2/internal/processor"
	"github.com/warpcomdev/dashcam2/internal/reader"
	"github.com/warpcomdev/dashcam2/internal/sink"
)

// CPU worker ids start here so log lines tell the lanes apart
const cpuWorkerBase = 100

// Options configure one pipeline run
type Options struct {
	InputDir   string
	WatchInput bool

	GPUWorkers   int // 0 means 2
	CPUWorkers   int // 0 means 4
	VideoReaders int // 0 means 2

	MaxGPUBacklog  int // 0 means 8
	MaxCPUBacklog  int // 0 means 16
	QueueSoftLimit int // 0 means 64
	QueueHardLimit int // 0 means 128

	MonitorInterval time.Duration // 0 means 1s
	DrainTimeout    time.Duration // 0 means 60s
	WaitPoll        time.Duration // 0 means 250ms

	Open   reader.OpenFunc
	Models processor.Models
	Sink   sink.Sink
}

func (o *Options) check() {
	if o.GPUWorkers <= 0 {
		o.GPUWorkers = 2
	}
	if o.CPUWorkers <= 0 {
		o.CPUWorkers = 4
	}
	if o.VideoReaders <= 0 {
		o.VideoReaders = 2
	}
	if o.MaxGPUBacklog <= 0 {
		o.MaxGPUBacklog = 8
	}
	if o.MaxCPUBacklog <= 0 {
		o.MaxCPUBacklog = 16
	}
	if o.QueueSoftLimit <= 0 {
		o.QueueSoftLimit = 64
	}
	if o.QueueHardLimit <= 0 {
		o.QueueHardLimit = 128
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = time.Minute
	}
	if o.WaitPoll <= 0 {
		o.WaitPoll = 250 * time.Millisecond
	}
}

// Engine owns the shared pipeline components for one run
type Engine struct {
	logger *zap.Logger
	opts   Options

	queue  *pipeline.CentralQueue
	store  *framestore.Store
	status *pipeline.StatusTable
	coord  *pipeline.Coordinator

	readersDone atomic.Bool
}

// New engine. Run starts it; Coordinator().Stop() asks it to wind down.
func New(logger *zap.Logger, opts Options) *Engine {
	opts.check()
	return &Engine{
		logger: logger,
		opts:   opts,
		queue: pipeline.NewCentralQueue(logger, pipeline.QueueOptions{
			SoftLimit: opts.QueueSoftLimit,
			HardLimit: opts.QueueHardLimit,
		}),
		store:  framestore.New(logger),
		status: pipeline.NewStatusTable(),
		coord:  pipeline.NewCoordinator(),
	}
}

// Coordinator for external stop requests (signal handlers, service stop)
func (e *Engine) Coordinator() *pipeline.Coordinator { return e.coord }

// Queue accessor, used by the monitor endpoint and tests
func (e *Engine) Queue() *pipeline.CentralQueue { return e.queue }

// Store accessor
func (e *Engine) Store() *framestore.Store { return e.store }

// Status accessor
func (e *Engine) Status() *pipeline.StatusTable { return e.status }

// Run processes the input directory to completion or until stop, then
// performs the two-phase shutdown. It returns an error only for
// unrecoverable startup problems.
func (e *Engine) Run(ctx context.Context) error {
	// Fail fast on an unusable input directory before spawning anything
	if _, err := ingest.Scan(e.opts.InputDir); err != nil {
		e.logger.Error("cannot read input directory", zap.String("dir", e.opts.InputDir), zap.Error(err))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handlers := dispatch.Handlers(dispatch.Deps{
		Logger: e.logger,
		Queue:  e.queue,
		Store:  e.store,
		Coord:  e.coord,
	})
	tracker := processor.NewTracker()
	smoother := processor.NewSmoother()

	monitor := pipeline.NewMonitor(e.logger, e.queue, e.status, e.coord, e.opts.MonitorInterval)
	var monitorWg sync.WaitGroup
	monitorWg.Add(1)
	go func() {
		defer monitorWg.Done()
		monitor.Run(runCtx)
	}()

	// Feed discovered videos to the reader pool
	paths := make(chan string)
	finder := ingest.New(e.logger, e.opts.InputDir, e.opts.WatchInput)
	var finderWg sync.WaitGroup
	finderWg.Add(1)
	go func() {
		defer finderWg.Done()
		finder.Run(runCtx, e.coord.Stopping(), paths)
	}()

	var readerWg sync.WaitGroup
	for i := 0; i < e.opts.VideoReaders; i++ {
		readerWg.Add(1)
		go func(idx int) {
			defer readerWg.Done()
			e.runReader(runCtx, idx, paths)
		}(i)
	}
	go func() {
		readerWg.Wait()
		e.readersDone.Store(true)
	}()

	var workerWg sync.WaitGroup
	spawn := func(id int, cats []pipeline.TaskCategory, loaders map[pipeline.TaskCategory]pipeline.Loader, procs map[pipeline.TaskCategory]pipeline.Processor) {
		w := pipeline.NewWorker(e.logger, pipeline.WorkerOptions{
			ID:         id,
			Categories: cats,
			Queue:      e.queue,
			Loaders:    loaders,
			Processors: procs,
			Handlers:   handlers,
			Store:      e.store,
			Status:     e.status,
			Coord:      e.coord,
		})
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			w.Run(runCtx)
		}()
	}
	gpuLoaders := processor.GPULoaders(e.opts.Models)
	gpuProcs := processor.GPUProcessors(e.store)
	for i := 0; i < e.opts.GPUWorkers; i++ {
		spawn(i, pipeline.GPUCategories(), gpuLoaders, gpuProcs)
	}
	cpuLoaders := processor.CPULoaders(tracker, smoother, e.opts.Sink)
	cpuProcs := processor.CPUProcessors()
	for i := 0; i < e.opts.CPUWorkers; i++ {
		spawn(cpuWorkerBase+i, pipeline.CPUCategories(), cpuLoaders, cpuProcs)
	}

	e.logger.Info("pipeline running",
		zap.Int("gpu_workers", e.opts.GPUWorkers),
		zap.Int("cpu_workers", e.opts.CPUWorkers),
		zap.Int("video_readers", e.opts.VideoReaders))

	e.waitComplete(runCtx)

	// Phase 1: producers quit after their current frame
	e.coord.Stop()
	e.logger.Info("stop requested, draining backlog")
	finderWg.Wait()

	// Wait for the drain, bounded: a wedged worker must not hold the
	// whole process hostage
	if !e.waitDrained(runCtx) {
		e.logger.Warn("drain timeout, terminating with work outstanding",
			zap.Int("backlog", e.queue.TotalBacklog()),
			zap.Int("active_workers", e.status.ActiveCount()))
	}

	// Phase 2: workers quit after their current task
	e.coord.Terminate()
	e.joinWorkers(&workerWg, cancel)
	readerWg.Wait()
	monitorWg.Wait()

	// Queued-but-unstarted tasks are discarded; give their frame refs
	// back so the store ends empty. Queue resources go last.
	abandoned := e.queue.Shutdown()
	for _, task := range abandoned {
		e.store.ReleaseRefs(task.Meta.Dependencies)
	}
	if len(abandoned) > 0 {
		e.logger.Warn("discarded queued tasks", zap.Int("tasks", len(abandoned)))
	}
	e.logger.Info("shutdown complete",
		zap.Int("frames_left", e.store.Len()))
	return nil
}

// runReader processes video paths until the feed closes or stop
func (e *Engine) runReader(ctx context.Context, idx int, paths <-chan string) {
	logger := e.logger.With(zap.Int("reader", idx))
	for path := range paths {
		if e.coord.Stopped() || ctx.Err() != nil {
			return
		}
		vr, err := reader.New(logger, e.queue, e.store, e.coord, e.opts.Open, path, reader.Options{
			GPUBacklogLimit: e.opts.MaxGPUBacklog,
			CPUBacklogLimit: e.opts.MaxCPUBacklog,
		})
		if err != nil {
			// An unopenable file aborts only this video
			logger.Error("skipping video", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := vr.Run(ctx); err != nil {
			logger.Error("reader aborted", zap.String("path", path), zap.Error(err))
		}
	}
}

// waitComplete blocks until the batch is done or a stop arrives
func (e *Engine) waitComplete(ctx context.Context) {
	ticker := time.NewTicker(e.opts.WaitPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.coord.Stopping():
			return
		case <-ticker.C:
			if e.readersDone.Load() && e.queue.TotalBacklog() == 0 && e.status.ActiveCount() == 0 {
				e.logger.Info("pipeline complete: no backlog, workers idle, readers finished")
				return
			}
		}
	}
}

// waitDrained blocks until backlog and worker activity reach zero, or
// the drain timeout expires. Returns false on timeout.
func (e *Engine) waitDrained(ctx context.Context) bool {
	deadline := time.Now().Add(e.opts.DrainTimeout)
	ticker := time.NewTicker(e.opts.WaitPoll)
	defer ticker.Stop()
	for {
		if e.readersDone.Load() && e.queue.TotalBacklog() == 0 && e.status.ActiveCount() == 0 {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		<-ticker.C
	}
}

// joinWorkers waits for worker goroutines, escalating to context
// cancellation when stragglers ignore the terminate signal
func (e *Engine) joinWorkers(wg *sync.WaitGroup, cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-done:
		return
	case <-time.After(5 * time.Second):
		e.logger.Warn("workers did not exit in time, cancelling")
		cancel()
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		e.logger.Error("straggler workers still running at exit")
	}
}
