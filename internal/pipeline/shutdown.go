package pipeline

import (
	"sync"

	"go.uber.org/atomic"
)

// Coordinator sequences the two shutdown phases. Stop tells producers
// to quit after their current frame; Terminate tells workers to quit
// after their current task. Terminate implies Stop.
type Coordinator struct {
	stopOnce sync.Once
	termOnce sync.Once

	stop chan struct{}
	term chan struct{}

	stopped    atomic.Bool
	terminated atomic.Bool
}

// NewCoordinator with neither phase signalled
func NewCoordinator() *Coordinator {
	return &Coordinator{
		stop: make(chan struct{}),
		term: make(chan struct{}),
	}
}

// Stop signals phase 1: no new work enters the pipeline
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stop)
	})
}

// Terminate signals phase 2: workers exit after their current task
func (c *Coordinator) Terminate() {
	c.Stop()
	c.termOnce.Do(func() {
		c.terminated.Store(true)
		close(c.term)
	})
}

// Stopping is closed once phase 1 is signalled
func (c *Coordinator) Stopping() <-chan struct{} { return c.stop }

// Terminating is closed once phase 2 is signalled
func (c *Coordinator) Terminating() <-chan struct{} { return c.term }

// Stopped reports phase 1
func (c *Coordinator) Stopped() bool { return c.stopped.Load() }

// Terminated reports phase 2
func (c *Coordinator) Terminated() bool { return c.terminated.Load() }
