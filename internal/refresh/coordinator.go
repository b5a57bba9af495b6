package refresh

import (
	"context"
	"sync"
)

// State of a Coordinator
type State int

const (
	StateIdle State = iota
	StateRunning
	StateQueued
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateQueued:
		return "queued"
	default:
		return "idle"
	}
}

// Coordinator serializes refresh cycles. Requests that arrive while a cycle
// is running collapse into a single follow-up cycle.
type Coordinator struct {
	cycle func(ctx context.Context)

	mutex  sync.Mutex
	state  State
	done   chan struct{}
	cycles int
}

// NewCoordinator creates a coordinator running cycle for each refresh
func NewCoordinator(cycle func(ctx context.Context)) *Coordinator {
	return &Coordinator{cycle: cycle}
}

// Request starts a cycle, or queues one more if a cycle is already running.
// The returned channel closes once the in-flight cycle and any queued repeat
// have finished. Queued repeats run with the context of the request that
// started the in-flight cycle.
func (c *Coordinator) Request(ctx context.Context) <-chan struct{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != StateIdle {
		c.state = StateQueued
		return c.done
	}

	c.state = StateRunning
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)

	return c.done
}

func (c *Coordinator) loop(ctx context.Context, done chan struct{}) {
	for {
		c.cycle(ctx)

		c.mutex.Lock()
		c.cycles++
		if c.state == StateQueued {
			c.state = StateRunning
			c.mutex.Unlock()
			continue
		}
		c.state = StateIdle
		c.done = nil
		close(done)
		c.mutex.Unlock()
		return
	}
}

// State reports the current state
func (c *Coordinator) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Cycles returns how many cycles have completed
func (c *Coordinator) Cycles() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.cycles
}
