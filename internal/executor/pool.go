// Package executor provides the fixed-size worker pool transactions run on.
// Requests queue when every worker is busy; nothing is dropped. Pool size is
// fixed at start.
package executor

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/binderlab/binder_core/pkg/logger"
)

// Pool errors.
var (
	ErrNotStarted     = errors.New("executor not started")
	ErrAlreadyStarted = errors.New("executor already started")
	ErrStopped        = errors.New("executor stopped")
	ErrInvalidSize    = errors.New("pool size must be positive")
)

// Task is one unit of work, typically a bound transaction dispatch.
type Task func()

// Pool is a bounded set of workers draining an unbounded FIFO queue.
type Pool struct {
	log *logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	started bool
	stopped bool

	wg   sync.WaitGroup
	done chan struct{}

	// Stats
	busy      atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
}

// NewPool creates an unstarted pool.
func NewPool(log *logger.Logger) *Pool {
	p := &Pool{
		log:  log.Named("executor"),
		done: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start provisions size workers. Dynamic resizing is not supported.
func (p *Pool) Start(size int) error {
	if size <= 0 {
		return ErrInvalidSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	p.log.WithField("workers", size).Info("executor started")
	return nil
}

// Submit enqueues a task. It never blocks and never drops work; tasks wait in
// FIFO order until a worker is free.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrNotStarted
	}
	if p.stopped {
		return ErrStopped
	}
	p.queue = append(p.queue, t)
	p.submitted.Add(1)
	p.cond.Signal()
	return nil
}

// Join blocks the calling context until the pool is terminated elsewhere. It
// is expected to be the last call in a service process's entry path.
func (p *Pool) Join() {
	<-p.done
}

// Stop drains queued tasks, waits for workers to exit and releases Join.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	close(p.done)
	p.log.Info("executor stopped")
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	QueueDepth int
	Busy       int64
	Submitted  int64
	Completed  int64
}

// Snapshot returns current pool stats.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	depth := len(p.queue)
	p.mu.Unlock()

	return Stats{
		QueueDepth: depth,
		Busy:       p.busy.Load(),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.stopped {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.busy.Add(1)
		t()
		p.busy.Add(-1)
		p.completed.Add(1)
	}
}
