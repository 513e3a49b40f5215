// ABOUTME: Barrier-synchronized worker pool for mixing passes
// ABOUTME: Start channels release workers, a WaitGroup collects them, Resize is serialized with Run
package mixer

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Task is the per-goroutine mixing unit driven by the pool
type Task interface {
	Mix(listener Node, pass *Pass)
	TakeStats() WorkerStats
}

// TaskFactory creates the task owned by a new pool goroutine
type TaskFactory func() Task

type poolWorker struct {
	id     int
	task   Task
	start  chan struct{}
	exited chan struct{}
}

// Pool runs a pass over all listeners on a fixed set of goroutines
type Pool struct {
	mu      sync.Mutex
	workers []*poolWorker
	newTask TaskFactory
	nextID  int

	pass *Pass
	next atomic.Int64
	done sync.WaitGroup

	started atomic.Int64
	stopped atomic.Int64
	passes  atomic.Uint64
}

// NewPool starts size workers
func NewPool(size int, newTask TaskFactory) *Pool {
	p := &Pool{newTask: newTask}
	p.Resize(size)
	return p
}

// Size returns the current number of workers
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Run mixes every listener in the pass exactly once and blocks until all
// workers are back at the barrier
func (p *Pool) Run(pass *Pass) WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pass = pass
	p.next.Store(0)

	p.done.Add(len(p.workers))
	for _, w := range p.workers {
		w.start <- struct{}{}
	}
	p.done.Wait()

	var total WorkerStats
	for _, w := range p.workers {
		total.add(w.task.TakeStats())
	}
	p.pass = nil
	p.passes.Add(1)
	return total
}

// Resize grows or shrinks the pool between passes. Excess workers are
// released from the barrier and waited for.
func (p *Pool) Resize(size int) {
	if size < 1 {
		size = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.workers) > size {
		w := p.workers[len(p.workers)-1]
		p.workers = p.workers[:len(p.workers)-1]
		close(w.start)
		<-w.exited
		logrus.WithField("worker", w.id).Debug("Mixer worker stopped")
	}

	for len(p.workers) < size {
		w := &poolWorker{
			id:     p.nextID,
			task:   p.newTask(),
			start:  make(chan struct{}, 1),
			exited: make(chan struct{}),
		}
		p.nextID++
		p.workers = append(p.workers, w)
		p.started.Add(1)
		go p.loop(w)
		logrus.WithField("worker", w.id).Debug("Mixer worker started")
	}
}

// Close stops every worker
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		close(w.start)
		<-w.exited
	}
	p.workers = nil
}

// loop waits at the start barrier, drains the listener queue, then signals completion
func (p *Pool) loop(w *poolWorker) {
	defer func() {
		p.stopped.Add(1)
		close(w.exited)
	}()

	for range w.start {
		pass := p.pass
		for {
			i := int(p.next.Add(1) - 1)
			if i >= len(pass.Listeners) {
				break
			}
			w.task.Mix(pass.Listeners[i], pass)
		}
		p.done.Done()
	}
}

// Counters returns started and stopped worker totals and completed passes
func (p *Pool) Counters() (started, stopped int64, passes uint64) {
	return p.started.Load(), p.stopped.Load(), p.passes.Load()
}
