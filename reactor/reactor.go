// Package reactor dispatches I/O completions onto a fixed set of worker goroutines.
//
// Blocking reads and writes run on their own goroutines, parked in the Go netpoller; when one
// finishes, its completion is queued on the Reactor and picked up by whichever worker is free.
package reactor

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("reactor: stopped")

type Reactor struct {
	log *zap.Logger

	mu      sync.Mutex
	cond    sync.Cond
	queue   *queue.Queue // pending completions (func())
	stopped bool
}

func New(log *zap.Logger) *Reactor {
	if log == nil {
		log = zap.L()
	}
	r := &Reactor{log: log.Named("reactor"), queue: queue.New()}
	r.cond.L = &r.mu
	return r
}

// Post queues fn to run on a worker. It never blocks.
func (r *Reactor) Post(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}
	r.queue.Add(fn)
	r.cond.Signal()
	return nil
}

// Async runs op on its own goroutine and posts the completion op returns, if any. Completions
// that become ready after the reactor stopped are dropped.
func (r *Reactor) Async(op func() func()) error {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()

	if stopped {
		return ErrStopped
	}

	go func() {
		done := op()
		if done == nil {
			return
		}
		if err := r.Post(done); err != nil {
			r.log.Debug("dropped completion", zap.Error(err))
		}
	}()

	return nil
}

// Run dispatches completions until the reactor is stopped.
func (r *Reactor) Run() {
	for {
		r.mu.Lock()
		for r.queue.Length() == 0 && !r.stopped {
			r.cond.Wait()
		}
		if r.stopped {
			r.mu.Unlock()
			return
		}
		fn := r.queue.Remove().(func())
		r.mu.Unlock()

		r.execute(fn)
	}
}

// Stop makes every Run call return once its current completion finishes. Queued completions
// are discarded.
func (r *Reactor) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	for r.queue.Length() > 0 {
		r.queue.Remove()
	}
	r.cond.Broadcast()
}

func (r *Reactor) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Reactor) execute(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("completion panicked", zap.Any("panic", v), zap.Stack("stack"))
		}
	}()
	fn()
}
