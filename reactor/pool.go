package reactor

import (
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Pool drives a Reactor on a fixed number of worker goroutines.
type Pool struct {
	r    *Reactor
	size int

	wg   sync.WaitGroup
	stop sync.Once
}

// NewPool starts n workers on r. If n <= 0, one worker per CPU is started.
func NewPool(r *Reactor, n int) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p := &Pool{r: r, size: n}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer p.wg.Done()
			r.Run()
		}()
	}

	r.log.Debug("worker pool started", zap.Int("workers", n))
	return p
}

func (p *Pool) Reactor() *Reactor { return p.r }
func (p *Pool) Size() int         { return p.size }

// Stop stops the reactor and blocks until every worker has returned from the completion it
// was running. No completion runs after Stop returns. A pool cannot be restarted, and Stop must
// not be called from inside a completion.
func (p *Pool) Stop() {
	p.stop.Do(func() {
		p.r.Stop()
		p.wg.Wait()
		p.r.log.Debug("worker pool stopped", zap.Int("workers", p.size))
	})
}
