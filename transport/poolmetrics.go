package transport

import (
	"fmt"
	"sync/atomic"
)

// na + nr equal the total number of acquires
// na + nr - np equal the number of still running.
type PoolMetrics struct {
	na uint64 // number of new acquires
	nr uint64 // number of reuse from pool
	np uint64 // number of put back to pool
}

// PoolStats is a point-in-time copy of a pool's counters.
type PoolStats struct {
	New      uint64
	Reused   uint64
	Returned uint64
}

// InUse is the number of acquired items not yet put back.
func (s PoolStats) InUse() uint64 { return s.New + s.Reused - s.Returned }

func (s PoolStats) String() string {
	return fmt.Sprintf("[ %v|%v|%v ]", s.New, s.Reused, s.Returned)
}

func (p *PoolMetrics) snapshot() PoolStats {
	return PoolStats{
		New:      atomic.LoadUint64(&p.na),
		Reused:   atomic.LoadUint64(&p.nr),
		Returned: atomic.LoadUint64(&p.np),
	}
}

// PendingWriteStats reports the counters of the pool backing every stream's write queue.
func PendingWriteStats() PoolStats { return pendingWritePool.m.snapshot() }
