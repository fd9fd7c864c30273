package transport

import (
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

var pendingWritePool = &PendingWritePool{}

// pendingWrite is one frame payload waiting in, or at the head of, a stream's write queue.
type pendingWrite struct {
	buf *bytebufferpool.ByteBuffer // payload, without the length prefix
}

type PendingWritePool struct {
	sp sync.Pool
	m  PoolMetrics
}

func (p *PendingWritePool) acquire() *pendingWrite {
	v := p.sp.Get()
	if v == nil {
		v = &pendingWrite{}
		atomic.AddUint64(&p.m.na, 1)
	} else {
		atomic.AddUint64(&p.m.nr, 1)
	}

	pw := v.(*pendingWrite)
	pw.buf = bytebufferpool.Get()
	return pw
}

func (p *PendingWritePool) release(pw *pendingWrite) {
	bytebufferpool.Put(pw.buf)
	pw.buf = nil
	p.sp.Put(pw)
	atomic.AddUint64(&p.m.np, 1)
}
