package runner

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "crawlchain/pkg/logx"
)

// permits bounds how many workers may run a job at once. The limit moves
// between floor and ceil; workers beyond the limit wait for a token.
// Token returns and rebalancing happen under mu so their view of
// len(ch)+inFlight stays consistent.
type permits struct {
	mu       sync.Mutex
	ch       chan struct{}
	limit    atomic.Int32
	floor    int32
	ceil     int32
	inFlight atomic.Int32
	waiting  atomic.Int32
}

func newPermits(floor, ceil int) *permits {
	p := &permits{ch: make(chan struct{}, ceil), floor: int32(floor), ceil: int32(ceil)}
	p.setLimit(int32(floor))
	return p
}

func (p *permits) acquire(ctx context.Context) bool {
	p.waiting.Add(1)
	defer p.waiting.Add(-1)
	select {
	case <-ctx.Done():
		return false
	case <-p.ch:
		p.inFlight.Add(1)
		return true
	}
}

func (p *permits) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	in := p.inFlight.Add(-1)
	// Return the token only if it would not exceed the current limit.
	if int32(len(p.ch))+in >= p.limit.Load() {
		return
	}
	select {
	case p.ch <- struct{}{}:
	default:
	}
}

func (p *permits) setLimit(n int32) {
	n = max(p.floor, min(n, p.ceil))
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit.Store(n)
	p.rebalanceLocked()
}

// rebalance restores len(ch)+inFlight to the current limit.
func (p *permits) rebalance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebalanceLocked()
}

func (p *permits) rebalanceLocked() {
	lim := p.limit.Load()
	in := p.inFlight.Load()
	avail := int32(len(p.ch))
	for avail+in > lim {
		select {
		case <-p.ch:
			avail--
		default:
			return
		}
	}
	for avail+in < lim {
		select {
		case p.ch <- struct{}{}:
			avail++
		default:
			return
		}
	}
}

// autoscale adjusts the limit until done closes: up while a backlog
// persists, down under memory, GC or goroutine pressure. It never drops
// below the floor, so at least that many jobs run while work remains.
func (p *permits) autoscale(ctx context.Context, done <-chan struct{}, every time.Duration, q *queue, log logx.Logger) {
	if p.floor == p.ceil {
		return
	}
	upCooldown := 3 * every
	downCooldown := every + every/2

	t := time.NewTicker(every)
	defer t.Stop()

	var (
		lastChange time.Time
		ms         runtime.MemStats
		lastPause  uint64
		lastGC     uint32
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-t.C:
		}
		p.rebalance()

		lim := p.limit.Load()
		in := p.inFlight.Load()
		waiting := p.waiting.Load()
		backlog := int32(q.pending()) + waiting

		runtime.ReadMemStats(&ms)
		pauseDelta := ms.PauseTotalNs - lastPause
		gcDelta := ms.NumGC - lastGC
		lastPause, lastGC = ms.PauseTotalNs, ms.NumGC

		downBy, reason := pressure(&ms, pauseDelta, gcDelta, runtime.NumGoroutine())
		now := time.Now()

		if downBy > 0 {
			target := max(p.floor, lim-downBy)
			if target != lim && (lastChange.IsZero() || now.Sub(lastChange) >= downCooldown) {
				p.setLimit(target)
				lastChange = now
				log.Debug("active limit lowered", logx.Int("from", int(lim)), logx.Int("to", int(target)), logx.String("reason", reason), logx.Int("inflight", int(in)))
			}
			continue
		}

		if backlog > lim && lim < p.ceil && (lastChange.IsZero() || now.Sub(lastChange) >= upCooldown) {
			bump := int32(1)
			if backlog > 4*lim {
				bump = 2
			}
			target := min(p.ceil, lim+bump)
			p.setLimit(target)
			lastChange = now
			log.Debug("active limit raised", logx.Int("from", int(lim)), logx.Int("to", int(target)), logx.Int("backlog", int(backlog)), logx.Int("inflight", int(in)))
		}
	}
}

// pressure returns how far to lower the limit, and why, given runtime stats.
func pressure(ms *runtime.MemStats, pauseDelta uint64, gcDelta uint32, goroutines int) (int32, string) {
	memLimit := debug.SetMemoryLimit(-1)
	if memLimit > 0 && memLimit < (1<<60) {
		h := int64(ms.HeapInuse)
		switch {
		case h > memLimit*85/100:
			return 2, "mem>85%"
		case h > memLimit*75/100:
			return 1, "mem>75%"
		}
	} else {
		switch {
		case ms.HeapInuse > 1024<<20:
			return 2, "heap>1GiB"
		case ms.HeapInuse > 768<<20:
			return 1, "heap>768MiB"
		}
	}
	if gcDelta > 0 && pauseDelta > uint64(250*time.Millisecond) {
		return 1, "gc_pause"
	}
	switch {
	case goroutines > 3000:
		return 2, "goroutines>3000"
	case goroutines > 1500:
		return 1, "goroutines>1500"
	}
	return 0, ""
}
