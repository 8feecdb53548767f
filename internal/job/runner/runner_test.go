package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawlchain/internal/eventbus"
	"crawlchain/internal/job"
	"crawlchain/internal/job/progress"
	logx "crawlchain/pkg/logx"
)

type sinkRecorder struct {
	mu      sync.Mutex
	entries []job.ErrorEntry
}

func (s *sinkRecorder) OnFailure(_ context.Context, e job.ErrorEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *sinkRecorder) Entries() []job.ErrorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]job.ErrorEntry(nil), s.entries...)
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.test/p/%d", i)
	}
	return out
}

func TestRunAllSucceed(t *testing.T) {
	tr := progress.NewTracker()
	sink := &sinkRecorder{}
	r := New(Config{}, func(context.Context, string) error { return nil }, tr, sink, logx.Nop())

	sum, err := r.Run(context.Background(), ids(25))
	require.NoError(t, err)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 25, sum.Total)
	assert.Equal(t, 25, sum.Dispatched)
	assert.Equal(t, 25, sum.Succeeded)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 25, sum.Attempts)
	assert.Empty(t, sink.Entries())

	snap := tr.Snapshot()
	assert.Equal(t, 25, snap.Visited)
	assert.Equal(t, 25, snap.Succeeded)
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	fn := func(context.Context, string) error {
		if calls.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}
	r := New(Config{MaxRetries: 3}, fn, nil, nil, logx.Nop())

	sum, err := r.Run(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 3, sum.Attempts)
}

func TestRunTerminalFailureReachesSink(t *testing.T) {
	tr := progress.NewTracker()
	sink := &sinkRecorder{}
	var calls atomic.Int32
	fn := func(context.Context, string) error {
		calls.Add(1)
		return errors.New("timeout")
	}
	r := New(Config{MaxRetries: 2}, fn, tr, sink, logx.Nop())

	sum, err := r.Run(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, sum.Failed)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "timeout", entries[0].Message)
	assert.False(t, entries[0].At.IsZero())
	assert.Equal(t, 1, tr.Snapshot().Failed)
}

func TestRunNegativeRetriesMeansSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	r := New(Config{MaxRetries: -1}, func(context.Context, string) error {
		calls.Add(1)
		return errors.New("boom")
	}, nil, nil, logx.Nop())

	sum, err := r.Run(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, sum.Failed)
}

func TestRunNoRetryStopsImmediately(t *testing.T) {
	var calls atomic.Int32
	sink := &sinkRecorder{}
	r := New(Config{MaxRetries: 5}, func(context.Context, string) error {
		calls.Add(1)
		return NoRetry(errors.New("status 404"))
	}, nil, sink, logx.Nop())

	sum, err := r.Run(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sink.Entries(), 1)
	assert.Equal(t, "status 404", sink.Entries()[0].Message)
}

func TestRunPanicIsTerminalFailure(t *testing.T) {
	sink := &sinkRecorder{}
	r := New(Config{}, func(_ context.Context, id string) error {
		if id == "bad" {
			panic("nil map")
		}
		return nil
	}, nil, sink, logx.Nop())

	sum, err := r.Run(context.Background(), []string{"ok", "bad"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sink.Entries(), 1)
	assert.Contains(t, sink.Entries()[0].Message, "panic: nil map")
}

func TestRunDispatchCap(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	r := New(Config{MaxJobsPerRun: 3}, func(_ context.Context, id string) error {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		return nil
	}, nil, nil, logx.Nop())

	in := ids(10)
	sum, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 10, sum.Total)
	assert.Equal(t, 3, sum.Dispatched)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Len(t, seen, 3)
	for _, id := range in[:3] {
		assert.Equal(t, 1, seen[id])
	}
}

func TestRunDispatchesInInputOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	r := New(Config{MinConcurrency: 1, MaxConcurrency: 1}, func(_ context.Context, id string) error {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		return nil
	}, nil, nil, logx.Nop())

	in := ids(8)
	_, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, order)
}

func TestRunConcurrencyStaysWithinBounds(t *testing.T) {
	var active, peak atomic.Int32
	fn := func(context.Context, string) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return nil
	}
	r := New(Config{MinConcurrency: 3, MaxConcurrency: 3}, fn, nil, nil, logx.Nop())

	sum, err := r.Run(context.Background(), ids(12))
	require.NoError(t, err)
	assert.Equal(t, 12, sum.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(2))
}

func TestRunCancellationAbandonsWithoutEscalating(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := progress.NewTracker()
	sink := &sinkRecorder{}
	started := make(chan struct{}, 16)
	fn := func(ctx context.Context, _ string) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	r := New(Config{MinConcurrency: 2, MaxConcurrency: 2}, fn, tr, sink, logx.Nop())

	go func() {
		<-started
		cancel()
	}()
	sum, err := r.Run(ctx, ids(50))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Succeeded)
	assert.Zero(t, sum.Failed)
	assert.Positive(t, sum.Abandoned)
	assert.Less(t, sum.Dispatched, 50)
	assert.Equal(t, sum.Dispatched, sum.Abandoned)
	assert.Empty(t, sink.Entries())
	assert.Zero(t, tr.Snapshot().Failed)
}

func TestRunEveryIdentifierEndsSucceededOrFailed(t *testing.T) {
	tr := progress.NewTracker()
	r := New(Config{MaxRetries: 1}, func(_ context.Context, id string) error {
		if len(id)%2 == 0 {
			return errors.New("even")
		}
		return nil
	}, tr, &sinkRecorder{}, logx.Nop())

	in := ids(40)
	sum, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, len(in), sum.Succeeded+sum.Failed)

	snap := tr.Snapshot()
	assert.Equal(t, len(in), snap.Visited)
	assert.Equal(t, len(in), snap.Succeeded+snap.Failed)
}

func TestRunPublishesOutcomes(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, eventbus.JobSucceeded, eventbus.JobFailed)
	defer unsub()

	r := New(Config{MaxRetries: -1}, func(_ context.Context, id string) error {
		if id == "b" {
			return errors.New("nope")
		}
		return nil
	}, nil, nil, logx.Nop(), WithBus(bus))

	sum, err := r.Run(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	got := map[string]job.Outcome{}
	for i := 0; i < 2; i++ {
		e := <-ch
		out := e.Data.(job.Outcome)
		assert.Equal(t, sum.RunID, out.RunID)
		got[out.ID] = out
	}
	assert.Equal(t, job.StatusSucceeded, got["a"].Status)
	assert.Equal(t, job.StatusFailed, got["b"].Status)
	assert.Equal(t, "nope", got["b"].Error)
}

func TestRunEmptyAndNilFunc(t *testing.T) {
	r := New(Config{}, func(context.Context, string) error { return nil }, nil, nil, logx.Nop())
	sum, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Dispatched)

	_, err = New(Config{}, nil, nil, nil, logx.Nop()).Run(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrNoJobFunc)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, DefaultMinConcurrency, c.MinConcurrency)
	assert.Equal(t, DefaultMaxConcurrency, c.MaxConcurrency)
	assert.Equal(t, DefaultMaxRetries, c.MaxRetries)

	c = Config{MinConcurrency: 9, MaxConcurrency: 4, MaxRetries: -3}.withDefaults()
	assert.Equal(t, 4, c.MinConcurrency)
	assert.Zero(t, c.MaxRetries)
}

func TestPermitLimitClamped(t *testing.T) {
	p := newPermits(2, 5)
	assert.Equal(t, int32(2), p.limit.Load())
	assert.Len(t, p.ch, 2)

	p.setLimit(10)
	assert.Equal(t, int32(5), p.limit.Load())
	assert.Len(t, p.ch, 5)

	p.setLimit(0)
	assert.Equal(t, int32(2), p.limit.Load())
	assert.Len(t, p.ch, 2)
}

func TestPermitReleaseRespectsLoweredLimit(t *testing.T) {
	p := newPermits(1, 3)
	p.setLimit(3)
	ctx := context.Background()
	require.True(t, p.acquire(ctx))
	require.True(t, p.acquire(ctx))
	require.True(t, p.acquire(ctx))

	p.setLimit(1)
	p.release()
	p.release()
	assert.Empty(t, p.ch)
	p.release()
	assert.Len(t, p.ch, 1)
}

func TestQueueCap(t *testing.T) {
	q := newQueue([]string{"a", "b", "c"}, 2)
	assert.Equal(t, 2, q.pending())
	id, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	_, ok = q.pop()
	require.True(t, ok)
	_, ok = q.pop()
	assert.False(t, ok)
	assert.Equal(t, 2, q.dispatched())
}

func TestRunRepeatedIdentifiersDispatchOnce(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	sink := &sinkRecorder{}
	tr := progress.NewTracker()
	r := New(Config{MinConcurrency: 1, MaxConcurrency: 1}, func(_ context.Context, id string) error {
		mu.Lock()
		calls[id]++
		n := calls[id]
		mu.Unlock()
		if n == 1 {
			return NoRetry(errors.New("status 500"))
		}
		return nil
	}, tr, sink, logx.Nop())

	sum, err := r.Run(context.Background(), []string{"a", "a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 2, sum.Dispatched)
	assert.Equal(t, 2, sum.Failed)
	assert.Zero(t, sum.Succeeded)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, calls)
	require.Len(t, sink.Entries(), 2)
	assert.Equal(t, 2, tr.Snapshot().Visited)
}

func TestQueueDedupesBeforeCap(t *testing.T) {
	q := newQueue([]string{"a", "a", "b", "a", "c"}, 2)
	assert.Equal(t, 3, q.distinct())
	assert.Equal(t, 2, q.pending())
	var got []string
	for {
		id, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestPermitRebalanceRestoresFloor(t *testing.T) {
	p := newPermits(2, 4)
	<-p.ch
	<-p.ch
	require.Empty(t, p.ch)

	p.rebalance()
	assert.Len(t, p.ch, 2)
}

func TestPermitConcurrentReleaseKeepsLimit(t *testing.T) {
	p := newPermits(2, 4)
	p.setLimit(4)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.True(t, p.acquire(ctx))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.release()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			p.setLimit(int32(2 + i%3))
		}
	}()
	wg.Wait()

	assert.Zero(t, p.inFlight.Load())
	assert.Equal(t, int(p.limit.Load()), len(p.ch))
	assert.GreaterOrEqual(t, len(p.ch), 2)
}
