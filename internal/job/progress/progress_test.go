package progress

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "crawlchain/pkg/logx"
)

func TestTrackerDeduplicates(t *testing.T) {
	tr := NewTracker()
	tr.SetTotal(4)
	for i := 0; i < 3; i++ {
		tr.RecordVisited("a")
		tr.RecordSucceeded("a")
	}
	tr.RecordVisited("b")
	tr.RecordFailed("b")

	s := tr.Snapshot()
	assert.Equal(t, 2, s.Visited)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 50.0, s.VisitedPct, 1e-9)
	assert.InDelta(t, 25.0, s.SucceededPct, 1e-9)
	assert.InDelta(t, 25.0, s.FailedPct, 1e-9)
}

func TestTrackerUnknownTotal(t *testing.T) {
	tr := NewTracker()
	tr.RecordVisited("a")

	s := tr.Snapshot()
	assert.False(t, s.TotalKnown())
	assert.Zero(t, s.VisitedPct)
	assert.Contains(t, s.String(), "total unknown")

	tr.SetTotal(-5)
	assert.Equal(t, -1, tr.Snapshot().Total)
}

func TestSnapshotStringGroupsDigits(t *testing.T) {
	s := Snapshot{Visited: 1234, Succeeded: 1200, Failed: 34, Total: 5000}
	s.VisitedPct, s.SucceededPct, s.FailedPct = 24.68, 24, 0.68
	assert.Equal(t, "visited 1,234/5,000 (24.68%), succeeded 24.00%, failed 0.68%", s.String())
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("job-%d", i)
				tr.RecordVisited(id)
				tr.RecordSucceeded(id)
			}
		}()
	}
	wg.Wait()
	s := tr.Snapshot()
	assert.Equal(t, 100, s.Visited)
	assert.Equal(t, 100, s.Succeeded)
}

func TestReporterLogsPercentages(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker()
	tr.SetTotal(3)
	tr.RecordVisited("a")

	r := NewReporter(tr, time.Second, logx.NewWriter(&buf, "info"))
	r.Report()
	assert.Contains(t, buf.String(), `"visited_pct":"33.33%"`)
}

func TestReporterSkipsEmptyTotal(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker()
	tr.SetTotal(0)
	NewReporter(tr, time.Second, logx.NewWriter(&buf, "info")).Report()
	assert.Empty(t, buf.String())
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestReporterTicks(t *testing.T) {
	var buf syncBuffer
	tr := NewTracker()
	tr.RecordVisited("a")

	// cron.Every rounds to whole seconds.
	r := NewReporter(tr, time.Second, logx.NewWriter(&buf, "info"))
	r.Start(context.Background())
	defer r.Stop(context.Background())

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), `"total":"unknown"`)
	}, 5*time.Second, 50*time.Millisecond)
}

func (r *Reporter) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c != nil
}

func TestReporterStopsWithContext(t *testing.T) {
	r := NewReporter(NewTracker(), time.Second, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	require.True(t, r.running())

	cancel()
	require.Eventually(t, func() bool { return !r.running() }, 2*time.Second, 10*time.Millisecond)

	// Stop after the context already stopped the cadence is a no-op.
	r.Stop(context.Background())
}
