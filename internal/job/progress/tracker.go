package progress

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
)

// Tracker counts distinct visited, succeeded and failed job identifiers.
// It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	visited   map[string]struct{}
	succeeded map[string]struct{}
	failed    map[string]struct{}
	total     int
}

func NewTracker() *Tracker {
	return &Tracker{
		visited:   map[string]struct{}{},
		succeeded: map[string]struct{}{},
		failed:    map[string]struct{}{},
		total:     -1,
	}
}

func (t *Tracker) RecordVisited(id string)   { t.add(t.visited, id) }
func (t *Tracker) RecordSucceeded(id string) { t.add(t.succeeded, id) }
func (t *Tracker) RecordFailed(id string)    { t.add(t.failed, id) }

func (t *Tracker) add(set map[string]struct{}, id string) {
	t.mu.Lock()
	set[id] = struct{}{}
	t.mu.Unlock()
}

// SetTotal records the expected job count. A negative n marks it unknown.
func (t *Tracker) SetTotal(n int) {
	if n < 0 {
		n = -1
	}
	t.mu.Lock()
	t.total = n
	t.mu.Unlock()
}

// Snapshot is a point-in-time view of a Tracker.
type Snapshot struct {
	Visited   int `json:"visited"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Total is -1 when unknown.
	Total int `json:"total"`

	VisitedPct   float64 `json:"visited_pct"`
	SucceededPct float64 `json:"succeeded_pct"`
	FailedPct    float64 `json:"failed_pct"`
}

// TotalKnown reports whether percentages are meaningful.
func (s Snapshot) TotalKnown() bool { return s.Total > 0 }

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	s := Snapshot{
		Visited:   len(t.visited),
		Succeeded: len(t.succeeded),
		Failed:    len(t.failed),
		Total:     t.total,
	}
	t.mu.Unlock()

	if s.TotalKnown() {
		s.VisitedPct = pct(s.Visited, s.Total)
		s.SucceededPct = pct(s.Succeeded, s.Total)
		s.FailedPct = pct(s.Failed, s.Total)
	}
	return s
}

func pct(n, total int) float64 {
	return float64(n) * 100 / float64(total)
}

func (s Snapshot) String() string {
	if !s.TotalKnown() {
		return fmt.Sprintf("visited %s, succeeded %s, failed %s (total unknown)",
			humanize.Comma(int64(s.Visited)), humanize.Comma(int64(s.Succeeded)), humanize.Comma(int64(s.Failed)))
	}
	return fmt.Sprintf("visited %s/%s (%.2f%%), succeeded %.2f%%, failed %.2f%%",
		humanize.Comma(int64(s.Visited)), humanize.Comma(int64(s.Total)), s.VisitedPct, s.SucceededPct, s.FailedPct)
}
