package runner

import "sync"

// queue hands out distinct identifiers in first-seen order and stops after
// limit pops.
type queue struct {
	mu    sync.Mutex
	ids   []string
	next  int
	limit int
}

func newQueue(ids []string, limit int) *queue {
	seen := make(map[string]struct{}, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	if limit <= 0 || limit > len(uniq) {
		limit = len(uniq)
	}
	return &queue{ids: uniq, limit: limit}
}

func (q *queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= q.limit {
		return "", false
	}
	id := q.ids[q.next]
	q.next++
	return id, true
}

// pending is the number of identifiers still to be dispatched.
func (q *queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit - q.next
}

func (q *queue) dispatched() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

func (q *queue) dispatchable() int { return q.limit }

// distinct is the number of unique identifiers, capped or not.
func (q *queue) distinct() int { return len(q.ids) }
