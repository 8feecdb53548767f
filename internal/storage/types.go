package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON files under Dir (default)
//   - "memory": process-local, for dry runs and tests
type Config struct {
	Driver string
	Dir    string
}

// TaskRecord is the ordered list of pending and finished task names.
// The head of Undone runs next.
type TaskRecord struct {
	Undone []string `json:"undone"`
	Done   []string `json:"done"`
}

// Validate reports a name that appears twice across both lists.
func (r TaskRecord) Validate() error {
	seen := make(map[string]string, len(r.Undone)+len(r.Done))
	for _, list := range []struct {
		name  string
		items []string
	}{{"undone", r.Undone}, {"done", r.Done}} {
		for _, n := range list.items {
			if prev, ok := seen[n]; ok {
				return fmt.Errorf("task %q listed in both %s and %s", n, prev, list.name)
			}
			seen[n] = list.name
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r TaskRecord) Clone() TaskRecord {
	return TaskRecord{
		Undone: append([]string{}, r.Undone...),
		Done:   append([]string{}, r.Done...),
	}
}

// EscalationState throttles the email channel. The zero value means no email
// was ever sent.
type EscalationState struct {
	LastEmailSentAt time.Time
}

type escalationWire struct {
	LastEmailSentAt *time.Time `json:"last_email_sent_at,omitempty"`
}

func (s EscalationState) MarshalJSON() ([]byte, error) {
	var w escalationWire
	if !s.LastEmailSentAt.IsZero() {
		t := s.LastEmailSentAt.UTC()
		w.LastEmailSentAt = &t
	}
	return json.Marshal(w)
}

func (s *EscalationState) UnmarshalJSON(b []byte) error {
	var w escalationWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.LastEmailSentAt = time.Time{}
	if w.LastEmailSentAt != nil {
		s.LastEmailSentAt = *w.LastEmailSentAt
	}
	return nil
}
