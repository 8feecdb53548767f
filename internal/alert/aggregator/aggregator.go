// Package aggregator escalates bursts of job failures.
//
// Failures are kept in a sliding time window. When the window holds at least
// Threshold entries, the most recent BatchSize entries are escalated once and
// the window is emptied, so a new burst has to build up from scratch.
package aggregator

import (
	"context"
	"sync"
	"time"

	"crawlchain/internal/eventbus"
	"crawlchain/internal/job"
	logx "crawlchain/pkg/logx"
)

const (
	DefaultThreshold = 20
	DefaultWindow    = 3 * time.Minute
	DefaultBatchSize = 10
)

// Escalator receives one escalation per failure burst.
type Escalator interface {
	Escalate(ctx context.Context, label string, messages []string) error
}

type Config struct {
	Label     string
	Threshold int
	Window    time.Duration
	BatchSize int
}

type Option func(*Aggregator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithBus(bus eventbus.Bus) Option {
	return func(a *Aggregator) { a.bus = bus }
}

type Aggregator struct {
	cfg Config
	esc Escalator
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	mu      sync.Mutex
	entries []job.ErrorEntry
}

// Alert is published when a burst is escalated.
type Alert struct {
	Label    string   `json:"label"`
	Count    int      `json:"count"`
	Messages []string `json:"messages"`
	Error    string   `json:"error,omitempty"`
}

func New(cfg Config, esc Escalator, log logx.Logger, opts ...Option) *Aggregator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Aggregator{
		cfg: cfg,
		esc: esc,
		log: log.With(logx.String("comp", "aggregator")),
		bus: eventbus.Nop{},
		now: time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// OnFailure records a terminal failure and escalates if the window crossed
// the threshold. Safe for concurrent use; the escalation call runs outside
// the lock so slow transports never block other workers.
func (a *Aggregator) OnFailure(ctx context.Context, e job.ErrorEntry) {
	if e.At.IsZero() {
		e.At = a.now()
	}

	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.pruneLocked(a.now())
	count := len(a.entries)
	if count < a.cfg.Threshold {
		a.mu.Unlock()
		return
	}
	start := max(0, count-a.cfg.BatchSize)
	messages := make([]string, 0, count-start)
	for _, it := range a.entries[start:] {
		messages = append(messages, it.Format())
	}
	a.entries = nil
	a.mu.Unlock()

	a.log.Warn("failure threshold reached; escalating",
		logx.Int("failures", count),
		logx.Duration("window", a.cfg.Window),
		logx.Int("batch", len(messages)),
	)

	alert := Alert{Label: a.cfg.Label, Count: count, Messages: messages}
	if a.esc != nil {
		if err := a.esc.Escalate(ctx, a.cfg.Label, messages); err != nil {
			// Not retried and not re-buffered: one escalation per burst.
			a.log.Error("escalation failed", logx.Err(err))
			alert.Error = err.Error()
		}
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.AlertFired, Data: alert})
}

// pruneLocked drops entries older than the window relative to now.
func (a *Aggregator) pruneLocked(now time.Time) {
	kept := a.entries[:0]
	for _, it := range a.entries {
		if now.Sub(it.At) <= a.cfg.Window {
			kept = append(kept, it)
		}
	}
	// Clear the tail so dropped entries can be collected.
	for i := len(kept); i < len(a.entries); i++ {
		a.entries[i] = job.ErrorEntry{}
	}
	a.entries = kept
}

// Pending returns the number of failures currently in the window.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
