// Package escalator delivers failure escalations through the channel that
// fits the time of day: nothing during quiet hours, a popup during working
// hours, and a throttled email in the evening.
package escalator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"crawlchain/internal/notifier"
	"crawlchain/internal/storage"
	logx "crawlchain/pkg/logx"
)

const (
	DefaultEmailInterval    = 15 * time.Minute
	DefaultPopupMaxMessages = 5
	DefaultPopupMaxChars    = 200

	titlePrefix = "Task error alert - "
)

// Notifier delivers a message on a channel.
type Notifier interface {
	Notify(ctx context.Context, ch notifier.Channel, title, body string) error
}

// StateStore persists the last email send time.
type StateStore interface {
	LoadEscalationState(ctx context.Context) (storage.EscalationState, error)
	SaveEscalationState(ctx context.Context, s storage.EscalationState) error
}

type Config struct {
	Policy           Policy
	EmailInterval    time.Duration
	PopupMaxMessages int
	PopupMaxChars    int
	// Location for the hour of day. Nil means time.Local.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Policy == (Policy{}) {
		c.Policy = DefaultPolicy()
	}
	if c.EmailInterval <= 0 {
		c.EmailInterval = DefaultEmailInterval
	}
	if c.PopupMaxMessages <= 0 {
		c.PopupMaxMessages = DefaultPopupMaxMessages
	}
	if c.PopupMaxChars <= 0 {
		c.PopupMaxChars = DefaultPopupMaxChars
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

type Option func(*Escalator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Escalator) { e.now = now }
}

type Escalator struct {
	notifier Notifier
	state    StateStore
	log      logx.Logger
	now      func() time.Time

	// mu serializes escalations so the email throttle check and update are atomic.
	mu       sync.Mutex
	cfg      Config
	lastSent time.Time
}

func New(cfg Config, n Notifier, state StateStore, log logx.Logger, opts ...Option) *Escalator {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Escalator{
		cfg:      cfg.withDefaults(),
		notifier: n,
		state:    state,
		log:      log.With(logx.String("comp", "escalator")),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply swaps the routing config at runtime.
func (e *Escalator) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// Escalate routes messages to a human according to the time of day.
// Quiet hours and throttled emails are dropped and logged, returning nil.
func (e *Escalator) Escalate(ctx context.Context, label string, messages []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	hour := now.In(e.cfg.Location).Hour()
	title := titlePrefix + label

	switch Decide(hour, e.cfg.Policy) {
	case Quiet:
		e.log.Info("escalation skipped: quiet hours", logx.String("label", label), logx.Int("hour", hour), logx.Int("messages", len(messages)))
		return nil

	case Popup:
		body := PopupBody(messages, e.cfg.PopupMaxMessages, e.cfg.PopupMaxChars)
		return e.notifier.Notify(ctx, notifier.Popup, title, body)

	default:
		return e.email(ctx, now, label, title, messages)
	}
}

func (e *Escalator) email(ctx context.Context, now time.Time, label, title string, messages []string) error {
	last := e.lastEmail(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !last.IsZero() && now.Sub(last) < e.cfg.EmailInterval {
		e.log.Info("escalation suppressed: email throttled",
			logx.String("label", label),
			logx.Time("last_sent", last),
			logx.Duration("interval", e.cfg.EmailInterval),
		)
		return nil
	}

	if err := e.notifier.Notify(ctx, notifier.Email, title, strings.Join(messages, "\n\n")); err != nil {
		return err
	}

	e.lastSent = now
	if e.state != nil {
		if err := e.state.SaveEscalationState(ctx, storage.EscalationState{LastEmailSentAt: now}); err != nil {
			e.log.Error("failed to persist escalation state", logx.Err(err))
			return fmt.Errorf("persist escalation state: %w", err)
		}
	}
	return nil
}

// lastEmail returns the later of the persisted and in-process send times.
// Unreadable state falls back to the in-process time; the next successful
// send overwrites it.
func (e *Escalator) lastEmail(ctx context.Context) time.Time {
	last := e.lastSent
	if e.state == nil {
		return last
	}
	st, err := e.state.LoadEscalationState(ctx)
	if err != nil {
		e.log.Warn("escalation state unreadable, using in-process send time",
			logx.Err(err),
			logx.Time("last_sent", last),
		)
		return last
	}
	if st.LastEmailSentAt.After(last) {
		last = st.LastEmailSentAt
	}
	return last
}

// PopupBody joins the first maxMessages messages with blank lines and cuts
// the result to maxChars characters.
func PopupBody(messages []string, maxMessages, maxChars int) string {
	if maxMessages > 0 && len(messages) > maxMessages {
		messages = messages[:maxMessages]
	}
	body := strings.Join(messages, "\n\n")
	if maxChars > 0 {
		if r := []rune(body); len(r) > maxChars {
			body = string(r[:maxChars])
		}
	}
	return body
}
