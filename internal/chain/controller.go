// Package chain advances a durable, ordered list of tasks and starts the
// next runnable one as an independent process.
//
// Only one process is expected to advance a given record at a time. The
// record file is not locked.
package chain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"crawlchain/internal/eventbus"
	"crawlchain/internal/storage"
	logx "crawlchain/pkg/logx"
)

var (
	// ErrPersist wraps any failure to read or write the task record. Callers
	// must stop: the chain can no longer tell which tasks are done.
	ErrPersist = errors.New("chain: task record persistence failed")
	ErrLaunch  = errors.New("chain: launch failed")
)

// RecordStore is the slice of storage.Store the controller needs.
type RecordStore interface {
	LoadTaskRecord(ctx context.Context) (storage.TaskRecord, error)
	SaveTaskRecord(ctx context.Context, r storage.TaskRecord) error
}

// Resolver locates a task's entry point.
type Resolver interface {
	EntryPoint(name string) (path string, ok bool)
}

// Launcher starts a task and returns without waiting for it.
type Launcher interface {
	Launch(ctx context.Context, name, entry string) error
}

// Advance reports what one CompleteAndAdvance or Resume call did.
type Advance struct {
	// Noop is set when the completed task was not pending.
	Noop      bool     `json:"noop,omitempty"`
	Completed string   `json:"completed,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	Launched  string   `json:"launched,omitempty"`
	// Finished is set when no pending task is left.
	Finished bool `json:"finished,omitempty"`
}

type Controller struct {
	mu sync.Mutex

	store    RecordStore
	resolver Resolver
	launcher Launcher
	log      logx.Logger
	bus      eventbus.Bus
}

type Option func(*Controller)

func WithBus(b eventbus.Bus) Option {
	return func(c *Controller) {
		if b != nil {
			c.bus = b
		}
	}
}

func New(store RecordStore, resolver Resolver, launcher Launcher, log logx.Logger, opts ...Option) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{
		store:    store,
		resolver: resolver,
		launcher: launcher,
		log:      log.With(logx.String("comp", "chain")),
		bus:      eventbus.Nop{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CompleteAndAdvance marks name done, persists the record, then launches the
// first pending task whose entry point exists. Pending tasks without an
// entry point are marked done and skipped. Calling it again for a task that
// is no longer pending does nothing.
func (c *Controller) CompleteAndAdvance(ctx context.Context, name string) (Advance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(ctx)
	if err != nil {
		return Advance{}, err
	}

	idx := slices.Index(rec.Undone, name)
	if idx < 0 {
		c.log.Warn("task is not pending; nothing to advance", logx.String("task", name))
		return Advance{Noop: true}, nil
	}
	rec.Undone = slices.Delete(rec.Undone, idx, idx+1)
	rec.Done = append(rec.Done, name)
	if err := c.save(ctx, rec); err != nil {
		return Advance{}, err
	}
	c.log.Info("task marked done", logx.String("task", name), logx.Int("pending", len(rec.Undone)))

	return c.launchNext(ctx, rec, Advance{Completed: name})
}

// Resume launches the first runnable pending task without completing
// anything. It recovers a chain whose launch was lost to a crash.
func (c *Controller) Resume(ctx context.Context) (Advance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(ctx)
	if err != nil {
		return Advance{}, err
	}
	return c.launchNext(ctx, rec, Advance{})
}

func (c *Controller) launchNext(ctx context.Context, rec storage.TaskRecord, adv Advance) (Advance, error) {
	for len(rec.Undone) > 0 {
		next := rec.Undone[0]
		if entry, ok := c.resolver.EntryPoint(next); ok {
			c.log.Info("launching next task", logx.String("task", next), logx.String("entry", entry))
			if err := c.launcher.Launch(ctx, next, entry); err != nil {
				// The task stays at the head of the list for the next attempt.
				return adv, fmt.Errorf("%w: %s: %w", ErrLaunch, next, err)
			}
			adv.Launched = next
			c.publish(adv)
			return adv, nil
		}

		c.log.Warn("task entry point not found; skipping", logx.String("task", next))
		rec.Undone = rec.Undone[1:]
		rec.Done = append(rec.Done, next)
		if err := c.save(ctx, rec); err != nil {
			return adv, err
		}
		adv.Skipped = append(adv.Skipped, next)
	}

	adv.Finished = true
	c.log.Info("all tasks done or no runnable task left", logx.Int("done", len(rec.Done)))
	c.publish(adv)
	return adv, nil
}

// Enqueue appends names to the pending list, ignoring blanks and names the
// record already tracks. It returns the names actually added.
func (c *Controller) Enqueue(ctx context.Context, names ...string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || slices.Contains(rec.Undone, n) || slices.Contains(rec.Done, n) {
			continue
		}
		rec.Undone = append(rec.Undone, n)
		added = append(added, n)
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := c.save(ctx, rec); err != nil {
		return nil, err
	}
	c.log.Info("tasks enqueued", logx.Strings("tasks", added), logx.Int("pending", len(rec.Undone)))
	return added, nil
}

// Status returns a copy of the persisted record.
func (c *Controller) Status(ctx context.Context) (storage.TaskRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *Controller) load(ctx context.Context) (storage.TaskRecord, error) {
	rec, err := c.store.LoadTaskRecord(ctx)
	if err != nil {
		return storage.TaskRecord{}, fmt.Errorf("%w: load: %w", ErrPersist, err)
	}
	if err := rec.Validate(); err != nil {
		return storage.TaskRecord{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return rec.Clone(), nil
}

func (c *Controller) save(ctx context.Context, rec storage.TaskRecord) error {
	if err := c.store.SaveTaskRecord(ctx, rec); err != nil {
		c.log.Error("task record not saved", logx.Err(err))
		return fmt.Errorf("%w: save: %w", ErrPersist, err)
	}
	return nil
}

func (c *Controller) publish(adv Advance) {
	c.bus.Publish(eventbus.Event{Type: eventbus.ChainAdvanced, Data: adv})
}
