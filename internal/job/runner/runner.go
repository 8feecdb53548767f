// Package runner executes a batch of job identifiers with bounded,
// adaptive concurrency and per-job retries.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"crawlchain/internal/eventbus"
	"crawlchain/internal/job"
	"crawlchain/internal/runtime/supervisor"
	logx "crawlchain/pkg/logx"
)

type Runner struct {
	mu  sync.RWMutex
	cfg Config

	fn      job.Func
	tracker Tracker
	sink    FailureSink
	log     logx.Logger
	bus     eventbus.Bus

	now func() time.Time
}

type Option func(*Runner)

func WithBus(b eventbus.Bus) Option {
	return func(r *Runner) {
		if b != nil {
			r.bus = b
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a Runner. tracker and sink may be nil.
func New(cfg Config, fn job.Func, tracker Tracker, sink FailureSink, log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		cfg:     cfg.withDefaults(),
		fn:      fn,
		tracker: tracker,
		sink:    sink,
		log:     log.With(logx.String("comp", "runner")),
		bus:     eventbus.Nop{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply replaces the configuration used by subsequent runs.
func (r *Runner) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Runner) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

type runState struct {
	id      string
	cfg     Config
	q       *queue
	permits *permits
	limiter *rate.Limiter

	succeeded atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64
	attempts  atomic.Int64
}

// Run dispatches ids in order, each distinct identifier once, and returns
// once every dispatched job has reached a terminal state. Cancelling ctx
// stops dispatch; jobs cut short by cancellation are counted as abandoned
// and never reach the sink.
func (r *Runner) Run(ctx context.Context, ids []string) (Summary, error) {
	if r.fn == nil {
		return Summary{}, ErrNoJobFunc
	}
	cfg := r.Config()
	start := r.now()

	st := &runState{
		id:      uuid.NewString(),
		cfg:     cfg,
		q:       newQueue(ids, cfg.MaxJobsPerRun),
		permits: newPermits(cfg.MinConcurrency, cfg.MaxConcurrency),
	}
	if cfg.RatePerSec > 0 {
		burst := max(1, int(cfg.RatePerSec))
		st.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	log := r.log.With(logx.String("run_id", st.id))
	workers := min(cfg.MaxConcurrency, st.q.dispatchable())
	log.Info("run started",
		logx.Int("total", st.q.distinct()),
		logx.Int("dispatchable", st.q.dispatchable()),
		logx.Int("workers", workers),
		logx.Int("min_active", cfg.MinConcurrency),
		logx.Int("max_retries", cfg.MaxRetries),
	)

	if workers > 0 {
		sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(log))
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			sup.Go0("runner.worker."+strconv.Itoa(i), func(c context.Context) {
				defer wg.Done()
				r.worker(c, st, log)
			})
		}
		drained := make(chan struct{})
		go func() {
			wg.Wait()
			close(drained)
		}()
		sup.Go0("runner.autoscale", func(c context.Context) {
			st.permits.autoscale(c, drained, cfg.AutoscaleEvery, st.q, log)
		})
		<-drained
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}

	sum := Summary{
		RunID:      st.id,
		Total:      st.q.distinct(),
		Dispatched: st.q.dispatched(),
		Succeeded:  int(st.succeeded.Load()),
		Failed:     int(st.failed.Load()),
		Abandoned:  int(st.abandoned.Load()),
		Attempts:   int(st.attempts.Load()),
		Took:       r.now().Sub(start),
	}
	log.Info("run finished",
		logx.Int("dispatched", sum.Dispatched),
		logx.Int("succeeded", sum.Succeeded),
		logx.Int("failed", sum.Failed),
		logx.Int("abandoned", sum.Abandoned),
		logx.Int("attempts", sum.Attempts),
		logx.Duration("took", sum.Took),
	)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (r *Runner) worker(ctx context.Context, st *runState, log logx.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok := st.q.pop()
		if !ok {
			return
		}
		if r.tracker != nil {
			r.tracker.RecordVisited(id)
		}
		if !st.permits.acquire(ctx) {
			r.finish(ctx, st, log, job.Outcome{ID: id, Status: job.StatusAbandoned}, ctx.Err())
			return
		}
		out, err := r.process(ctx, st, id)
		st.permits.release()
		r.finish(ctx, st, log, out, err)
	}
}

// process runs the attempt loop for one identifier.
func (r *Runner) process(ctx context.Context, st *runState, id string) (job.Outcome, error) {
	start := r.now()
	out := job.Outcome{RunID: st.id, ID: id}
	maxAttempts := 1 + st.cfg.MaxRetries

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if st.limiter != nil {
			if err := st.limiter.Wait(ctx); err != nil {
				lastErr = ctx.Err()
				break
			}
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		out.Attempts = attempt
		st.attempts.Add(1)
		err := r.attempt(ctx, id)
		if err == nil {
			out.Status = job.StatusSucceeded
			out.Took = r.now().Sub(start)
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil || IsNoRetry(err) {
			break
		}
		if attempt < maxAttempts {
			r.log.Debug("job attempt failed; retrying",
				logx.String("id", id),
				logx.Int("attempt", attempt),
				logx.Int("max_attempts", maxAttempts),
				logx.Err(err),
			)
		}
	}

	out.Took = r.now().Sub(start)
	if ctx.Err() != nil {
		out.Status = job.StatusAbandoned
	} else {
		out.Status = job.StatusFailed
	}
	return out, lastErr
}

func (r *Runner) attempt(ctx context.Context, id string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("job panic",
				logx.String("id", id),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())),
			)
			err = NoRetry(fmt.Errorf("panic: %v", rec))
		}
	}()
	return r.fn(ctx, id)
}

func (r *Runner) finish(ctx context.Context, st *runState, log logx.Logger, out job.Outcome, err error) {
	out.RunID = st.id
	if err != nil {
		out.Error = errorMessage(err)
	}

	evt := eventbus.JobSucceeded
	switch out.Status {
	case job.StatusSucceeded:
		st.succeeded.Add(1)
		if r.tracker != nil {
			r.tracker.RecordSucceeded(out.ID)
		}
		log.Debug("job succeeded", logx.String("id", out.ID), logx.Int("attempts", out.Attempts), logx.Duration("took", out.Took))
	case job.StatusFailed:
		evt = eventbus.JobFailed
		st.failed.Add(1)
		if r.tracker != nil {
			r.tracker.RecordFailed(out.ID)
		}
		log.Warn("job failed", logx.String("id", out.ID), logx.Int("attempts", out.Attempts), logx.String("error", out.Error))
		if r.sink != nil {
			r.sink.OnFailure(ctx, job.ErrorEntry{ID: out.ID, At: r.now(), Message: out.Error})
		}
	default:
		evt = eventbus.JobAbandoned
		st.abandoned.Add(1)
		log.Debug("job abandoned", logx.String("id", out.ID), logx.Int("attempts", out.Attempts))
	}
	r.bus.Publish(eventbus.Event{Type: evt, Data: out})
}

// errorMessage strips the no-retry marker so escalations show the cause.
func errorMessage(err error) string {
	var nr noRetryError
	if errors.As(err, &nr) && nr.err != nil {
		return nr.err.Error()
	}
	return err.Error()
}
