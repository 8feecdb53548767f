package progress

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "crawlchain/pkg/logx"
)

const DefaultInterval = 10 * time.Second

// Reporter logs a Tracker snapshot on a fixed cadence.
type Reporter struct {
	tracker  *Tracker
	log      logx.Logger
	interval time.Duration

	mu      sync.Mutex
	c       *cron.Cron
	unwatch func() bool
}

func NewReporter(t *Tracker, interval time.Duration, log logx.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{tracker: t, interval: interval, log: log.With(logx.String("comp", "progress"))}
}

// Start schedules the periodic report until Stop or until ctx is done.
// Ticks that overlap a slow report are skipped.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.c = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	r.c.Schedule(cron.Every(r.interval), cron.FuncJob(r.Report))
	r.c.Start()
	r.unwatch = context.AfterFunc(ctx, func() { r.Stop(context.Background()) })
	r.log.Debug("reporter started", logx.Duration("interval", r.interval))
}

// Stop halts the cadence, waiting for a running report unless ctx ends first.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	c, unwatch := r.c, r.unwatch
	r.c, r.unwatch = nil, nil
	r.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Report logs one snapshot. A known total of zero logs nothing.
func (r *Reporter) Report() {
	s := r.tracker.Snapshot()
	if s.Total == 0 {
		return
	}
	fields := []logx.Field{
		logx.Int("visited", s.Visited),
		logx.Int("succeeded", s.Succeeded),
		logx.Int("failed", s.Failed),
	}
	if s.TotalKnown() {
		fields = append(fields,
			logx.Int("total", s.Total),
			logx.String("visited_pct", formatPct(s.VisitedPct)),
			logx.String("succeeded_pct", formatPct(s.SucceededPct)),
			logx.String("failed_pct", formatPct(s.FailedPct)),
		)
	} else {
		fields = append(fields, logx.String("total", "unknown"))
	}
	r.log.Info("progress", fields...)
}
