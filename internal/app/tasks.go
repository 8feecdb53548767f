package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crawlchain/internal/alert/aggregator"
	"crawlchain/internal/chain"
	"crawlchain/internal/config"
	"crawlchain/internal/job/progress"
	"crawlchain/internal/job/runner"
	"crawlchain/internal/jobsource"
	"crawlchain/internal/storage"
	"crawlchain/internal/visit"
	logx "crawlchain/pkg/logx"
)

// RunResult describes one task run.
type RunResult struct {
	Task     string            `json:"task"`
	Summary  runner.Summary    `json:"summary"`
	Progress progress.Snapshot `json:"progress"`
	Rows     int               `json:"rows"`
	// Advance is set when the run completed and the chain moved on.
	Advance *chain.Advance `json:"advance,omitempty"`
}

// StartTask resets the email throttle and runs name. It is the entry point
// for a fresh chain, as opposed to a task launched by its predecessor.
func (a *App) StartTask(ctx context.Context, name string) (*RunResult, error) {
	if err := a.store.ResetEscalationState(ctx); err != nil {
		return nil, fmt.Errorf("reset escalation state: %w", err)
	}
	return a.RunTask(ctx, name)
}

// RunTask loads the task folder, visits every job identifier and, once the
// run ends without cancellation, marks the task done and launches the next one.
func (a *App) RunTask(ctx context.Context, name string) (*RunResult, error) {
	entry, ok := a.resolver.EntryPoint(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	def, err := config.LoadTaskDefinition(entry)
	if err != nil {
		return nil, err
	}
	log := a.log.With(logx.String("task", name))

	ids, err := jobsource.Load(ctx, def.SourcePaths(), jobsource.Filter{Include: def.Include, Exclude: def.Exclude}, log)
	if err != nil {
		return nil, err
	}

	cfg := a.cfgm.Get()
	rcfg, err := mapRunnerConfig(config.MergeRunner(cfg.Runner, def.Runner))
	if err != nil {
		return nil, err
	}
	vcfg, err := mapVisitConfig(config.MergeVisit(cfg.Visit, def.Visit))
	if err != nil {
		return nil, err
	}
	acfg, err := mapAlertConfig(cfg, def.Label)
	if err != nil {
		return nil, err
	}
	interval, err := progressInterval(cfg)
	if err != nil {
		return nil, err
	}

	fetcher, err := visit.NewFetcher(vcfg, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			log.Warn("close fetcher failed", logx.Err(err))
		}
	}()

	var out visit.RowWriter
	var dataset *visit.Dataset
	if len(def.Selectors) > 0 {
		dataset, err = visit.OpenDataset(def.OutputPath(), visit.Columns(def.Selectors))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := dataset.Close(); err != nil {
				log.Warn("close dataset failed", logx.Err(err))
			}
		}()
		out = dataset
	}
	visitor, err := visit.NewVisitor(fetcher, def.Selectors, def.Required, out, vcfg.Timeout, log)
	if err != nil {
		return nil, err
	}

	total := len(ids)
	if rcfg.MaxJobsPerRun > 0 && total > rcfg.MaxJobsPerRun {
		total = rcfg.MaxJobsPerRun
	}
	tracker := progress.NewTracker()
	tracker.SetTotal(total)
	reporter := progress.NewReporter(tracker, interval, log)
	a.status.Handle("progress", func(context.Context) (any, error) {
		return struct {
			Task string `json:"task"`
			progress.Snapshot
		}{name, tracker.Snapshot()}, nil
	})

	agg := aggregator.New(acfg, a.esc, log, aggregator.WithBus(a.bus))
	run := runner.New(rcfg, visitor.Visit, tracker, agg, log, runner.WithBus(a.bus))

	log.Info("task started", logx.Int("jobs", len(ids)), logx.String("driver", vcfg.Driver))
	reporter.Start(ctx)
	summary, runErr := run.Run(ctx, ids)
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	reporter.Stop(stopCtx)
	cancel()
	reporter.Report()

	res := &RunResult{Task: name, Summary: summary, Progress: tracker.Snapshot()}
	if dataset != nil {
		res.Rows = dataset.Rows()
	}
	if runErr != nil {
		log.Warn("task interrupted; chain not advanced",
			logx.Int("succeeded", summary.Succeeded),
			logx.Int("abandoned", summary.Abandoned),
			logx.Err(runErr),
		)
		return res, runErr
	}
	log.Info("task finished",
		logx.String("run_id", summary.RunID),
		logx.Int("succeeded", summary.Succeeded),
		logx.Int("failed", summary.Failed),
		logx.Duration("took", summary.Took),
	)

	adv, err := a.chain.CompleteAndAdvance(ctx, name)
	if err != nil {
		return res, err
	}
	res.Advance = &adv
	return res, nil
}

// List returns the task folders with their chain state.
func (a *App) List(ctx context.Context) ([]TaskInfo, error) {
	folders, err := a.resolver.List()
	if err != nil {
		return nil, err
	}
	rec, err := a.chain.Status(ctx)
	if err != nil {
		return nil, err
	}
	state := make(map[string]string, len(rec.Undone)+len(rec.Done))
	for _, n := range rec.Undone {
		state[n] = TaskPending
	}
	for _, n := range rec.Done {
		state[n] = TaskDone
	}
	out := make([]TaskInfo, 0, len(folders))
	for _, f := range folders {
		out = append(out, TaskInfo{Name: f.Name, Runnable: f.Runnable(), State: state[f.Name]})
	}
	return out, nil
}

const (
	TaskPending = "pending"
	TaskDone    = "done"
)

// TaskInfo is one row of List. State is empty for folders outside the chain.
type TaskInfo struct {
	Name     string `json:"name"`
	Runnable bool   `json:"runnable"`
	State    string `json:"state,omitempty"`
}

// NewTask scaffolds a task folder from the template directory and optionally
// appends it to the pending list.
func (a *App) NewTask(ctx context.Context, name, templateDir string, enqueue bool) (string, error) {
	if templateDir == "" {
		templateDir = a.templateDir
	}
	task, err := chain.Scaffold(templateDir, a.tasksDir, name, a.now())
	if err != nil {
		return "", err
	}
	a.log.Info("task created", logx.String("task", task))
	if enqueue {
		if _, err := a.chain.Enqueue(ctx, task); err != nil {
			return task, err
		}
	}
	return task, nil
}

// Archive moves the folders of finished tasks into the archive directory.
func (a *App) Archive(ctx context.Context) ([]string, error) {
	rec, err := a.chain.Status(ctx)
	if err != nil {
		return nil, err
	}
	moved, err := chain.Archive(a.tasksDir, a.archiveDir, rec.Done)
	for _, n := range moved {
		a.log.Info("task archived", logx.String("task", n))
	}
	return moved, err
}

// Advance marks name done and launches the next pending task.
func (a *App) Advance(ctx context.Context, name string) (chain.Advance, error) {
	return a.chain.CompleteAndAdvance(ctx, name)
}

// Resume launches the head of the pending list.
func (a *App) Resume(ctx context.Context) (chain.Advance, error) {
	return a.chain.Resume(ctx)
}

// Enqueue appends names to the pending list and returns those added.
func (a *App) Enqueue(ctx context.Context, names ...string) ([]string, error) {
	return a.chain.Enqueue(ctx, names...)
}

// Status returns the persisted task record.
func (a *App) Status(ctx context.Context) (storage.TaskRecord, error) {
	return a.chain.Status(ctx)
}

// IsCanceled reports whether err ends a run because of cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
