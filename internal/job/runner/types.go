package runner

import (
	"context"
	"time"

	"crawlchain/internal/job"
)

const (
	DefaultMinConcurrency = 2
	DefaultMaxConcurrency = 5
	DefaultMaxRetries     = 3
	DefaultAutoscaleEvery = 2 * time.Second
)

// Config controls a Runner.
//
// MaxRetries counts attempts after the first: 0 selects the default, a
// negative value disables retries. MaxJobsPerRun caps how many identifiers
// one Run dispatches; 0 means no cap. RatePerSec paces attempts; 0 means no pacing.
type Config struct {
	MinConcurrency int
	MaxConcurrency int
	MaxRetries     int
	MaxJobsPerRun  int
	RatePerSec     float64
	AutoscaleEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.MinConcurrency <= 0 {
		c.MinConcurrency = min(DefaultMinConcurrency, c.MaxConcurrency)
	}
	if c.MinConcurrency > c.MaxConcurrency {
		c.MinConcurrency = c.MaxConcurrency
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.MaxJobsPerRun < 0 {
		c.MaxJobsPerRun = 0
	}
	if c.AutoscaleEvery <= 0 {
		c.AutoscaleEvery = DefaultAutoscaleEvery
	}
	return c
}

// Tracker receives per-identifier progress.
type Tracker interface {
	RecordVisited(id string)
	RecordSucceeded(id string)
	RecordFailed(id string)
}

// FailureSink receives one entry per terminal job failure.
type FailureSink interface {
	OnFailure(ctx context.Context, e job.ErrorEntry)
}

// Summary describes a finished Run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Dispatched int           `json:"dispatched"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Abandoned  int           `json:"abandoned"`
	Attempts   int           `json:"attempts"`
	Took       time.Duration `json:"took"`
}
